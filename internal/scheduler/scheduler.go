// Package scheduler 持久化上传任务的调度与执行
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/database"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/runner"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/session"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
	"github.com/ew384/social-auto-upload-sub000/internal/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultPollInterval = 10 * time.Second
	queueSize           = 100
)

var videoExtensions = map[string]bool{".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true}

// ErrTaskNotFound 任务不存在
var ErrTaskNotFound = errors.New("task not found")

// Options 调度器选项
type Options struct {
	Workers      int
	PollInterval time.Duration
}

// Scheduler 上传任务调度器
//
// 到期的任务由 N 个工作协程执行：获取会话、运行上传工作流、释放会话、记录结果。
// 同一凭证的任务由会话编排器串行化，不同凭证并行。
type Scheduler struct {
	db       *gorm.DB
	sessions *session.Orchestrator
	runner   *runner.Runner
	options  Options
	now      func() time.Time

	taskQueue chan string
	queued    map[string]bool
	stopChan  chan struct{}
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	stopped   bool
}

func New(db *gorm.DB, sessions *session.Orchestrator, rn *runner.Runner, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		db:        db,
		sessions:  sessions,
		runner:    rn,
		options:   opts,
		now:       time.Now,
		taskQueue: make(chan string, queueSize),
		queued:    make(map[string]bool),
		stopChan:  make(chan struct{}),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
}

// Start 启动工作协程和到期任务轮询；上次进程退出时仍在执行的任务标记为失败
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	interrupted := s.db.Model(&database.ScheduledTask{}).
		Where("status = ?", database.TaskStatusRunning).
		Updates(map[string]interface{}{
			"status":       database.TaskStatusFailed,
			"outcome":      string(types.OutcomeInfrastructureFailed),
			"error":        "interrupted",
			"completed_at": s.now(),
		})
	if interrupted.Error != nil {
		return fmt.Errorf("recover running tasks failed: %w", interrupted.Error)
	}
	if interrupted.RowsAffected > 0 {
		utils.Warn(fmt.Sprintf("[-] %d 个任务在上次退出时未完成，已标记为失败", interrupted.RowsAffected))
	}

	for i := 0; i < s.options.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.wg.Add(1)
	go s.scheduler()

	utils.Info(fmt.Sprintf("[+] 调度器已启动，工作线程数: %d", s.options.Workers))
	return nil
}

// Stop 停止接收新任务并等待执行中的任务结束；ctx 结束时取消仍在执行的任务
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.stopped = true
		s.mu.Unlock()
		s.cancelRun()
		return nil
	}
	s.running = false
	s.stopped = true
	s.mu.Unlock()

	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		utils.Warn("[-] 等待任务结束超时，取消执行中的任务")
		s.cancelRun()
		<-done
		err = ctx.Err()
	}
	s.cancelRun()
	utils.Info("[+] 调度器已停止")
	return err
}

// AddTask 校验并保存任务，已到期的任务立即入队
func (s *Scheduler) AddTask(ctx context.Context, task *database.ScheduledTask) error {
	if task.CredentialID == "" {
		return types.NewInvalidRequest("task has no credential")
	}
	if err := task.Request().Validate(); err != nil {
		return err
	}
	if err := checkVideo(task.VideoPath); err != nil {
		return err
	}

	now := s.now()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.ScheduleTime.IsZero() {
		task.ScheduleTime = now
	}
	task.Status = database.TaskStatusPending
	task.Outcome = ""
	task.Error = ""
	task.StartedAt = nil
	task.CompletedAt = nil

	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("保存任务失败: %w", err)
	}
	utils.InfoWithPlatform(types.Platform(task.Platform).String(), fmt.Sprintf("[+] 任务已添加: %s (%s)", task.ID, task.Title))

	if !task.ScheduleTime.After(now) {
		s.enqueue(task.ID)
	}
	return nil
}

// GetTask 按 ID 查询任务
func (s *Scheduler) GetTask(ctx context.Context, id string) (*database.ScheduledTask, error) {
	var task database.ScheduledTask
	err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query task failed: %w", err)
	}
	return &task, nil
}

// ListTasks 按状态列出任务，status 为空时返回全部
func (s *Scheduler) ListTasks(ctx context.Context, status database.TaskStatus) ([]database.ScheduledTask, error) {
	var tasks []database.ScheduledTask
	q := s.db.WithContext(ctx).Order("schedule_time ASC, created_at ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("query tasks failed: %w", err)
	}
	return tasks, nil
}

// CancelTask 取消尚未开始的任务
func (s *Scheduler) CancelTask(ctx context.Context, id string) error {
	now := s.now()
	result := s.db.WithContext(ctx).Model(&database.ScheduledTask{}).
		Where("id = ? AND status = ?", id, database.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":       database.TaskStatusFailed,
			"outcome":      string(types.OutcomeInfrastructureFailed),
			"error":        "cancelled",
			"completed_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("cancel task failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetTask(ctx, id); err != nil {
			return err
		}
		return types.NewInvalidRequest("task %s is not pending", id)
	}
	return nil
}

func (s *Scheduler) enqueue(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.queued[id] {
		return
	}
	select {
	case s.taskQueue <- id:
		s.queued[id] = true
	default:
		// 队列已满，下一轮轮询再入队
	}
}

func (s *Scheduler) dequeued(id string) {
	s.mu.Lock()
	delete(s.queued, id)
	s.mu.Unlock()
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		case taskID := <-s.taskQueue:
			s.dequeued(taskID)
			select {
			case <-s.stopChan:
				return
			default:
			}
			s.executeTask(taskID)
		}
	}
}

func (s *Scheduler) scheduler() {
	defer s.wg.Done()

	s.checkPendingTasks()
	ticker := time.NewTicker(s.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.checkPendingTasks()
		}
	}
}

func (s *Scheduler) checkPendingTasks() {
	var ids []string
	err := s.db.Model(&database.ScheduledTask{}).
		Where("status = ? AND schedule_time <= ?", database.TaskStatusPending, s.now()).
		Order("priority DESC, schedule_time ASC").
		Pluck("id", &ids).Error
	if err != nil {
		utils.Warn(fmt.Sprintf("[-] 查询到期任务失败: %v", err))
		return
	}
	for _, id := range ids {
		s.enqueue(id)
	}
}

// claim 把待执行任务置为执行中，已被其他工作协程领取或已取消时返回 false
func (s *Scheduler) claim(id string) (bool, error) {
	now := s.now()
	result := s.db.Model(&database.ScheduledTask{}).
		Where("id = ? AND status = ?", id, database.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":     database.TaskStatusRunning,
			"started_at": now,
		})
	return result.RowsAffected == 1, result.Error
}

func (s *Scheduler) executeTask(id string) {
	ok, err := s.claim(id)
	if err != nil {
		utils.Warn(fmt.Sprintf("[-] 领取任务 %s 失败: %v", id, err))
		return
	}
	if !ok {
		return
	}

	task, err := s.GetTask(context.Background(), id)
	if err != nil {
		utils.Warn(fmt.Sprintf("[-] 读取任务 %s 失败: %v", id, err))
		return
	}
	platform := types.Platform(task.Platform)
	utils.InfoWithPlatform(platform.String(), fmt.Sprintf("[-] 开始执行任务: %s", task.ID))

	outcome := s.run(task)
	s.finishTask(task, outcome)
}

func (s *Scheduler) run(task *database.ScheduledTask) types.Outcome {
	req := task.Request()
	lease, err := s.sessions.Acquire(s.runCtx, task.CredentialID, req.Platform)
	if err != nil {
		return types.Outcome{
			Kind:       types.OutcomeInfrastructureFailed,
			Reason:     "acquire:" + reasonOf(err),
			Err:        err,
			FinishedAt: s.now(),
		}
	}
	defer s.sessions.Release(lease)

	return s.runner.Execute(s.runCtx, lease, req, nil)
}

func (s *Scheduler) finishTask(task *database.ScheduledTask, outcome types.Outcome) {
	status := database.TaskStatusFailed
	if outcome.Succeeded() {
		status = database.TaskStatusCompleted
	}
	now := s.now()
	task.Status = status
	task.Outcome = string(outcome.Kind)
	task.Error = outcome.Reason
	task.CompletedAt = &now

	// 任务结果必须落库，不受取消影响
	err := s.db.Model(&database.ScheduledTask{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
		"status":       status,
		"outcome":      task.Outcome,
		"error":        task.Error,
		"completed_at": now,
	}).Error
	if err != nil {
		utils.Error(fmt.Sprintf("[-] 保存任务 %s 结果失败: %v", task.ID, err))
	}
	metricTasks.WithLabelValues(string(status)).Inc()

	platformName := types.Platform(task.Platform).String()
	if outcome.Succeeded() {
		utils.SuccessWithPlatform(platformName, fmt.Sprintf("[+] 任务完成: %s", task.ID))
	} else {
		utils.WarnWithPlatform(platformName, fmt.Sprintf("[-] 任务失败: %s %s", task.ID, outcome))
	}
}

// checkVideo 确认视频文件存在且格式受支持
func checkVideo(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return types.NewInvalidRequest("video file not accessible: %v", err)
	}
	if info.IsDir() {
		return types.NewInvalidRequest("video path is a directory: %s", path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !videoExtensions[ext] {
		return types.NewInvalidRequest("unsupported video format: %s", ext)
	}
	return nil
}

func reasonOf(err error) string {
	if kind := types.KindOf(err); kind != "" {
		return string(kind)
	}
	return err.Error()
}
