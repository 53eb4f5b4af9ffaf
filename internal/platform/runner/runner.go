// Package runner 按平台配方驱动上传工作流
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/config"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/session"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
	"github.com/ew384/social-auto-upload-sub000/internal/utils"
)

// progressBuffer 足够容纳一次上传的全部进度事件
const progressBuffer = 128

// Options 工作流选项
type Options struct {
	Timeout          time.Duration // 整个工作流的上限，优先于步骤超时
	UserInputTimeout time.Duration // 等待人工选择文件的上限
	PollInterval     time.Duration
}

// OptionsFromConfig 由配置生成选项，未设置的字段取默认值
func OptionsFromConfig(cfg config.WorkflowConfig) Options {
	opts := Options{
		Timeout:          config.DefaultWorkflowTimeout,
		UserInputTimeout: config.DefaultUserInputTimeout,
		PollInterval:     config.DefaultPollInterval,
	}
	if cfg.Timeout.Duration > 0 {
		opts.Timeout = cfg.Timeout.Duration
	}
	if cfg.UserInputTimeout.Duration > 0 {
		opts.UserInputTimeout = cfg.UserInputTimeout.Duration
	}
	if cfg.PollInterval.Duration > 0 {
		opts.PollInterval = cfg.PollInterval.Duration
	}
	return opts
}

// Runner 上传工作流执行器，本身无状态，可被多个租约并发使用
type Runner struct {
	shell   browser.Shell
	book    *recipe.Book
	options Options
	now     func() time.Time
}

// New 创建执行器
func New(shell browser.Shell, book *recipe.Book, cfg config.WorkflowConfig) *Runner {
	return &Runner{
		shell:   shell,
		book:    book,
		options: OptionsFromConfig(cfg),
		now:     time.Now,
	}
}

// Run 一次正在执行的工作流
type Run struct {
	progress chan types.Progress
	done     chan struct{}
	outcome  types.Outcome
}

// Progress 进度事件，工作流结束后关闭；调用方应持续读取
func (r *Run) Progress() <-chan types.Progress {
	return r.progress
}

// Done 工作流结束时关闭
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait 等待并返回结果
func (r *Run) Wait() types.Outcome {
	<-r.done
	return r.outcome
}

// Start 在租约的标签页上异步执行上传
func (rn *Runner) Start(ctx context.Context, lease *session.Lease, req types.WorkflowRequest) *Run {
	run := &Run{
		progress: make(chan types.Progress, progressBuffer),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(run.done)
		defer close(run.progress)
		run.outcome = rn.execute(ctx, lease, req, func(p types.Progress) {
			select {
			case run.progress <- p:
			case <-ctx.Done():
			}
		})
	}()
	return run
}

// Execute 同步执行上传，进度通过 onProgress 回调（可为 nil）
func (rn *Runner) Execute(ctx context.Context, lease *session.Lease, req types.WorkflowRequest, onProgress func(types.Progress)) types.Outcome {
	if onProgress == nil {
		onProgress = func(types.Progress) {}
	}
	return rn.execute(ctx, lease, req, onProgress)
}

func (rn *Runner) execute(parent context.Context, lease *session.Lease, req types.WorkflowRequest, emit func(types.Progress)) types.Outcome {
	start := rn.now()
	platformName := req.Platform.String()

	if err := checkLease(lease, req); err != nil {
		return rn.finish(req, start, "", err, false)
	}
	if err := req.Validate(); err != nil {
		return rn.finish(req, start, "", err, false)
	}
	r, err := rn.book.Get(req.Platform)
	if err != nil {
		return rn.finish(req, start, "", err, false)
	}
	steps, err := r.UploadSteps(req, start)
	if err != nil {
		return rn.finish(req, start, "", types.NewInvalidRequest("%v", err), false)
	}

	ctx, cancel := context.WithTimeout(parent, rn.options.Timeout)
	defer cancel()

	report := func(p types.Progress) {
		p.CredentialID = lease.CredentialID
		p.Platform = req.Platform
		p.At = rn.now()
		emit(p)
	}

	utils.InfoWithPlatform(platformName, fmt.Sprintf("[+] 开始上传: %s (%d 个步骤)", req.Title, len(steps)))
	state := types.StateStarted
	report(types.Progress{Kind: types.ProgressState, State: state})

	published := false
	for _, step := range steps {
		report(types.Progress{Kind: types.ProgressStep, Step: step.Name, State: state})
		utils.DebugWithPlatform(platformName, fmt.Sprintf("[-] 步骤 %s (%s)", step.Name, step.Kind))

		stepStart := rn.now()
		err := rn.runStep(ctx, lease.TabID, r, step, report)
		metricStepDuration.WithLabelValues(platformName, string(step.Kind)).Observe(time.Since(stepStart).Seconds())
		if err != nil {
			capped := errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil
			report(types.Progress{Kind: types.ProgressState, State: types.StateFailed, Step: step.Name, Reason: reasonFor(step.Name, err, capped)})
			return rn.finish(req, start, step.Name, err, capped)
		}

		if step.Stage == "" || step.Stage.Rank() <= state.Rank() {
			continue
		}
		switch step.Stage {
		case types.StatePublishing:
			published = state == types.StateReadyToPublish
		case types.StateSubmitted:
			if !published {
				err := types.NewInvalidRequest("recipe %s reached %s without publishing from %s", r.Platform, step.Stage, types.StateReadyToPublish)
				report(types.Progress{Kind: types.ProgressState, State: types.StateFailed, Step: step.Name, Reason: reasonFor(step.Name, err, false)})
				return rn.finish(req, start, step.Name, err, false)
			}
		}
		state = step.Stage
		utils.InfoWithPlatform(platformName, fmt.Sprintf("[-] 状态 -> %s", state))
		report(types.Progress{Kind: types.ProgressState, State: state, Step: step.Name})
	}

	if state != types.StateSubmitted {
		err := types.NewInvalidRequest("recipe %s ended in state %s", r.Platform, state)
		report(types.Progress{Kind: types.ProgressState, State: types.StateFailed, Reason: reasonFor("", err, false)})
		return rn.finish(req, start, "", err, false)
	}
	return rn.finish(req, start, "", nil, false)
}

// finish 生成结果、记录日志与指标
func (rn *Runner) finish(req types.WorkflowRequest, start time.Time, step string, err error, capped bool) types.Outcome {
	platformName := req.Platform.String()
	outcome := outcomeFor(step, err, capped)
	outcome.FinishedAt = rn.now()
	metricOutcomes.WithLabelValues(platformName, string(outcome.Kind)).Inc()

	elapsed := outcome.FinishedAt.Sub(start).Round(time.Millisecond)
	if outcome.Succeeded() {
		utils.SuccessWithPlatform(platformName, fmt.Sprintf("[+] 上传完成: %s (耗时 %s)", req.Title, elapsed))
	} else {
		utils.ErrorWithPlatform(platformName, fmt.Sprintf("[-] 上传失败: %s, %s: %v", req.Title, outcome, err))
	}
	return outcome
}

func checkLease(lease *session.Lease, req types.WorkflowRequest) error {
	switch {
	case lease == nil:
		return types.NewInvalidRequest("no lease")
	case lease.Released():
		return types.NewInvalidRequest("lease %s already released", lease.ID)
	case lease.ForLogin:
		return types.NewInvalidRequest("lease %s is for login only", lease.ID)
	case lease.Platform != req.Platform:
		return types.NewInvalidRequest("lease platform %s does not match request platform %s", lease.Platform, req.Platform)
	case req.CredentialID != "" && req.CredentialID != lease.CredentialID:
		return types.NewInvalidRequest("lease credential %s does not match request credential %s", lease.CredentialID, req.CredentialID)
	}
	return nil
}

// rejection 平台页面给出了错误提示
type rejection struct {
	step    string
	message string
}

func (e *rejection) Error() string {
	return fmt.Sprintf("step %s rejected: %s", e.step, e.message)
}

// outcomeFor 错误到结果的映射
func outcomeFor(step string, err error, capped bool) types.Outcome {
	if err == nil {
		return types.Outcome{Kind: types.OutcomeSubmitted}
	}
	var rej *rejection
	switch {
	case capped || errors.Is(err, types.ErrStepTimeout):
		return types.Outcome{Kind: types.OutcomeTimedOut, Reason: reasonFor(step, err, capped), Err: err}
	case errors.As(err, &rej):
		return types.Outcome{Kind: types.OutcomeRejected, Reason: rej.message, Err: err}
	default:
		return types.Outcome{Kind: types.OutcomeInfrastructureFailed, Reason: reasonFor(step, err, false), Err: err}
	}
}

// reasonFor 失败原因，形如 timeout:<step>、script:<step>
func reasonFor(step string, err error, capped bool) string {
	var rej *rejection
	switch {
	case capped:
		return "timeout:workflow"
	case errors.Is(err, types.ErrStepTimeout):
		return "timeout:" + step
	case errors.As(err, &rej):
		return rej.message
	case errors.Is(err, types.ErrScriptError):
		return "script:" + step
	case errors.Is(err, types.ErrCancelled):
		return "cancelled"
	}
	kind := string(types.KindOf(err))
	if kind == "" {
		kind = "error"
	}
	if step == "" {
		return fmt.Sprintf("%s: %v", kind, err)
	}
	return kind + ":" + step
}
