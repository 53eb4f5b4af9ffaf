package scheduler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/config"
	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/database"
	"github.com/ew384/social-auto-upload-sub000/internal/platform"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser/browsertest"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/douyin"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/runner"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/session"
	"github.com/ew384/social-auto-upload-sub000/internal/scheduler"
	"github.com/ew384/social-auto-upload-sub000/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type env struct {
	shell *browsertest.Shell
	db    *gorm.DB
	store *database.AccountStore
	orch  *session.Orchestrator
	sched *scheduler.Scheduler
	dir   string
	video string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	shell := browsertest.NewShell(t)
	client := browser.NewClient(shell.Config())
	dir := t.TempDir()

	db, err := database.Open(filepath.Join(dir, "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	store := database.NewAccountStore(db)

	book := platform.DefaultBook()
	orch := session.New(client, store, book, config.SessionConfig{
		RehydrateAttempts: 2,
		CookieLoadWait:    config.Duration{Duration: time.Millisecond},
		RefreshWait:       config.Duration{Duration: 10 * time.Millisecond},
		AuthProbeWait:     config.Duration{Duration: 10 * time.Millisecond},
		PollInterval:      config.Duration{Duration: 5 * time.Millisecond},
	})
	rn := runner.New(client, book, config.WorkflowConfig{
		Timeout:          config.Duration{Duration: 5 * time.Second},
		UserInputTimeout: config.Duration{Duration: time.Second},
		PollInterval:     config.Duration{Duration: 5 * time.Millisecond},
	})
	sched := scheduler.New(db, orch, rn, scheduler.Options{Workers: 2, PollInterval: 20 * time.Millisecond})
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })

	video := filepath.Join(dir, "a.mp4")
	require.NoError(t, os.WriteFile(video, []byte("not really a video"), 0644))

	// 点击发布后跳转到作品管理页
	shell.OnClick = func(tabID, _ string, text string) {
		if text == "发布" {
			shell.SetURL(tabID, "https://"+douyin.ManagePath)
		}
	}

	return &env{shell: shell, db: db, store: store, orch: orch, sched: sched, dir: dir, video: video}
}

func (e *env) addCredential(t *testing.T) credential.Credential {
	t.Helper()
	id := credential.NewID()
	path := credential.PathFor(filepath.Join(e.dir, "cookies"), id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{"cookies":[{"name":"sessionid","value":"v","domain":".douyin.com","path":"/","expires":-1,"sameSite":"Lax"}],"origins":[]}`), 0644))
	cred := credential.Credential{ID: id, Platform: types.PlatformDouyin, Username: "u", Path: path}
	require.NoError(t, e.store.Save(context.Background(), cred))
	return cred
}

func (e *env) task(credentialID string) *database.ScheduledTask {
	return &database.ScheduledTask{
		CredentialID: credentialID,
		Platform:     int(types.PlatformDouyin),
		VideoPath:    e.video,
		Title:        "t",
		Tags:         []string{"x", "y"},
	}
}

func (e *env) waitFinished(t *testing.T, id string) *database.ScheduledTask {
	t.Helper()
	var task *database.ScheduledTask
	require.Eventually(t, func() bool {
		got, err := e.sched.GetTask(context.Background(), id)
		if err != nil {
			return false
		}
		task = got
		return got.Status == database.TaskStatusCompleted || got.Status == database.TaskStatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func TestSchedulerRunsDueTask(t *testing.T) {
	e := newEnv(t)
	cred := e.addCredential(t)
	require.NoError(t, e.sched.Start())

	task := e.task(cred.ID)
	require.NoError(t, e.sched.AddTask(context.Background(), task))
	require.NotEmpty(t, task.ID)

	done := e.waitFinished(t, task.ID)
	assert.Equal(t, database.TaskStatusCompleted, done.Status, done.Error)
	assert.Equal(t, string(types.OutcomeSubmitted), done.Outcome)
	assert.Empty(t, done.Error)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, []string{"x", "y"}, done.Tags)

	assert.Zero(t, e.orch.LiveLeases())
	stored, err := e.store.Get(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, credential.VerdictValid, stored.Verdict)
}

func TestSchedulerWaitsForScheduleTime(t *testing.T) {
	e := newEnv(t)
	cred := e.addCredential(t)
	require.NoError(t, e.sched.Start())

	task := e.task(cred.ID)
	task.ScheduleTime = time.Now().Add(200 * time.Millisecond)
	require.NoError(t, e.sched.AddTask(context.Background(), task))

	pending, err := e.sched.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, database.TaskStatusPending, pending.Status)
	assert.Zero(t, e.shell.Calls("create"))

	done := e.waitFinished(t, task.ID)
	assert.Equal(t, database.TaskStatusCompleted, done.Status, done.Error)
	assert.False(t, done.StartedAt.Before(task.ScheduleTime.Add(-time.Second)))
}

func TestSchedulerSerializesSameCredential(t *testing.T) {
	e := newEnv(t)
	cred := e.addCredential(t)

	first, second := e.task(cred.ID), e.task(cred.ID)
	second.Title = "t2"
	require.NoError(t, e.sched.AddTask(context.Background(), first))
	require.NoError(t, e.sched.AddTask(context.Background(), second))
	require.NoError(t, e.sched.Start())

	for _, id := range []string{first.ID, second.ID} {
		done := e.waitFinished(t, id)
		assert.Equal(t, database.TaskStatusCompleted, done.Status, done.Error)
	}
	assert.Equal(t, 1, e.shell.Calls("create"))
}

func TestSchedulerRecordsAcquireFailure(t *testing.T) {
	e := newEnv(t)
	cred := e.addCredential(t)
	e.shell.SetStale(cred.Path, douyin.LoginURL+"login")
	require.NoError(t, e.sched.Start())

	task := e.task(cred.ID)
	require.NoError(t, e.sched.AddTask(context.Background(), task))

	done := e.waitFinished(t, task.ID)
	assert.Equal(t, database.TaskStatusFailed, done.Status)
	assert.Equal(t, string(types.OutcomeInfrastructureFailed), done.Outcome)
	assert.Equal(t, "acquire:credential_stale", done.Error)
	assert.Empty(t, e.shell.Tabs())
}

func TestSchedulerMarksInterruptedTasks(t *testing.T) {
	e := newEnv(t)
	cred := e.addCredential(t)

	stuck := e.task(cred.ID)
	stuck.ID = credential.NewID()
	stuck.Status = database.TaskStatusRunning
	stuck.ScheduleTime = time.Now().Add(-time.Hour)
	require.NoError(t, e.db.Create(stuck).Error)

	require.NoError(t, e.sched.Start())

	got, err := e.sched.GetTask(context.Background(), stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, database.TaskStatusFailed, got.Status)
	assert.Equal(t, "interrupted", got.Error)
	assert.Zero(t, e.shell.Calls("create"))
}

func TestAddTaskValidation(t *testing.T) {
	e := newEnv(t)
	cred := e.addCredential(t)

	textFile := filepath.Join(e.dir, "notes.txt")
	require.NoError(t, os.WriteFile(textFile, []byte("x"), 0644))

	tests := []struct {
		name   string
		mutate func(*database.ScheduledTask)
	}{
		{"no credential", func(task *database.ScheduledTask) { task.CredentialID = "" }},
		{"unknown platform", func(task *database.ScheduledTask) { task.Platform = 42 }},
		{"relative path", func(task *database.ScheduledTask) { task.VideoPath = "a.mp4" }},
		{"missing file", func(task *database.ScheduledTask) { task.VideoPath = filepath.Join(e.dir, "missing.mp4") }},
		{"directory", func(task *database.ScheduledTask) { task.VideoPath = e.dir }},
		{"not a video", func(task *database.ScheduledTask) { task.VideoPath = textFile }},
		{"empty title", func(task *database.ScheduledTask) { task.Title = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := e.task(cred.ID)
			tt.mutate(task)
			err := e.sched.AddTask(context.Background(), task)
			assert.True(t, errors.Is(err, types.ErrInvalidRequest), "got %v", err)
		})
	}

	tasks, err := e.sched.ListTasks(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCancelTask(t *testing.T) {
	e := newEnv(t)
	cred := e.addCredential(t)

	task := e.task(cred.ID)
	task.ScheduleTime = time.Now().Add(time.Hour)
	require.NoError(t, e.sched.AddTask(context.Background(), task))

	pending, err := e.sched.ListTasks(context.Background(), database.TaskStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, e.sched.CancelTask(context.Background(), task.ID))
	got, err := e.sched.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, database.TaskStatusFailed, got.Status)
	assert.Equal(t, "cancelled", got.Error)

	err = e.sched.CancelTask(context.Background(), task.ID)
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))

	err = e.sched.CancelTask(context.Background(), credential.NewID())
	assert.True(t, errors.Is(err, scheduler.ErrTaskNotFound))
}

func TestStopIsIdempotent(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.sched.Start())
	require.NoError(t, e.sched.Stop(context.Background()))
	require.NoError(t, e.sched.Stop(context.Background()))
	// 停止后不再启动
	require.NoError(t, e.sched.Start())
}
