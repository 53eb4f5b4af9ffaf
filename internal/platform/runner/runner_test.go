package runner_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/config"
	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/platform"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser/browsertest"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/douyin"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/runner"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/session"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/tencent"
	"github.com/ew384/social-auto-upload-sub000/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioCredential = "11111111-1111-1111-1111-111111111111"

var fullProgression = []types.UploadState{
	types.StateStarted,
	types.StateUploading,
	types.StateMetadataSet,
	types.StateEncoding,
	types.StateReadyToPublish,
	types.StatePublishing,
	types.StateSubmitted,
}

type env struct {
	shell  *browsertest.Shell
	store  *credential.MemoryStore
	orch   *session.Orchestrator
	runner *runner.Runner
	dir    string
}

func fastWorkflow() config.WorkflowConfig {
	return config.WorkflowConfig{
		Timeout:          config.Duration{Duration: 5 * time.Second},
		UserInputTimeout: config.Duration{Duration: 2 * time.Second},
		PollInterval:     config.Duration{Duration: 5 * time.Millisecond},
	}
}

func newEnv(t *testing.T, book *recipe.Book, wf config.WorkflowConfig) *env {
	t.Helper()
	shell := browsertest.NewShell(t)
	client := browser.NewClient(shell.Config())
	store := credential.NewMemoryStore()
	sess := config.SessionConfig{
		RehydrateAttempts: 3,
		CookieLoadWait:    config.Duration{Duration: time.Millisecond},
		RefreshWait:       config.Duration{Duration: 20 * time.Millisecond},
		AuthProbeWait:     config.Duration{Duration: 20 * time.Millisecond},
		PollInterval:      config.Duration{Duration: 5 * time.Millisecond},
	}
	return &env{
		shell:  shell,
		store:  store,
		orch:   session.New(client, store, book, sess),
		runner: runner.New(client, book, wf),
		dir:    t.TempDir(),
	}
}

// acquire 写入凭证并取得租约，测试结束时释放
func (e *env) acquire(t *testing.T, p types.Platform, id string) *session.Lease {
	t.Helper()
	path := credential.PathFor(e.dir, id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{"cookies":[{"name":"sessionid","value":"v","domain":".example.com","path":"/","expires":-1,"sameSite":"Lax"}],"origins":[]}`), 0644))
	require.NoError(t, e.store.Save(context.Background(), credential.Credential{ID: id, Platform: p, Username: "u-" + id[:4], Path: path}))

	lease, err := e.orch.Acquire(context.Background(), id, p)
	require.NoError(t, err)
	t.Cleanup(func() { e.orch.Release(lease) })
	return lease
}

// onPublish 点击发布按钮后跳转到作品管理页
func (e *env) onPublish(text, target string) {
	e.shell.OnClick = func(tabID, _ string, clicked string) {
		if clicked == text {
			e.shell.SetURL(tabID, target)
		}
	}
}

func request(p types.Platform, credentialID string) types.WorkflowRequest {
	return types.WorkflowRequest{
		CredentialID: credentialID,
		Platform:     p,
		VideoPath:    "/v/a.mp4",
		Title:        "t",
		Tags:         []string{"x", "y"},
	}
}

func collect(run *runner.Run) ([]types.Progress, types.Outcome) {
	var events []types.Progress
	for p := range run.Progress() {
		events = append(events, p)
	}
	return events, run.Wait()
}

func states(events []types.Progress) []types.UploadState {
	var out []types.UploadState
	for _, p := range events {
		if p.Kind == types.ProgressState {
			out = append(out, p.State)
		}
	}
	return out
}

func steps(events []types.Progress) []string {
	var out []string
	for _, p := range events {
		if p.Kind == types.ProgressStep {
			out = append(out, p.Step)
		}
	}
	return out
}

func TestHappyUpload(t *testing.T) {
	e := newEnv(t, platform.DefaultBook(), fastWorkflow())
	lease := e.acquire(t, types.PlatformDouyin, scenarioCredential)
	e.onPublish("发布", "https://"+douyin.ManagePath)

	events, outcome := collect(e.runner.Start(context.Background(), lease, request(types.PlatformDouyin, scenarioCredential)))

	assert.Equal(t, types.OutcomeSubmitted, outcome.Kind, outcome.String())
	assert.Equal(t, fullProgression, states(events))
	assert.False(t, outcome.FinishedAt.IsZero())
	for _, p := range events {
		assert.Equal(t, scenarioCredential, p.CredentialID)
		assert.Equal(t, types.PlatformDouyin, p.Platform)
	}

	r, err := platform.DefaultBook().Get(types.PlatformDouyin)
	require.NoError(t, err)
	assert.Equal(t, "t", e.shell.Value(lease.TabID, r.Selector("title")))
	assert.Equal(t, "#x #y", e.shell.Value(lease.TabID, r.Selector("description")))
	assert.NotContains(t, steps(events), "schedule_confirm")
}

func TestFileInputFallbackWaitsForUser(t *testing.T) {
	e := newEnv(t, platform.DefaultBook(), fastWorkflow())
	lease := e.acquire(t, types.PlatformWeixinChannels, credential.NewID())
	e.onPublish("发表", "https://"+tencent.ListPath)
	e.shell.SetFileUnsupported(true)

	fileInput := tencent.Recipe().Selector("file_input")
	run := e.runner.Start(context.Background(), lease, request(types.PlatformWeixinChannels, ""))

	var events []types.Progress
	prompted := 0
	for p := range run.Progress() {
		events = append(events, p)
		if p.Kind == types.ProgressUserInput {
			prompted++
			assert.Equal(t, "set_file", p.Step)
			e.shell.SimulateFilePick(lease.TabID, fileInput, "/v/a.mp4")
		}
	}
	outcome := run.Wait()

	assert.Equal(t, 1, prompted)
	assert.Equal(t, types.OutcomeSubmitted, outcome.Kind, outcome.String())
	assert.Equal(t, fullProgression, states(events))
}

func TestScheduledPublish(t *testing.T) {
	e := newEnv(t, platform.DefaultBook(), fastWorkflow())
	lease := e.acquire(t, types.PlatformDouyin, scenarioCredential)
	e.onPublish("发布", "https://"+douyin.ManagePath)

	at := time.Now().Add(48 * time.Hour)
	req := request(types.PlatformDouyin, scenarioCredential)
	req.ScheduleAt = &at

	events, outcome := collect(e.runner.Start(context.Background(), lease, req))
	require.Equal(t, types.OutcomeSubmitted, outcome.Kind, outcome.String())
	assert.Equal(t, fullProgression, states(events))

	names := steps(events)
	assert.Less(t, indexOf(names, "schedule_confirm"), indexOf(names, "publish"))
	assert.GreaterOrEqual(t, indexOf(names, "schedule_confirm"), 0)

	r := douyin.Recipe()
	assert.Equal(t, r.FormatSchedule(at), e.shell.Value(lease.TabID, r.Selector("schedule_input")))
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

// scriptedBook 用于失败路径的极简配方，超时以毫秒计
func scriptedBook(build func(r *recipe.Recipe) []recipe.Step) *recipe.Book {
	return recipe.NewBook(&recipe.Recipe{
		Platform:     types.PlatformDouyin,
		HomeURL:      "https://creator.example.com/home",
		LoginURL:     "https://creator.example.com/login",
		UploadURL:    "https://creator.example.com/upload",
		AuthSelector: "#avatar",
		Selectors: map[string]string{
			"file":    "input[type=file]",
			"title":   "input.title",
			"done":    "div.done",
			"error":   "div.error",
			"publish": "button.publish",
		},
		Build: func(r *recipe.Recipe, req types.WorkflowRequest, _ time.Time) []recipe.Step {
			return build(r)
		},
	})
}

func publishTail(r *recipe.Recipe) []recipe.Step {
	return []recipe.Step{
		{Name: "ready", Kind: recipe.StepWaitSelector, Selector: r.Selector("publish"), Timeout: 50 * time.Millisecond, Stage: types.StateReadyToPublish},
		{Name: "publish", Kind: recipe.StepClick, Selector: r.Selector("publish"), Text: "go", Stage: types.StatePublishing},
		{Name: "wait_published", Kind: recipe.StepWaitURL, URL: "creator.example.com/manage", RejectScript: recipe.FirstTextScript(r.Selector("error")), Timeout: 200 * time.Millisecond, Stage: types.StateSubmitted},
	}
}

func TestFailureOutcomes(t *testing.T) {
	waitDone := func(r *recipe.Recipe) []recipe.Step {
		return append([]recipe.Step{
			{Name: "set_file", Kind: recipe.StepSetFile, Selector: r.Selector("file"), FilePath: "/v/a.mp4", Stage: types.StateUploading},
			{Name: "fill_title", Kind: recipe.StepFillText, Selector: r.Selector("title"), Text: "t", Stage: types.StateMetadataSet},
			{Name: "wait_done", Kind: recipe.StepWaitSelector, Selector: r.Selector("done"), RejectScript: recipe.FirstTextScript(r.Selector("error")), Timeout: 60 * time.Millisecond, Stage: types.StateEncoding},
		}, publishTail(r)...)
	}

	tests := []struct {
		name    string
		wf      func() config.WorkflowConfig
		arrange func(e *env)
		kind    types.OutcomeKind
		reason  string
	}{
		{
			name:    "step timeout",
			arrange: func(e *env) { e.shell.Hide("div.done") },
			kind:    types.OutcomeTimedOut,
			reason:  "timeout:wait_done",
		},
		{
			name:    "platform rejects upload",
			arrange: func(e *env) { e.shell.SetText("div.error", "视频格式不支持") },
			kind:    types.OutcomeRejected,
			reason:  "视频格式不支持",
		},
		{
			name:    "script error",
			arrange: func(e *env) { e.shell.Hide("input.title") },
			kind:    types.OutcomeInfrastructureFailed,
			reason:  "script:fill_title",
		},
		{
			name:    "file input missing",
			arrange: func(e *env) { e.shell.Hide("input[type=file]") },
			kind:    types.OutcomeInfrastructureFailed,
			reason:  "shell_error:set_file",
		},
		{
			name: "outer cap",
			wf: func() config.WorkflowConfig {
				wf := fastWorkflow()
				wf.Timeout = config.Duration{Duration: 30 * time.Millisecond}
				return wf
			},
			arrange: func(e *env) { e.shell.Hide("div.done") },
			kind:    types.OutcomeTimedOut,
			reason:  "timeout:workflow",
		},
		{
			name:    "publish never confirmed",
			arrange: func(e *env) {},
			kind:    types.OutcomeTimedOut,
			reason:  "timeout:wait_published",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := fastWorkflow()
			if tt.wf != nil {
				wf = tt.wf()
			}
			e := newEnv(t, scriptedBook(waitDone), wf)
			lease := e.acquire(t, types.PlatformDouyin, credential.NewID())
			tt.arrange(e)

			events, outcome := collect(e.runner.Start(context.Background(), lease, request(types.PlatformDouyin, "")))
			assert.Equal(t, tt.kind, outcome.Kind, outcome.String())
			assert.Equal(t, tt.reason, outcome.Reason)
			assert.Error(t, outcome.Err)

			got := states(events)
			require.NotEmpty(t, got)
			assert.Equal(t, types.StateFailed, got[len(got)-1])
			assert.NotContains(t, got, types.StateSubmitted)
		})
	}
}

func TestTransientShellErrorRetriedOnce(t *testing.T) {
	build := func(r *recipe.Recipe) []recipe.Step {
		return append([]recipe.Step{
			{Name: "set_file", Kind: recipe.StepSetFile, Selector: r.Selector("file"), FilePath: "/v/a.mp4", Stage: types.StateUploading},
		}, publishTail(r)...)
	}

	t.Run("single failure recovers", func(t *testing.T) {
		e := newEnv(t, scriptedBook(build), fastWorkflow())
		lease := e.acquire(t, types.PlatformDouyin, credential.NewID())
		e.onPublish("go", "https://creator.example.com/manage")
		e.shell.FailNext("set-file", 1, http.StatusBadGateway, "upstream hiccup")

		_, outcome := collect(e.runner.Start(context.Background(), lease, request(types.PlatformDouyin, "")))
		assert.Equal(t, types.OutcomeSubmitted, outcome.Kind, outcome.String())
		assert.Equal(t, 2, e.shell.Calls("set-file"))
	})

	t.Run("second failure escalates", func(t *testing.T) {
		e := newEnv(t, scriptedBook(build), fastWorkflow())
		lease := e.acquire(t, types.PlatformDouyin, credential.NewID())
		e.shell.FailNext("set-file", 2, http.StatusBadGateway, "upstream down")

		_, outcome := collect(e.runner.Start(context.Background(), lease, request(types.PlatformDouyin, "")))
		assert.Equal(t, types.OutcomeInfrastructureFailed, outcome.Kind)
		assert.Equal(t, "shell_error:set_file", outcome.Reason)
		assert.Equal(t, 2, e.shell.Calls("set-file"))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		e := newEnv(t, scriptedBook(build), fastWorkflow())
		lease := e.acquire(t, types.PlatformDouyin, credential.NewID())
		e.shell.FailNext("set-file", 1, http.StatusBadRequest, "bad selector")

		_, outcome := collect(e.runner.Start(context.Background(), lease, request(types.PlatformDouyin, "")))
		assert.Equal(t, types.OutcomeInfrastructureFailed, outcome.Kind)
		assert.Equal(t, 1, e.shell.Calls("set-file"))
	})
}

func TestSubmittedRequiresPublishing(t *testing.T) {
	build := func(r *recipe.Recipe) []recipe.Step {
		return []recipe.Step{
			{Name: "set_file", Kind: recipe.StepSetFile, Selector: r.Selector("file"), FilePath: "/v/a.mp4", Stage: types.StateUploading},
			{Name: "ready", Kind: recipe.StepWaitSelector, Selector: r.Selector("publish"), Stage: types.StateReadyToPublish},
			{Name: "shortcut", Kind: recipe.StepWaitSelector, Selector: r.Selector("done"), Stage: types.StateSubmitted},
		}
	}
	e := newEnv(t, scriptedBook(build), fastWorkflow())
	lease := e.acquire(t, types.PlatformDouyin, credential.NewID())

	events, outcome := collect(e.runner.Start(context.Background(), lease, request(types.PlatformDouyin, "")))
	assert.Equal(t, types.OutcomeInfrastructureFailed, outcome.Kind)
	assert.NotContains(t, states(events), types.StateSubmitted)
}

func TestFileInputFallbackTimesOut(t *testing.T) {
	build := func(r *recipe.Recipe) []recipe.Step {
		return append([]recipe.Step{
			{Name: "set_file", Kind: recipe.StepSetFile, Selector: r.Selector("file"), FilePath: "/v/a.mp4", Stage: types.StateUploading},
		}, publishTail(r)...)
	}
	wf := fastWorkflow()
	wf.UserInputTimeout = config.Duration{Duration: 40 * time.Millisecond}
	e := newEnv(t, scriptedBook(build), wf)
	lease := e.acquire(t, types.PlatformDouyin, credential.NewID())
	e.shell.SetFileUnsupported(true)

	events, outcome := collect(e.runner.Start(context.Background(), lease, request(types.PlatformDouyin, "")))
	assert.Equal(t, types.OutcomeTimedOut, outcome.Kind)
	assert.Equal(t, "timeout:set_file", outcome.Reason)

	prompted := false
	for _, p := range events {
		if p.Kind == types.ProgressUserInput {
			prompted = true
		}
	}
	assert.True(t, prompted, "user must be told to pick the file")
}

func TestCancelledRun(t *testing.T) {
	build := func(r *recipe.Recipe) []recipe.Step {
		return append([]recipe.Step{
			{Name: "wait_done", Kind: recipe.StepWaitSelector, Selector: r.Selector("done"), Timeout: 5 * time.Second, Stage: types.StateUploading},
		}, publishTail(r)...)
	}
	e := newEnv(t, scriptedBook(build), fastWorkflow())
	lease := e.acquire(t, types.PlatformDouyin, credential.NewID())
	e.shell.Hide("div.done")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	outcome := e.runner.Execute(ctx, lease, request(types.PlatformDouyin, ""), nil)
	assert.Equal(t, types.OutcomeInfrastructureFailed, outcome.Kind)
	assert.Equal(t, "cancelled", outcome.Reason)
}

func TestShellRestartMidSession(t *testing.T) {
	e := newEnv(t, platform.DefaultBook(), fastWorkflow())
	id := credential.NewID()
	lease := e.acquire(t, types.PlatformDouyin, id)

	e.shell.SetDown(true)
	outcome := e.runner.Execute(context.Background(), lease, request(types.PlatformDouyin, id), nil)
	assert.Equal(t, types.OutcomeInfrastructureFailed, outcome.Kind)
	assert.Equal(t, "shell_unreachable:open_upload", outcome.Reason)
	e.orch.Release(lease)

	e.shell.Restart()
	next, err := e.orch.Acquire(context.Background(), id, types.PlatformDouyin)
	require.NoError(t, err)
	defer e.orch.Release(next)
	assert.NotEqual(t, lease.TabID, next.TabID)
	assert.Equal(t, 2, e.shell.Calls("create"))
}

func TestRejectsUnusableLease(t *testing.T) {
	e := newEnv(t, platform.DefaultBook(), fastWorkflow())
	id := credential.NewID()
	lease := e.acquire(t, types.PlatformDouyin, id)

	outcome := e.runner.Execute(context.Background(), lease, request(types.PlatformKuaishou, ""), nil)
	assert.Equal(t, types.OutcomeInfrastructureFailed, outcome.Kind)

	outcome = e.runner.Execute(context.Background(), lease, types.WorkflowRequest{Platform: types.PlatformDouyin}, nil)
	assert.Equal(t, types.OutcomeInfrastructureFailed, outcome.Kind)

	e.orch.Release(lease)
	outcome = e.runner.Execute(context.Background(), lease, request(types.PlatformDouyin, id), nil)
	assert.Equal(t, types.OutcomeInfrastructureFailed, outcome.Kind)
	assert.Contains(t, outcome.Reason, "invalid_request")
	assert.Zero(t, e.shell.Calls("navigate"))
}
