package service

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
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser/browsertest"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/login"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/session"
	"github.com/ew384/social-auto-upload-sub000/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHome  = "https://creator.example.com/home"
	testLogin = "https://creator.example.com/login"
)

type accountEnv struct {
	shell *browsertest.Shell
	store *database.AccountStore
	orch  *session.Orchestrator
	svc   *AccountService
	dir   string
}

func newAccountEnv(t *testing.T) *accountEnv {
	t.Helper()
	shell := browsertest.NewShell(t)
	client := browser.NewClient(shell.Config())

	db, err := database.Open(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	store := database.NewAccountStore(db)

	book := recipe.NewBook(&recipe.Recipe{
		Platform:         types.PlatformDouyin,
		HomeURL:          testHome,
		LoginURL:         testLogin,
		AuthSelector:     "#avatar",
		AuthenticatedURL: "creator.example.com/home",
		RequiredCookies:  []string{"sessionid"},
	})
	orch := session.New(client, store, book, config.SessionConfig{
		RehydrateAttempts: 2,
		CookieLoadWait:    config.Duration{Duration: time.Millisecond},
		RefreshWait:       config.Duration{Duration: 10 * time.Millisecond},
		AuthProbeWait:     config.Duration{Duration: 10 * time.Millisecond},
		PollInterval:      config.Duration{Duration: 5 * time.Millisecond},
	})
	observer := login.New(client, book, store, config.LoginConfig{
		Timeout:      config.Duration{Duration: 2 * time.Second},
		PollInterval: config.Duration{Duration: 5 * time.Millisecond},
	})
	dir := filepath.Join(t.TempDir(), "cookies")
	return &accountEnv{
		shell: shell,
		store: store,
		orch:  orch,
		svc:   NewAccountService(store, orch, observer, dir),
		dir:   dir,
	}
}

// userLogsIn 模拟用户在登录页完成扫码
func (e *accountEnv) userLogsIn(ev types.LoginEvent) {
	if ev.Kind != types.LoginAwaitingUser {
		return
	}
	for _, tab := range e.shell.Tabs() {
		e.shell.SetURL(tab.ID, testHome)
	}
}

func (e *accountEnv) login(t *testing.T, username string) credential.Credential {
	t.Helper()
	result := e.svc.Login(context.Background(), types.PlatformDouyin, username, e.userLogsIn)
	require.NoError(t, result.Err)
	return result.Credential
}

func TestAccountLogin(t *testing.T) {
	e := newAccountEnv(t)

	var events []types.LoginEvent
	result := e.svc.Login(context.Background(), types.PlatformDouyin, " 小明 ", func(ev types.LoginEvent) {
		events = append(events, ev)
		e.userLogsIn(ev)
	})
	require.NoError(t, result.Err)
	require.NotEmpty(t, events)
	assert.Equal(t, types.LoginDone, events[len(events)-1].Kind)

	cred := result.Credential
	assert.Equal(t, "小明", cred.Username)
	assert.Equal(t, credential.PathFor(e.dir, cred.ID), cred.Path)
	assert.FileExists(t, cred.Path)
	assert.True(t, result.Report.Healthy())

	accounts, err := e.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, cred.ID, accounts[0].ID)
	assert.Equal(t, credential.VerdictValid, accounts[0].Verdict)

	assert.Zero(t, e.orch.LiveLeases())
	entry, ok := e.orch.Registry().Lookup(cred.ID)
	require.True(t, ok)
	assert.Equal(t, cred.Path, entry.CookiePath)
}

func TestAccountLoginRejectsBadInput(t *testing.T) {
	e := newAccountEnv(t)

	result := e.svc.Login(context.Background(), types.PlatformUnknown, "someone", nil)
	assert.True(t, errors.Is(result.Err, types.ErrInvalidRequest))

	result = e.svc.Login(context.Background(), types.PlatformDouyin, "  ", nil)
	assert.True(t, errors.Is(result.Err, types.ErrInvalidRequest))

	assert.Zero(t, e.shell.Calls("create"))
}

func TestAccountLoginTimeoutLeavesNoAccount(t *testing.T) {
	e := newAccountEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := e.svc.Login(ctx, types.PlatformDouyin, "slow", nil)
	require.Error(t, result.Err)
	assert.True(t, errors.Is(result.Err, types.ErrCancelled))

	accounts, err := e.svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
	assert.Zero(t, e.orch.LiveLeases())

	_, bound := e.orch.Registry().Lookup(result.Credential.ID)
	assert.False(t, bound, "unsaved credential is not kept in the registry")
	assert.Len(t, e.shell.Tabs(), 1, "login tab stays open for the user")
}

func TestAccountValidate(t *testing.T) {
	e := newAccountEnv(t)
	cred := e.login(t, "valid")

	verdict, err := e.svc.Validate(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, credential.VerdictValid, verdict)

	e.shell.SetStale(cred.Path, testLogin)
	e.orch.Invalidate(context.Background(), cred.ID)

	verdict, err = e.svc.Validate(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, credential.VerdictInvalid, verdict)

	stored, err := e.svc.Get(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, credential.VerdictInvalid, stored.Verdict)
	assert.Empty(t, e.shell.Tabs())
}

func TestAccountValidateShellDown(t *testing.T) {
	e := newAccountEnv(t)
	cred := e.login(t, "down")
	e.shell.SetDown(true)

	verdict, err := e.svc.Validate(context.Background(), cred.ID)
	assert.Equal(t, credential.VerdictUnknown, verdict)
	assert.True(t, errors.Is(err, types.ErrShellUnreachable))

	_, err = e.svc.Validate(context.Background(), credential.NewID())
	assert.True(t, errors.Is(err, credential.ErrNotFound))
}

func TestAccountRelogin(t *testing.T) {
	e := newAccountEnv(t)
	cred := e.login(t, "again")
	require.NoError(t, e.store.MarkValidated(context.Background(), cred.ID, credential.VerdictInvalid, time.Now()))

	result := e.svc.Relogin(context.Background(), cred.ID, e.userLogsIn)
	require.NoError(t, result.Err)
	assert.Equal(t, cred.ID, result.Credential.ID)
	assert.Equal(t, cred.Path, result.Credential.Path)

	stored, err := e.svc.Get(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, credential.VerdictValid, stored.Verdict)
	assert.Equal(t, "again", stored.Username)
	// 重新登录复用原标签页
	assert.Equal(t, 1, e.shell.Calls("create"))

	result = e.svc.Relogin(context.Background(), credential.NewID(), nil)
	assert.True(t, errors.Is(result.Err, credential.ErrNotFound))
}

func TestAccountDelete(t *testing.T) {
	e := newAccountEnv(t)
	cred := e.login(t, "gone")
	require.Len(t, e.shell.Tabs(), 1)

	require.NoError(t, e.svc.Delete(context.Background(), cred.ID))

	_, err := os.Stat(cred.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = e.svc.Get(context.Background(), cred.ID)
	assert.True(t, errors.Is(err, credential.ErrNotFound))
	assert.Empty(t, e.shell.Tabs())
	_, ok := e.orch.Registry().Lookup(cred.ID)
	assert.False(t, ok)

	err = e.svc.Delete(context.Background(), cred.ID)
	assert.True(t, errors.Is(err, credential.ErrNotFound))
}
