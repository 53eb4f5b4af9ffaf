package session_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/config"
	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser/browsertest"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/session"
	"github.com/ew384/social-auto-upload-sub000/internal/types"

	"github.com/stretchr/testify/require"
)

const (
	testHome  = "https://creator.example.com/home"
	testLogin = "https://creator.example.com/login"
)

func testRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Platform:         types.PlatformDouyin,
		HomeURL:          testHome,
		LoginURL:         testLogin,
		UploadURL:        "https://creator.example.com/upload",
		AuthSelector:     "#avatar",
		AuthenticatedURL: "creator.example.com/home",
	}
}

func fastSession() config.SessionConfig {
	return config.SessionConfig{
		RehydrateAttempts: 3,
		CookieLoadWait:    config.Duration{Duration: time.Millisecond},
		RefreshWait:       config.Duration{Duration: 20 * time.Millisecond},
		AuthProbeWait:     config.Duration{Duration: 20 * time.Millisecond},
		PollInterval:      config.Duration{Duration: 5 * time.Millisecond},
	}
}

type fixture struct {
	shell *browsertest.Shell
	store *credential.MemoryStore
	orch  *session.Orchestrator
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	shell := browsertest.NewShell(t)
	store := credential.NewMemoryStore()
	book := recipe.NewBook(testRecipe())
	return &fixture{
		shell: shell,
		store: store,
		orch:  session.New(browser.NewClient(shell.Config()), store, book, fastSession()),
		dir:   t.TempDir(),
	}
}

// addCredential 写入凭证文件并登记到存储
func (f *fixture) addCredential(t *testing.T, username string) credential.Credential {
	t.Helper()
	id := credential.NewID()
	path := credential.PathFor(f.dir, id)
	writeCookieFile(t, path)
	cred := credential.Credential{ID: id, Platform: types.PlatformDouyin, Username: username, Path: path}
	require.NoError(t, f.store.Save(context.Background(), cred))
	return cred
}

func writeCookieFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	payload := `{"cookies":[{"name":"sessionid","value":"abc","domain":".example.com","path":"/","expires":-1,"httpOnly":true,"secure":true,"sameSite":"lax"}],"origins":[]}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0644))
}
