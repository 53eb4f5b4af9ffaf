package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default("/opt/fuploader")

	assert.Equal(t, DefaultShellBaseURL, cfg.Shell.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Shell.CallTimeout.Duration)
	assert.Equal(t, 60*time.Second, cfg.Shell.FileSetTimeout.Duration)
	assert.Equal(t, 8, cfg.Shell.MaxInflightCalls)
	assert.Equal(t, 3, cfg.Session.RehydrateAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Workflow.Timeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.Login.PollInterval.Duration)
	assert.Equal(t, filepath.Join("/opt/fuploader", DefaultCookiePath), cfg.CookiePath)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fuploader.toml")
	content := `
cookie_path = "cookies"
upload_concurrency = 4

[shell]
base_url = "http://127.0.0.1:4000/api"
call_timeout = "5s"
max_inflight_calls = 2

[session]
rehydrate_attempts = 2
refresh_wait = "250ms"

[login]
timeout = "1m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(dir, path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:4000/api", cfg.Shell.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Shell.CallTimeout.Duration)
	assert.Equal(t, 2, cfg.Shell.MaxInflightCalls)
	assert.Equal(t, 2, cfg.Session.RehydrateAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.RefreshWait.Duration)
	assert.Equal(t, time.Minute, cfg.Login.Timeout.Duration)
	assert.Equal(t, 4, cfg.UploadConcurrency)
	// 未写的字段保留默认值
	assert.Equal(t, 60*time.Second, cfg.Shell.FileSetTimeout.Duration)
	// 相对路径以 baseDir 为根
	assert.Equal(t, filepath.Join(dir, "cookies"), cfg.CookiePath)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FUPLOADER_SHELL_URL", "http://shell.local:3000/api/")
	t.Setenv("FUPLOADER_DEBUG", "true")
	t.Setenv("FUPLOADER_MAX_SHELL_CALLS", "3")
	t.Setenv("FUPLOADER_LOG_LEVEL", "DEBUG")

	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)

	assert.Equal(t, "http://shell.local:3000/api", cfg.Shell.BaseURL)
	assert.True(t, cfg.DebugMode)
	assert.Equal(t, 3, cfg.Shell.MaxInflightCalls)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[shell]\ncall_timeout = \"soon\"\n"), 0644))

	_, err := Load(dir, path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[shell]\nmax_inflight_calls = 0\n"), 0644))
	_, err = Load(dir, path)
	require.Error(t, err)
}

func TestCredentialFile(t *testing.T) {
	cfg := Default("/data")
	got := cfg.CredentialFile("11111111-1111-1111-1111-111111111111")
	assert.Equal(t, filepath.Join("/data", DefaultCookiePath, "11111111-1111-1111-1111-111111111111.json"), got)
}

func TestLoadIgnoresRetiredKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.toml")
	require.NoError(t, os.WriteFile(path, []byte("headless = true\ndebug = true\n"), 0644))

	cfg, err := Load(dir, path)
	require.NoError(t, err)
	assert.True(t, cfg.DebugMode)
	assert.Equal(t, Default(dir).Shell, cfg.Shell)
}
