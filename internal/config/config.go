package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration 支持在 TOML 中以 "30s" 形式书写的时长
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// ShellConfig 外部浏览器壳的控制接口配置
type ShellConfig struct {
	BaseURL          string   `toml:"base_url"`
	CallTimeout      Duration `toml:"call_timeout"`
	FileSetTimeout   Duration `toml:"file_set_timeout"`
	MaxInflightCalls int      `toml:"max_inflight_calls"`
}

// SessionConfig 会话编排与校验配置
type SessionConfig struct {
	RehydrateAttempts int      `toml:"rehydrate_attempts"`
	CookieLoadWait    Duration `toml:"cookie_load_wait"`
	RefreshWait       Duration `toml:"refresh_wait"`
	AuthProbeWait     Duration `toml:"auth_probe_wait"`
	PollInterval      Duration `toml:"poll_interval"`
}

// WorkflowConfig 上传工作流配置
type WorkflowConfig struct {
	Timeout          Duration `toml:"timeout"`
	UserInputTimeout Duration `toml:"user_input_timeout"`
	PollInterval     Duration `toml:"poll_interval"`
}

// LoginConfig 交互式登录配置
type LoginConfig struct {
	Timeout      Duration `toml:"timeout"`
	PollInterval Duration `toml:"poll_interval"`
}

type AppConfig struct {
	BaseDir           string         `toml:"-"`
	DbPath            string         `toml:"db_path"`
	CookiePath        string         `toml:"cookie_path"`
	LogPath           string         `toml:"log_path"`
	LogLevel          string         `toml:"log_level"`
	RecipePath        string         `toml:"recipe_path"`
	UploadConcurrency int            `toml:"upload_concurrency"`
	SchedulerPoll     Duration       `toml:"scheduler_poll_interval"`
	StatusAddr        string         `toml:"status_addr"` // 状态接口监听地址，为空时不启动
	DebugMode         bool           `toml:"debug"`       // 调试模式开关
	Shell             ShellConfig    `toml:"shell"`
	Session           SessionConfig  `toml:"session"`
	Workflow          WorkflowConfig `toml:"workflow"`
	Login             LoginConfig    `toml:"login"`
}

var Config *AppConfig

// Default 返回以 baseDir 为根目录的默认配置
func Default(baseDir string) *AppConfig {
	return &AppConfig{
		BaseDir:           baseDir,
		DbPath:            filepath.Join(baseDir, DefaultDbPath),
		CookiePath:        filepath.Join(baseDir, DefaultCookiePath),
		LogPath:           filepath.Join(baseDir, DefaultLogPath),
		LogLevel:          "info",
		RecipePath:        filepath.Join(baseDir, DefaultRecipePath),
		UploadConcurrency: UploadConcurrency,
		SchedulerPoll:     Duration{DefaultSchedulerPollInterval},
		Shell: ShellConfig{
			BaseURL:          DefaultShellBaseURL,
			CallTimeout:      Duration{DefaultShellCallTimeout},
			FileSetTimeout:   Duration{DefaultFileSetTimeout},
			MaxInflightCalls: DefaultMaxInflightCalls,
		},
		Session: SessionConfig{
			RehydrateAttempts: DefaultRehydrateAttempts,
			CookieLoadWait:    Duration{DefaultCookieLoadWait},
			RefreshWait:       Duration{DefaultRefreshWait},
			AuthProbeWait:     Duration{DefaultAuthProbeWait},
			PollInterval:      Duration{DefaultPollInterval},
		},
		Workflow: WorkflowConfig{
			Timeout:          Duration{DefaultWorkflowTimeout},
			UserInputTimeout: Duration{DefaultUserInputTimeout},
			PollInterval:     Duration{DefaultPollInterval},
		},
		Login: LoginConfig{
			Timeout:      Duration{DefaultLoginTimeout},
			PollInterval: Duration{DefaultLoginPollInterval},
		},
	}
}

// Load 读取配置：默认值 → TOML 文件（可选）→ 环境变量
func Load(baseDir, path string) (*AppConfig, error) {
	cfg := Default(baseDir)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s failed: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s failed: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Init 以可执行文件所在目录为根加载配置并创建目录
func Init(path string) error {
	exePath, err := os.Executable()
	if err != nil {
		return err
	}
	cfg, err := Load(filepath.Dir(exePath), path)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	Config = cfg
	return nil
}

// EnsureDirs 创建目录（只创建目录，不包括数据库文件路径）
func (c *AppConfig) EnsureDirs() error {
	dirs := []string{
		filepath.Dir(c.DbPath),
		c.CookiePath,
		c.LogPath,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s failed: %w", dir, err)
		}
	}
	return nil
}

// Validate 检查配置合法性
func (c *AppConfig) Validate() error {
	if c.Shell.BaseURL == "" {
		return fmt.Errorf("shell.base_url is empty")
	}
	if c.Shell.MaxInflightCalls <= 0 {
		return fmt.Errorf("shell.max_inflight_calls must be positive")
	}
	if c.Session.RehydrateAttempts <= 0 {
		return fmt.Errorf("session.rehydrate_attempts must be positive")
	}
	if c.UploadConcurrency <= 0 {
		return fmt.Errorf("upload_concurrency must be positive")
	}
	return nil
}

// CredentialFile 凭证文件路径，文件名即凭证 UUID
func (c *AppConfig) CredentialFile(id string) string {
	return filepath.Join(c.CookiePath, id+".json")
}

func (c *AppConfig) resolvePaths() {
	for _, p := range []*string{&c.DbPath, &c.CookiePath, &c.LogPath, &c.RecipePath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.BaseDir, *p)
		}
	}
}

func applyEnvOverrides(c *AppConfig) {
	if v := os.Getenv("FUPLOADER_SHELL_URL"); v != "" {
		c.Shell.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("FUPLOADER_COOKIE_DIR"); v != "" {
		c.CookiePath = v
	}
	if v := os.Getenv("FUPLOADER_DB_PATH"); v != "" {
		c.DbPath = v
	}
	if v := os.Getenv("FUPLOADER_LOG_DIR"); v != "" {
		c.LogPath = v
	}
	if v := os.Getenv("FUPLOADER_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("FUPLOADER_UPLOAD_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.UploadConcurrency = n
		}
	}
	if v := os.Getenv("FUPLOADER_MAX_SHELL_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Shell.MaxInflightCalls = n
		}
	}
	if v := os.Getenv("FUPLOADER_STATUS_ADDR"); v != "" {
		c.StatusAddr = v
	}
	if os.Getenv("FUPLOADER_DEBUG") == "true" {
		c.DebugMode = true
	}
}
