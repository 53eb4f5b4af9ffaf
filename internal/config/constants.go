package config

import "time"

const (
	DefaultShellBaseURL = "http://localhost:3000/api"

	DefaultCookiePath = "storage/cookies"
	DefaultDbPath     = "storage/fuploader.db"
	DefaultLogPath    = "storage/logs"
	DefaultRecipePath = "storage/recipes"

	DefaultShellCallTimeout  = 30 * time.Second
	DefaultFileSetTimeout    = 60 * time.Second
	DefaultMaxInflightCalls  = 8
	DefaultWorkflowTimeout   = 15 * time.Minute
	DefaultLoginTimeout      = 5 * time.Minute
	DefaultLoginPollInterval = 2 * time.Second
	DefaultUserInputTimeout  = 10 * time.Minute
	DefaultPollInterval      = 500 * time.Millisecond

	DefaultRehydrateAttempts = 3
	DefaultCookieLoadWait    = 3 * time.Second
	DefaultRefreshWait       = 5 * time.Second
	DefaultAuthProbeWait     = 3 * time.Second

	UploadConcurrency            = 2
	DefaultSchedulerPollInterval = 10 * time.Second
)

// 凭证校验结论
const (
	VerdictValid   = "valid"
	VerdictInvalid = "invalid"
	VerdictUnknown = "unknown"
)
