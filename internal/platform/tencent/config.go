package tencent

import "time"

type Config struct {
	UploadTimeout       time.Duration
	PageLoadTimeout     time.Duration
	ElementWaitTimeout  time.Duration
	SubmitCheckTimeout  time.Duration
	ShortTitleMinLength int
	ShortTitleMaxLength int
}

var defaultConfig = Config{
	UploadTimeout:       10 * time.Minute,
	PageLoadTimeout:     15 * time.Second,
	ElementWaitTimeout:  30 * time.Second,
	SubmitCheckTimeout:  60 * time.Second,
	ShortTitleMinLength: 6,
	ShortTitleMaxLength: 16,
}

func DefaultConfig() Config {
	return defaultConfig
}
