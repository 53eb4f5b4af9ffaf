package douyin

import "time"

type Config struct {
	UploadTimeout      time.Duration
	PageLoadTimeout    time.Duration
	ElementWaitTimeout time.Duration
	SubmitCheckTimeout time.Duration
	TitleMaxLength     int
}

var defaultConfig = Config{
	UploadTimeout:      10 * time.Minute,
	PageLoadTimeout:    15 * time.Second,
	ElementWaitTimeout: 30 * time.Second,
	SubmitCheckTimeout: 100 * time.Second,
	TitleMaxLength:     30,
}

func DefaultConfig() Config {
	return defaultConfig
}
