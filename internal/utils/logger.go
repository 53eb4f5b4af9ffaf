package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/config"
	"github.com/ew384/social-auto-upload-sub000/internal/types"

	"github.com/phuslu/log"
)

// LogServiceInterface 日志服务接口（避免循环依赖）
type LogServiceInterface interface {
	Add(log types.SimpleLog)
}

type Logger struct {
	backend    *log.Logger
	logService LogServiceInterface
	mutex      sync.RWMutex
}

var defaultLogger atomic.Pointer[Logger]

// InitLogger 按配置初始化日志：控制台 + 按大小轮转的日志文件
func InitLogger(cfg *config.AppConfig) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defaultLogger.Store(logger)
	return nil
}

func newLogger(cfg *config.AppConfig) (*Logger, error) {
	writers := log.MultiEntryWriter{
		&log.ConsoleWriter{Writer: os.Stderr},
	}
	level := log.InfoLevel
	if cfg != nil {
		if cfg.LogPath != "" {
			if err := os.MkdirAll(cfg.LogPath, 0755); err != nil {
				return nil, fmt.Errorf("create log directory failed: %w", err)
			}
			writers = append(writers, &log.FileWriter{
				Filename:   filepath.Join(cfg.LogPath, "fuploader.log"),
				MaxSize:    50 * 1024 * 1024,
				MaxBackups: 7,
				LocalTime:  true,
			})
		}
		if cfg.LogLevel != "" {
			level = log.ParseLevel(cfg.LogLevel)
		}
		if cfg.DebugMode {
			level = log.DebugLevel
		}
	}
	return &Logger{
		backend: &log.Logger{
			Level:      level,
			TimeFormat: "2006-01-02 15:04:05",
			Writer:     &writers,
		},
	}, nil
}

// GetLogger 未初始化时退化为仅输出到控制台
func GetLogger() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l, _ := newLogger(nil)
	if defaultLogger.CompareAndSwap(nil, l) {
		return l
	}
	return defaultLogger.Load()
}

// SetLogService 设置日志服务，用于前端日志输出
func SetLogService(service LogServiceInterface) {
	l := GetLogger()
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.logService = service
}

// log 内部日志记录方法
func (l *Logger) log(level types.LogLevel, platform, msg string) {
	var entry *log.Entry
	switch level {
	case types.LogLevelError:
		entry = l.backend.Error()
	case types.LogLevelWarn:
		entry = l.backend.Warn()
	case types.LogLevelDebug:
		entry = l.backend.Debug()
	default:
		entry = l.backend.Info()
	}
	if level == types.LogLevelSuccess {
		entry = entry.Bool("success", true)
	}
	if platform != "" {
		entry = entry.Str("platform", platform)
	}
	entry.Msg(msg)

	l.mutex.RLock()
	service := l.logService
	l.mutex.RUnlock()

	// 同时输出到前端
	if service != nil {
		now := time.Now()
		service.Add(types.SimpleLog{
			Date:     now.Format("2006/1/2"),
			Time:     now.Format("15:04:05"),
			Message:  msg,
			Platform: platform,
			Level:    level,
		})
	}
}

// ========== 基础日志函数（不带平台）==========

func (l *Logger) Info(msg string) {
	l.log(types.LogLevelInfo, "", msg)
}

func (l *Logger) Error(msg string) {
	l.log(types.LogLevelError, "", msg)
}

func (l *Logger) Warn(msg string) {
	l.log(types.LogLevelWarn, "", msg)
}

func (l *Logger) Debug(msg string) {
	l.log(types.LogLevelDebug, "", msg)
}

func (l *Logger) Success(msg string) {
	l.log(types.LogLevelSuccess, "", msg)
}

// ========== 带平台的日志函数 ==========

func (l *Logger) InfoWithPlatform(platform, msg string) {
	l.log(types.LogLevelInfo, platform, msg)
}

func (l *Logger) ErrorWithPlatform(platform, msg string) {
	l.log(types.LogLevelError, platform, msg)
}

func (l *Logger) WarnWithPlatform(platform, msg string) {
	l.log(types.LogLevelWarn, platform, msg)
}

func (l *Logger) DebugWithPlatform(platform, msg string) {
	l.log(types.LogLevelDebug, platform, msg)
}

func (l *Logger) SuccessWithPlatform(platform, msg string) {
	l.log(types.LogLevelSuccess, platform, msg)
}

// ========== 全局便捷函数（不带平台）==========

func Info(msg string) {
	GetLogger().Info(msg)
}

func Error(msg string) {
	GetLogger().Error(msg)
}

func Warn(msg string) {
	GetLogger().Warn(msg)
}

func Debug(msg string) {
	GetLogger().Debug(msg)
}

func Success(msg string) {
	GetLogger().Success(msg)
}

// ========== 全局便捷函数（带平台）==========

func InfoWithPlatform(platform, msg string) {
	GetLogger().InfoWithPlatform(platform, msg)
}

func ErrorWithPlatform(platform, msg string) {
	GetLogger().ErrorWithPlatform(platform, msg)
}

func WarnWithPlatform(platform, msg string) {
	GetLogger().WarnWithPlatform(platform, msg)
}

func DebugWithPlatform(platform, msg string) {
	GetLogger().DebugWithPlatform(platform, msg)
}

func SuccessWithPlatform(platform, msg string) {
	GetLogger().SuccessWithPlatform(platform, msg)
}
