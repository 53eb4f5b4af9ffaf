// Package retry 提供核心允许的有限重试
//
// 会话编排只允许“再试一次”的场景（Cookie 加载失败、单步骤的临时壳错误），
// 因此默认配置偏保守：最多重试一次，固定间隔，且只对调用方认可的错误重试。
package retry

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"time"
)

// RetryStrategy 重试策略类型
type RetryStrategy string

const (
	// ExponentialBackoff 指数退避策略
	ExponentialBackoff RetryStrategy = "exponential_backoff"
	// FixedInterval 固定间隔策略
	FixedInterval RetryStrategy = "fixed_interval"
	// RandomDelay 随机延迟策略
	RandomDelay RetryStrategy = "random_delay"
	// LinearBackoff 线性退避策略
	LinearBackoff RetryStrategy = "linear_backoff"
)

// RetryCondition 重试条件函数
type RetryCondition func(error) bool

// RetryCallback 重试回调函数
type RetryCallback func(attempt int, delay time.Duration, err error)

// Config 重试配置
type Config struct {
	MaxRetries   int           // 最大重试次数（不含首次）
	InitialDelay time.Duration // 初始延迟
	MaxDelay     time.Duration // 最大延迟

	Strategy      RetryStrategy // 重试策略
	BackoffFactor float64       // 退避因子（用于指数退避）
	Jitter        bool          // 是否启用抖动
	JitterFactor  float64       // 抖动因子 (0.0 - 1.0)

	RetryCondition RetryCondition // 为空时任何错误都重试
	OnRetry        RetryCallback  // 重试前回调
}

// DefaultConfig 默认重试配置：失败后固定间隔再试一次
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:    1,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		Strategy:      FixedInterval,
		BackoffFactor: 2.0,
	}
}

// Once 只重试一次、仅对满足 cond 的错误重试
func Once(delay time.Duration, cond RetryCondition) *Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = delay
	cfg.RetryCondition = cond
	return cfg
}

// Retry 重试器
type Retry struct {
	config   *Config
	attempts int32
	failures int32
}

// NewRetry 创建重试器
func NewRetry(config *Config) *Retry {
	if config == nil {
		config = DefaultConfig()
	}
	return &Retry{config: config}
}

// Do 执行带重试的操作
func (r *Retry) Do(ctx context.Context, operation func() error) error {
	return r.DoAttempt(ctx, func(int) error { return operation() })
}

// DoAttempt 与 Do 相同，但把当前尝试序号（从 0 开始）传给操作
func (r *Retry) DoAttempt(ctx context.Context, operation func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, delay, lastErr)
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return lastErr
				case <-timer.C:
				}
			}
		}

		atomic.AddInt32(&r.attempts, 1)
		err := operation(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err) || ctx.Err() != nil {
			break
		}
	}

	atomic.AddInt32(&r.failures, 1)
	return lastErr
}

// DoWithResult 执行带重试的操作并返回结果
func DoWithResult[T any](ctx context.Context, config *Config, operation func() (T, error)) (T, error) {
	var result T
	r := NewRetry(config)
	err := r.Do(ctx, func() error {
		var err error
		result, err = operation()
		return err
	})
	return result, err
}

// calculateDelay 计算重试延迟
func (r *Retry) calculateDelay(attempt int) time.Duration {
	var delay time.Duration

	switch r.config.Strategy {
	case ExponentialBackoff:
		delay = time.Duration(float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1)))
	case LinearBackoff:
		delay = time.Duration(int64(r.config.InitialDelay) * int64(attempt))
	case RandomDelay:
		if r.config.InitialDelay > 0 {
			delay = time.Duration(rand.Int63n(int64(r.config.InitialDelay)) + int64(r.config.InitialDelay)/2)
		}
	default:
		delay = r.config.InitialDelay
	}

	if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter && delay > 0 {
		jitter := time.Duration(float64(delay) * r.config.JitterFactor * (rand.Float64()*2 - 1))
		delay += jitter
	}

	return delay
}

// shouldRetry 判断是否应重试
func (r *Retry) shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if r.config.RetryCondition != nil {
		return r.config.RetryCondition(err)
	}
	return true
}

// Attempts 已执行的尝试次数
func (r *Retry) Attempts() int {
	return int(atomic.LoadInt32(&r.attempts))
}

// Failures 最终失败的次数
func (r *Retry) Failures() int {
	return int(atomic.LoadInt32(&r.failures))
}
