package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/config"
	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
	"github.com/ew384/social-auto-upload-sub000/internal/utils"
)

// ValidationOptions 验证选项
type ValidationOptions struct {
	Attempts       int           // 重新加载登录态的最大次数
	CookieLoadWait time.Duration // 加载 Cookie 后的等待
	RefreshWait    time.Duration // 刷新后等待登录态出现的上限
	ProbeWait      time.Duration // 探测登录后元素的等待上限
	PollInterval   time.Duration
}

// DefaultValidationOptions 默认验证选项
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		Attempts:       config.DefaultRehydrateAttempts,
		CookieLoadWait: config.DefaultCookieLoadWait,
		RefreshWait:    config.DefaultRefreshWait,
		ProbeWait:      config.DefaultAuthProbeWait,
		PollInterval:   config.DefaultPollInterval,
	}
}

// OptionsFromConfig 由配置生成验证选项，未设置的字段取默认值
func OptionsFromConfig(cfg config.SessionConfig) ValidationOptions {
	opts := DefaultValidationOptions()
	if cfg.RehydrateAttempts > 0 {
		opts.Attempts = cfg.RehydrateAttempts
	}
	if cfg.CookieLoadWait.Duration > 0 {
		opts.CookieLoadWait = cfg.CookieLoadWait.Duration
	}
	if cfg.RefreshWait.Duration > 0 {
		opts.RefreshWait = cfg.RefreshWait.Duration
	}
	if cfg.AuthProbeWait.Duration > 0 {
		opts.ProbeWait = cfg.AuthProbeWait.Duration
	}
	if cfg.PollInterval.Duration > 0 {
		opts.PollInterval = cfg.PollInterval.Duration
	}
	return opts
}

// Validator 登录态校验器
//
// 校验结果只取决于标签页状态、凭证文件和平台配方；同一标签页上的校验由编排器串行化。
type Validator struct {
	shell   browser.Shell
	options ValidationOptions
}

// NewValidator 创建校验器
func NewValidator(shell browser.Shell, options ValidationOptions) *Validator {
	return &Validator{shell: shell, options: options}
}

// Check 单次判断标签页是否已登录
func (v *Validator) Check(ctx context.Context, tabID string, r *recipe.Recipe) (bool, string, error) {
	href, err := v.shell.Execute(ctx, tabID, recipe.LocationScript)
	if err != nil {
		return false, "", err
	}
	// null 与空白页同样按未登录处理
	current := href.String()
	if r.IsLoginURL(current) {
		return false, current, nil
	}
	if r.AuthSelector == "" {
		return true, current, nil
	}

	found, err := v.probe(ctx, tabID, r.AuthSelector)
	if err != nil {
		return false, current, err
	}
	return found, current, nil
}

// probe 在 ProbeWait 内轮询登录后元素
func (v *Validator) probe(ctx context.Context, tabID, selector string) (bool, error) {
	deadline := time.Now().Add(v.options.ProbeWait)
	for {
		res, err := v.shell.Execute(ctx, tabID, recipe.ProbeScript(selector))
		if err != nil {
			return false, err
		}
		if res.Bool() {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		if err := sleep(ctx, v.options.PollInterval); err != nil {
			return false, err
		}
	}
}

// Ensure 确认已登录，必要时重新加载 Cookie 并刷新，全部失败返回 CredentialStale
func (v *Validator) Ensure(ctx context.Context, tabID string, cred credential.Credential, r *recipe.Recipe) error {
	platform := r.Platform.String()

	ok, current, err := v.Check(ctx, tabID, r)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	for attempt := 1; attempt <= v.options.Attempts; attempt++ {
		utils.InfoWithPlatform(platform, fmt.Sprintf("[-] 登录态失效，第%d/%d次重新加载Cookie (当前页面: %s)", attempt, v.options.Attempts, current))
		metricRehydrateAttempts.WithLabelValues(platform).Inc()

		if err := loadCookies(ctx, v.shell, tabID, cred.Path); err != nil {
			return err
		}
		if err := sleep(ctx, v.options.CookieLoadWait); err != nil {
			return err
		}

		// 空白页刷新没有意义，直接回到首页
		if recipe.IsBlankURL(current) {
			err = v.shell.Navigate(ctx, tabID, r.HomeURL)
		} else {
			err = v.shell.Refresh(ctx, tabID)
		}
		if err != nil {
			return err
		}

		ok, current, err = v.waitAuthenticated(ctx, tabID, r)
		if err != nil {
			return err
		}
		if ok {
			utils.SuccessWithPlatform(platform, fmt.Sprintf("[+] 第%d次重新加载后登录态恢复", attempt))
			return nil
		}
	}

	utils.WarnWithPlatform(platform, fmt.Sprintf("[-] 凭证 %s 已失效，需要重新登录", cred.ID))
	return types.NewCredentialStale(cred.ID)
}

// waitAuthenticated 刷新后在 RefreshWait 内反复检查
func (v *Validator) waitAuthenticated(ctx context.Context, tabID string, r *recipe.Recipe) (bool, string, error) {
	deadline := time.Now().Add(v.options.RefreshWait)
	for {
		ok, current, err := v.Check(ctx, tabID, r)
		if err != nil || ok {
			return ok, current, err
		}
		if !time.Now().Before(deadline) {
			return false, current, nil
		}
		if err := sleep(ctx, v.options.PollInterval); err != nil {
			return false, current, err
		}
	}
}

// loadCookies 规范化 sameSite 后让标签页加载凭证
func loadCookies(ctx context.Context, shell browser.Shell, tabID, path string) error {
	if _, err := credential.RepairFile(path); err != nil {
		utils.Warn(fmt.Sprintf("[-] 修复凭证文件失败: %v", err))
	}
	return shell.LoadCookies(ctx, tabID, path)
}

// sleep 可取消的等待
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return types.NewCancelled("wait", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return types.NewCancelled("wait", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// isCancelled 是否由调用方取消引起
func isCancelled(err error) bool {
	return errors.Is(err, types.ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
