// Package login 交互式登录：打开登录页，等待用户扫码或输入，成功后保存凭证
package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/config"
	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/session"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
	"github.com/ew384/social-auto-upload-sub000/internal/utils"
)

const eventBuffer = 16

// Options 登录选项
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// OptionsFromConfig 由配置生成选项，未设置的字段取默认值
func OptionsFromConfig(cfg config.LoginConfig) Options {
	opts := Options{Timeout: config.DefaultLoginTimeout, PollInterval: config.DefaultLoginPollInterval}
	if cfg.Timeout.Duration > 0 {
		opts.Timeout = cfg.Timeout.Duration
	}
	if cfg.PollInterval.Duration > 0 {
		opts.PollInterval = cfg.PollInterval.Duration
	}
	return opts
}

// Observer 登录观察者
type Observer struct {
	shell   browser.Shell
	book    *recipe.Book
	store   credential.Store
	options Options
	now     func() time.Time
}

// New 创建登录观察者
func New(shell browser.Shell, book *recipe.Book, store credential.Store, cfg config.LoginConfig) *Observer {
	return &Observer{
		shell:   shell,
		book:    book,
		store:   store,
		options: OptionsFromConfig(cfg),
		now:     time.Now,
	}
}

// Result 登录结果
type Result struct {
	Credential credential.Credential
	Report     credential.Report // 保存后凭证文件的检查结果
	Err        error
}

// Session 一次正在进行的登录
type Session struct {
	events chan types.LoginEvent
	done   chan struct{}
	result Result
}

// Events 登录事件，结束后关闭
func (s *Session) Events() <-chan types.LoginEvent {
	return s.events
}

// Wait 等待登录结束
func (s *Session) Wait() Result {
	<-s.done
	return s.result
}

// Start 在登录租约的标签页上异步执行登录
func (o *Observer) Start(ctx context.Context, lease *session.Lease) *Session {
	s := &Session{
		events: make(chan types.LoginEvent, eventBuffer),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		s.result = o.run(ctx, lease, func(e types.LoginEvent) {
			select {
			case s.events <- e:
			case <-ctx.Done():
			}
		})
	}()
	return s
}

// Run 同步执行登录，事件通过 onEvent 回调（可为 nil）
func (o *Observer) Run(ctx context.Context, lease *session.Lease, onEvent func(types.LoginEvent)) Result {
	if onEvent == nil {
		onEvent = func(types.LoginEvent) {}
	}
	return o.run(ctx, lease, onEvent)
}

func (o *Observer) run(ctx context.Context, lease *session.Lease, emit func(types.LoginEvent)) Result {
	if lease == nil || lease.Released() {
		return Result{Err: types.NewInvalidRequest("login needs a live lease")}
	}
	cred := lease.Credential
	platformName := lease.Platform.String()
	report := func(kind types.LoginEventKind, elapsed time.Duration, reason string) {
		emit(types.LoginEvent{
			Kind:         kind,
			CredentialID: cred.ID,
			Platform:     lease.Platform,
			ElapsedSec:   int(elapsed / time.Second),
			Reason:       reason,
			At:           o.now(),
		})
	}
	fail := func(err error, reason string) Result {
		utils.ErrorWithPlatform(platformName, fmt.Sprintf("[-] 登录失败: %v", err))
		metricLogins.WithLabelValues(platformName, "failed").Inc()
		report(types.LoginFailed, 0, reason)
		return Result{Credential: cred, Err: err}
	}

	if cred.Path == "" {
		return fail(types.NewInvalidRequest("credential %s has no file path", cred.ID), "invalid_request")
	}
	r, err := o.book.Get(lease.Platform)
	if err != nil {
		return fail(err, "invalid_request")
	}

	report(types.LoginOpening, 0, "")
	utils.InfoWithPlatform(platformName, fmt.Sprintf("[-] 打开登录页: %s", r.LoginURL))
	if err := o.shell.Navigate(ctx, lease.TabID, r.LoginURL); err != nil {
		return fail(err, reasonOf(err))
	}

	if err := o.waitForUser(ctx, lease.TabID, r, report); err != nil {
		// 标签页保持打开，由调用方决定是否关闭
		return fail(err, reasonOf(err))
	}

	report(types.LoginSaving, 0, "")
	saved, rep, err := o.persist(ctx, lease.TabID, cred, r)
	if err != nil {
		return fail(err, reasonOf(err))
	}

	metricLogins.WithLabelValues(platformName, "done").Inc()
	utils.SuccessWithPlatform(platformName, fmt.Sprintf("[+] 登录成功，凭证已保存: %s", saved.Path))
	report(types.LoginDone, 0, "")
	return Result{Credential: saved, Report: rep}
}

// waitForUser 按固定间隔检查地址，直到离开登录页并出现登录后元素
func (o *Observer) waitForUser(ctx context.Context, tabID string, r *recipe.Recipe, report func(types.LoginEventKind, time.Duration, string)) error {
	start := o.now()
	deadline := start.Add(o.options.Timeout)
	for {
		ok, err := o.authenticated(ctx, tabID, r)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		elapsed := o.now().Sub(start)
		if !o.now().Before(deadline) {
			return types.NewStepTimeout("login")
		}
		utils.DebugWithPlatform(r.Platform.String(), fmt.Sprintf("[-] 等待用户登录，已等待 %d 秒", int(elapsed.Seconds())))
		report(types.LoginAwaitingUser, elapsed, "")

		timer := time.NewTimer(o.options.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.NewCancelled("login", ctx.Err())
		case <-timer.C:
		}
	}
}

func (o *Observer) authenticated(ctx context.Context, tabID string, r *recipe.Recipe) (bool, error) {
	href, err := o.shell.Execute(ctx, tabID, recipe.LocationScript)
	if err != nil {
		return false, err
	}
	if !r.IsAuthenticatedURL(href.String()) {
		return false, nil
	}
	if r.AuthSelector == "" {
		return true, nil
	}
	found, err := o.shell.Execute(ctx, tabID, recipe.ProbeScript(r.AuthSelector))
	if err != nil {
		return false, err
	}
	return found.Bool(), nil
}

// persist 保存 Cookie、修复 sameSite、检查必需 Cookie 并登记凭证
func (o *Observer) persist(ctx context.Context, tabID string, cred credential.Credential, r *recipe.Recipe) (credential.Credential, credential.Report, error) {
	platformName := r.Platform.String()
	if err := o.shell.SaveCookies(ctx, tabID, cred.Path); err != nil {
		return cred, credential.Report{}, err
	}

	fixed, err := credential.RepairFile(cred.Path)
	if err != nil {
		return cred, credential.Report{}, fmt.Errorf("repair credential file: %w", err)
	}
	if fixed > 0 {
		utils.InfoWithPlatform(platformName, fmt.Sprintf("[-] 已修正 %d 个 Cookie 的 sameSite", fixed))
	}

	now := o.now()
	rep, err := credential.Inspect(cred.Path, r.RequiredCookies, now)
	if err != nil {
		return cred, credential.Report{}, err
	}
	if !rep.Healthy() {
		utils.WarnWithPlatform(platformName, fmt.Sprintf("[-] 凭证缺少必需 Cookie: 缺失 [%s], 过期 [%s]",
			strings.Join(rep.Missing, ","), strings.Join(rep.Expired, ",")))
	}

	cred.Platform = r.Platform
	cred.Verdict = credential.VerdictValid
	cred.LastValidatedAt = now
	if err := o.store.Save(context.WithoutCancel(ctx), cred); err != nil {
		return cred, rep, fmt.Errorf("save credential: %w", err)
	}
	return cred, rep, nil
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, types.ErrStepTimeout):
		return "timeout"
	case errors.Is(err, types.ErrCancelled):
		return "cancelled"
	}
	if kind := types.KindOf(err); kind != "" {
		return string(kind)
	}
	return err.Error()
}
