package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/config"
	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
	"github.com/ew384/social-auto-upload-sub000/internal/utils"
	"github.com/ew384/social-auto-upload-sub000/internal/utils/retry"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Orchestrator 会话编排器，核心对外的唯一入口
//
// 每个凭证一把长期持有的锁（覆盖整个租约），同一凭证的请求排队，不同凭证完全并行。
type Orchestrator struct {
	shell     browser.Shell
	store     credential.Store
	book      *recipe.Book
	registry  *Registry
	validator *Validator
	options   ValidationOptions

	mu          sync.Mutex
	locks       map[string]*semaphore.Weighted
	invalidated map[string]bool
	leases      map[string]*Lease
	closed      bool
	active      sync.WaitGroup // 持有或等待凭证锁的调用
}

// New 创建编排器
func New(shell browser.Shell, store credential.Store, book *recipe.Book, cfg config.SessionConfig) *Orchestrator {
	opts := OptionsFromConfig(cfg)
	return &Orchestrator{
		shell:       shell,
		store:       store,
		book:        book,
		registry:    NewRegistry(),
		validator:   NewValidator(shell, opts),
		options:     opts,
		locks:       make(map[string]*semaphore.Weighted),
		invalidated: make(map[string]bool),
		leases:      make(map[string]*Lease),
	}
}

// Registry 标签页注册表
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// LiveLeases 当前未释放的租约数
func (o *Orchestrator) LiveLeases() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.leases)
}

// Acquire 获取凭证对应的已登录标签页
func (o *Orchestrator) Acquire(ctx context.Context, credentialID string, platform types.Platform) (*Lease, error) {
	lease, err := o.acquire(ctx, credentialID, platform)
	result := "ok"
	if err != nil {
		result = string(types.KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	metricAcquires.WithLabelValues(platform.String(), result).Inc()
	return lease, err
}

func (o *Orchestrator) acquire(ctx context.Context, credentialID string, platform types.Platform) (*Lease, error) {
	if o.isClosed() {
		return nil, shutdownError("acquire")
	}
	cred, err := o.store.Get(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("load credential %s: %w", credentialID, err)
	}
	if cred.Platform != platform {
		return nil, types.NewInvalidRequest("credential %s belongs to %s, not %s", credentialID, cred.Platform, platform)
	}
	r, err := o.book.Get(platform)
	if err != nil {
		return nil, err
	}

	unlock, err := o.lock(ctx, credentialID, "acquire")
	if err != nil {
		return nil, err
	}
	lease, err := o.prepare(ctx, *cred, r)
	if err != nil {
		unlock()
		return nil, err
	}
	o.track(lease, unlock)
	utils.InfoWithPlatform(platform.String(), fmt.Sprintf("[+] 已获取会话: 凭证 %s -> 标签页 %s", credentialID, lease.TabID))
	return lease, nil
}

// prepare 在持有凭证锁的情况下确保标签页存在并已登录
func (o *Orchestrator) prepare(ctx context.Context, cred credential.Credential, r *recipe.Recipe) (*Lease, error) {
	if o.takeInvalidated(cred.ID) {
		o.discard(ctx, cred.ID, "invalidated")
	}

	for attempt := 0; ; attempt++ {
		if err := checkContext(ctx, "acquire"); err != nil {
			return nil, err
		}
		tabID, created, err := o.ensureTab(ctx, cred, r)
		if err != nil {
			return nil, err
		}

		err = o.validator.Ensure(ctx, tabID, cred, r)
		switch {
		case err == nil:
			now := time.Now()
			o.markValidated(ctx, cred.ID, credential.VerdictValid, now)
			o.registry.Touch(cred.ID, "")
			return &Lease{
				ID:           uuid.NewString(),
				CredentialID: cred.ID,
				Platform:     r.Platform,
				TabID:        tabID,
				Credential:   cred,
				AcquiredAt:   now,
				ValidatedAt:  now,
			}, nil

		case errors.Is(err, types.ErrCredentialStale):
			o.markValidated(ctx, cred.ID, credential.VerdictInvalid, time.Now())
			o.discard(ctx, cred.ID, "stale")
			return nil, err

		case errors.Is(err, types.ErrTabNotFound) && attempt == 0:
			// 注册表过期：移除后重新创建一次
			o.registry.Evict(cred.ID)
			continue

		case isCancelled(err):
			// 已绑定的标签页留给下次复用
			return nil, err

		default:
			if created {
				o.discard(ctx, cred.ID, "acquire_failed")
			}
			return nil, err
		}
	}
}

// ensureTab 复用已绑定且壳仍认识的标签页，否则新建并加载 Cookie
func (o *Orchestrator) ensureTab(ctx context.Context, cred credential.Credential, r *recipe.Recipe) (string, bool, error) {
	if entry, ok := o.registry.Lookup(cred.ID); ok {
		tabs, err := o.shell.ListTabs(ctx)
		if err != nil {
			return "", false, err
		}
		if containsTab(tabs, entry.TabID) {
			return entry.TabID, false, nil
		}

		utils.WarnWithPlatform(r.Platform.String(), fmt.Sprintf("[-] 标签页 %s 已不存在，按凭证文件重新查找", entry.TabID))
		o.registry.Evict(cred.ID)
		if adopted, extras, ok := o.registry.Adopt(cred.ID, cred.Path, tabs); ok {
			for _, dup := range extras {
				o.closeTab(ctx, dup.TabID, "duplicate")
			}
			return adopted.TabID, false, nil
		}
	}
	return o.createTab(ctx, cred, r)
}

func (o *Orchestrator) createTab(ctx context.Context, cred credential.Credential, r *recipe.Recipe) (string, bool, error) {
	platform := r.Platform.String()
	label := cred.Username
	if label == "" {
		label = cred.ID
	}

	tabID, err := o.shell.CreateTab(ctx, r.Platform, label, r.HomeURL)
	if err != nil {
		return "", false, err
	}
	if err := o.registry.Bind(cred.ID, tabID, cred.Path); err != nil {
		o.closeTab(ctx, tabID, "bind_failed")
		return "", false, err
	}
	utils.InfoWithPlatform(platform, fmt.Sprintf("[-] 已为凭证 %s 创建标签页 %s", cred.ID, tabID))

	err = o.loadCookiesWithRetry(ctx, tabID, cred)
	if err == nil {
		err = o.shell.Refresh(ctx, tabID)
	}
	if err != nil {
		if isCancelled(err) {
			return "", false, err
		}
		o.discard(ctx, cred.ID, "cookie_load_failed")
		return "", false, err
	}
	return tabID, true, nil
}

// loadCookiesWithRetry Cookie 加载失败时刷新后再试一次；壳不可达不重试
func (o *Orchestrator) loadCookiesWithRetry(ctx context.Context, tabID string, cred credential.Credential) error {
	cfg := retry.Once(o.options.PollInterval, func(err error) bool {
		return !errors.Is(err, types.ErrShellUnreachable) && !errors.Is(err, types.ErrTabNotFound) && !isCancelled(err)
	})
	cfg.OnRetry = func(attempt int, _ time.Duration, err error) {
		utils.Warn(fmt.Sprintf("[-] 加载Cookie失败，刷新后重试: %v", err))
	}
	err := retry.NewRetry(cfg).DoAttempt(ctx, func(attempt int) error {
		if attempt > 0 {
			if err := o.shell.Refresh(ctx, tabID); err != nil {
				return err
			}
		}
		return loadCookies(ctx, o.shell, tabID, cred.Path)
	})
	if err != nil && ctx.Err() != nil {
		return types.NewCancelled("load_cookies", ctx.Err())
	}
	return err
}

// AcquireForLogin 为交互式登录获取标签页，不做登录态校验
//
// cred 可以是尚未保存的新凭证。
func (o *Orchestrator) AcquireForLogin(ctx context.Context, cred credential.Credential) (*Lease, error) {
	if o.isClosed() {
		return nil, shutdownError("acquire_for_login")
	}
	r, err := o.book.Get(cred.Platform)
	if err != nil {
		return nil, err
	}
	unlock, err := o.lock(ctx, cred.ID, "acquire_for_login")
	if err != nil {
		return nil, err
	}

	tabID := ""
	if entry, ok := o.registry.Lookup(cred.ID); ok {
		tabs, err := o.shell.ListTabs(ctx)
		if err != nil {
			unlock()
			return nil, err
		}
		if containsTab(tabs, entry.TabID) {
			tabID = entry.TabID
		} else {
			o.registry.Evict(cred.ID)
		}
	}
	if tabID == "" {
		label := cred.Username
		if label == "" {
			label = cred.ID
		}
		tabID, err = o.shell.CreateTab(ctx, cred.Platform, label, r.LoginURL)
		if err != nil {
			unlock()
			return nil, err
		}
		if err := o.registry.Bind(cred.ID, tabID, cred.Path); err != nil {
			o.closeTab(ctx, tabID, "bind_failed")
			unlock()
			return nil, err
		}
	}

	lease := &Lease{
		ID:           uuid.NewString(),
		CredentialID: cred.ID,
		Platform:     cred.Platform,
		TabID:        tabID,
		Credential:   cred,
		AcquiredAt:   time.Now(),
		ForLogin:     true,
	}
	o.track(lease, unlock)
	return lease, nil
}

// Release 释放租约，可重复调用
func (o *Orchestrator) Release(lease *Lease) {
	if lease == nil || !lease.released.CompareAndSwap(false, true) {
		return
	}
	o.registry.Touch(lease.CredentialID, "")
	o.mu.Lock()
	delete(o.leases, lease.ID)
	o.mu.Unlock()
	metricLiveLeases.Dec()
	if lease.release != nil {
		lease.release()
	}
}

// Invalidate 强制关闭并移除凭证的标签页；租约仍在使用时推迟到下一次获取
func (o *Orchestrator) Invalidate(ctx context.Context, credentialID string) {
	sem := o.lockFor(credentialID)
	if !sem.TryAcquire(1) {
		o.mu.Lock()
		o.invalidated[credentialID] = true
		o.mu.Unlock()
		utils.Info(fmt.Sprintf("[-] 凭证 %s 正在使用，标签页将在下次获取时关闭", credentialID))
		return
	}
	defer sem.Release(1)
	o.discard(ctx, credentialID, "invalidated")
}

// Forget 解除凭证与标签页的绑定，不关闭标签页；凭证锁被占用时不做任何事
func (o *Orchestrator) Forget(credentialID string) bool {
	sem := o.lockFor(credentialID)
	if !sem.TryAcquire(1) {
		return false
	}
	defer sem.Release(1)
	entry, ok := o.registry.Evict(credentialID)
	if ok {
		utils.Info(fmt.Sprintf("[-] 已解除凭证 %s 与标签页 %s 的绑定", credentialID, entry.TabID))
	}
	return ok
}

// Reconcile 与壳的实际标签页对齐，关闭同一凭证的多余标签页
func (o *Orchestrator) Reconcile(ctx context.Context) (ReconcileResult, error) {
	creds, err := o.store.List(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list credentials: %w", err)
	}
	known := make(map[string]string, len(creds))
	for _, c := range creds {
		if c.Path != "" {
			known[c.Path] = c.ID
		}
	}

	taken := time.Now()
	tabs, err := o.shell.ListTabs(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}
	result := o.registry.ReconcileAt(tabs, known, taken)
	for _, dup := range result.Duplicates {
		utils.Warn(fmt.Sprintf("[-] 标签页 %s 与其他标签页共用凭证 %s，关闭", dup.TabID, dup.CookieFile))
		o.closeTab(ctx, dup.TabID, "duplicate")
	}
	utils.Info(fmt.Sprintf("[+] 注册表已对齐: 保留 %d, 关闭重复 %d, 忽略未知 %d", len(result.Kept), len(result.Duplicates), len(result.Unknown)))
	return result, nil
}

// Shutdown 拒绝新的获取，等待租约释放（ctx 结束则不再等待），然后关闭所有标签页
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		o.active.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		utils.Warn(fmt.Sprintf("[-] 仍有 %d 个租约未释放，直接关闭标签页", o.LiveLeases()))
	}

	closeCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(4)
	for _, entry := range o.registry.Snapshot() {
		entry := entry
		g.Go(func() error {
			o.registry.Evict(entry.CredentialID)
			err := o.shell.CloseTab(closeCtx, entry.TabID)
			if err != nil && !errors.Is(err, types.ErrTabNotFound) {
				return fmt.Errorf("close tab %s: %w", entry.TabID, err)
			}
			metricTabsClosed.WithLabelValues("shutdown").Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	utils.Info("[+] 会话编排器已关闭")
	return nil
}

// lock 获取凭证锁，返回只会生效一次的解锁函数
func (o *Orchestrator) lock(ctx context.Context, credentialID, op string) (func(), error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, shutdownError(op)
	}
	o.active.Add(1)
	o.mu.Unlock()

	sem := o.lockFor(credentialID)
	if err := sem.Acquire(ctx, 1); err != nil {
		o.active.Done()
		return nil, types.NewCancelled(op, err)
	}
	if o.isClosed() {
		sem.Release(1)
		o.active.Done()
		return nil, shutdownError(op)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			sem.Release(1)
			o.active.Done()
		})
	}, nil
}

func (o *Orchestrator) lockFor(credentialID string) *semaphore.Weighted {
	o.mu.Lock()
	defer o.mu.Unlock()
	sem, ok := o.locks[credentialID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		o.locks[credentialID] = sem
	}
	return sem
}

func (o *Orchestrator) track(lease *Lease, unlock func()) {
	lease.release = unlock
	o.mu.Lock()
	o.leases[lease.ID] = lease
	o.mu.Unlock()
	metricLiveLeases.Inc()
}

func (o *Orchestrator) takeInvalidated(credentialID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.invalidated[credentialID] {
		return false
	}
	delete(o.invalidated, credentialID)
	return true
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// discard 移除绑定并关闭标签页
func (o *Orchestrator) discard(ctx context.Context, credentialID, reason string) {
	entry, ok := o.registry.Evict(credentialID)
	if !ok {
		return
	}
	o.closeTab(ctx, entry.TabID, reason)
}

// closeTab 关闭标签页；调用方已取消时仍然执行，标签页已不存在不算错误
func (o *Orchestrator) closeTab(ctx context.Context, tabID, reason string) {
	err := o.shell.CloseTab(context.WithoutCancel(ctx), tabID)
	if err != nil && !errors.Is(err, types.ErrTabNotFound) {
		utils.Warn(fmt.Sprintf("[-] 关闭标签页 %s 失败(%s): %v", tabID, reason, err))
		return
	}
	metricTabsClosed.WithLabelValues(reason).Inc()
}

func (o *Orchestrator) markValidated(ctx context.Context, credentialID string, verdict credential.Verdict, at time.Time) {
	if err := o.store.MarkValidated(context.WithoutCancel(ctx), credentialID, verdict, at); err != nil {
		utils.Warn(fmt.Sprintf("[-] 更新凭证 %s 校验结论失败: %v", credentialID, err))
	}
}

func containsTab(tabs []browser.TabInfo, tabID string) bool {
	for _, t := range tabs {
		if t.TabID == tabID {
			return true
		}
	}
	return false
}

func checkContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return types.NewCancelled(op, err)
	}
	return nil
}

func shutdownError(op string) error {
	return &types.Error{Kind: types.KindShutdown, Op: op}
}
