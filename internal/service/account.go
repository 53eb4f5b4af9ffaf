// Package service 面向调用方的账号与日志服务
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/login"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/session"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
	"github.com/ew384/social-auto-upload-sub000/internal/utils"
)

// AccountService 账号管理：凭证元数据、校验与交互式登录
type AccountService struct {
	store     credential.Store
	sessions  *session.Orchestrator
	observer  *login.Observer
	cookieDir string
}

func NewAccountService(store credential.Store, sessions *session.Orchestrator, observer *login.Observer, cookieDir string) *AccountService {
	return &AccountService{
		store:     store,
		sessions:  sessions,
		observer:  observer,
		cookieDir: cookieDir,
	}
}

func (s *AccountService) List(ctx context.Context) ([]credential.Credential, error) {
	return s.store.List(ctx)
}

func (s *AccountService) Get(ctx context.Context, id string) (*credential.Credential, error) {
	return s.store.Get(ctx, id)
}

// Delete 删除账号：关闭标签页、删除凭证文件和元数据
func (s *AccountService) Delete(ctx context.Context, id string) error {
	cred, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	s.sessions.Invalidate(ctx, id)

	if cred.Path != "" {
		if err := os.Remove(cred.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove credential file failed: %w", err)
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	utils.InfoWithPlatform(cred.Platform.String(), fmt.Sprintf("[+] 账号已删除: %s (%s)", cred.Username, id))
	return nil
}

// Validate 获取一次会话来确认登录态，结论由编排器写回存储
//
// 凭证失效返回 invalid 且 err 为 nil；壳不可用等其他错误返回 unknown 和原始错误。
func (s *AccountService) Validate(ctx context.Context, id string) (credential.Verdict, error) {
	cred, err := s.store.Get(ctx, id)
	if err != nil {
		return credential.VerdictUnknown, err
	}

	lease, err := s.sessions.Acquire(ctx, id, cred.Platform)
	if err != nil {
		if errors.Is(err, types.ErrCredentialStale) {
			return credential.VerdictInvalid, nil
		}
		return credential.VerdictUnknown, err
	}
	s.sessions.Release(lease)
	return credential.VerdictValid, nil
}

// Login 为新账号打开登录页并等待用户完成登录，事件通过 onEvent 回调（可为 nil）
func (s *AccountService) Login(ctx context.Context, platform types.Platform, username string, onEvent func(types.LoginEvent)) login.Result {
	if !platform.Valid() {
		return login.Result{Err: types.NewInvalidRequest("unsupported platform %d", int(platform))}
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return login.Result{Err: types.NewInvalidRequest("username is empty")}
	}
	if err := os.MkdirAll(s.cookieDir, 0755); err != nil {
		return login.Result{Err: fmt.Errorf("create cookie directory failed: %w", err)}
	}

	id := credential.NewID()
	cred := credential.Credential{
		ID:       id,
		Platform: platform,
		Username: username,
		Path:     credential.PathFor(s.cookieDir, id),
		Verdict:  credential.VerdictUnknown,
	}
	return s.runLogin(ctx, cred, onEvent)
}

// Relogin 已有账号重新登录，成功后覆盖原凭证文件
func (s *AccountService) Relogin(ctx context.Context, id string, onEvent func(types.LoginEvent)) login.Result {
	cred, err := s.store.Get(ctx, id)
	if err != nil {
		return login.Result{Err: err}
	}
	if cred.Path == "" {
		cred.Path = credential.PathFor(s.cookieDir, cred.ID)
	}
	return s.runLogin(ctx, *cred, onEvent)
}

func (s *AccountService) runLogin(ctx context.Context, cred credential.Credential, onEvent func(types.LoginEvent)) login.Result {
	lease, err := s.sessions.AcquireForLogin(ctx, cred)
	if err != nil {
		return login.Result{Credential: cred, Err: err}
	}
	result := s.observer.Run(ctx, lease, onEvent)
	s.sessions.Release(lease)

	// 首次登录失败：凭证从未保存，解除绑定，标签页留给用户
	if result.Err != nil {
		if _, err := s.store.Get(context.WithoutCancel(ctx), cred.ID); errors.Is(err, credential.ErrNotFound) {
			s.sessions.Forget(cred.ID)
		}
	}
	return result
}
