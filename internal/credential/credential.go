// Package credential 凭证包（Cookie 文件）及其元数据存储
//
// 凭证文件位于凭证目录下，文件名（去掉 .json）即凭证 ID，文件本身是登录态的权威来源。
package credential

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/config"
	"github.com/ew384/social-auto-upload-sub000/internal/types"

	"github.com/google/uuid"
)

// Verdict 最近一次校验结论
type Verdict string

const (
	VerdictValid   Verdict = config.VerdictValid
	VerdictInvalid Verdict = config.VerdictInvalid
	VerdictUnknown Verdict = config.VerdictUnknown
)

// ErrNotFound 凭证不存在
var ErrNotFound = errors.New("credential not found")

// Credential 凭证元数据
type Credential struct {
	ID              string         `json:"id"`
	Platform        types.Platform `json:"platform"`
	Username        string         `json:"username"`
	Path            string         `json:"path"`
	LastValidatedAt time.Time      `json:"lastValidatedAt"`
	Verdict         Verdict        `json:"verdict"`
}

// Store 凭证元数据存储
type Store interface {
	Get(ctx context.Context, id string) (*Credential, error)
	List(ctx context.Context) ([]Credential, error)
	Save(ctx context.Context, cred Credential) error
	MarkValidated(ctx context.Context, id string, verdict Verdict, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// NewID 生成新的凭证 ID
func NewID() string {
	return uuid.NewString()
}

// PathFor 凭证 ID 对应的文件路径
func PathFor(dir, id string) string {
	return filepath.Join(dir, id+".json")
}

// IDFromPath 从凭证文件路径取出凭证 ID，文件名不是 UUID 时返回错误
func IDFromPath(path string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id, err := uuid.Parse(base)
	if err != nil {
		return "", fmt.Errorf("credential file %s is not named by uuid: %w", path, err)
	}
	return id.String(), nil
}

// SamePath 比较两个凭证路径是否指向同一文件
func SamePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// MemoryStore 内存实现，测试和无数据库场景使用
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Credential
}

func NewMemoryStore(creds ...Credential) *MemoryStore {
	s := &MemoryStore{items: make(map[string]Credential)}
	for _, c := range creds {
		s.items[c.ID] = c
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &c, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Credential, 0, len(s.items))
	for _, c := range s.items {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, cred Credential) error {
	if cred.ID == "" {
		return fmt.Errorf("credential id is empty")
	}
	if cred.Verdict == "" {
		cred.Verdict = VerdictUnknown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[cred.ID] = cred
	return nil
}

func (s *MemoryStore) MarkValidated(_ context.Context, id string, verdict Verdict, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.Verdict = verdict
	c.LastValidatedAt = at
	s.items[id] = c
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.items, id)
	return nil
}
