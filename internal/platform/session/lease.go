package session

import (
	"sync/atomic"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
)

// Lease 对某个标签页的独占使用权，直到 Release
type Lease struct {
	ID           string
	CredentialID string
	Platform     types.Platform
	TabID        string
	Credential   credential.Credential
	AcquiredAt   time.Time
	// ValidatedAt 本次获取时确认已登录的时间；登录用租约为零值
	ValidatedAt time.Time
	ForLogin    bool

	released atomic.Bool
	release  func()
}

// Released 是否已经释放
func (l *Lease) Released() bool {
	return l.released.Load()
}
