package database

import (
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/types"
)

// Account 账号元数据，凭证文件本身仍是登录态的权威来源
type Account struct {
	ID              string `gorm:"primaryKey;size:36"`
	Platform        int    `gorm:"index;not null"`
	Username        string `gorm:"size:128"`
	CookiePath      string `gorm:"uniqueIndex;not null"`
	Verdict         string `gorm:"size:16;not null"`
	LastValidatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TaskStatus 上传任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// ScheduledTask 持久化的上传任务
//
// ScheduleTime 是调度器开始执行的时间；PublishAt 是平台侧的定时发布时间，为空表示立即发布。
type ScheduledTask struct {
	ID           string   `gorm:"primaryKey;size:36"`
	CredentialID string   `gorm:"index;size:36;not null"`
	Platform     int      `gorm:"not null"`
	VideoPath    string   `gorm:"not null"`
	Title        string   `gorm:"not null"`
	Tags         []string `gorm:"serializer:json"`
	Category     string   `gorm:"size:64"`
	PublishAt    *time.Time
	ScheduleTime time.Time  `gorm:"index"`
	Priority     int        `gorm:"default:0"`
	Status       TaskStatus `gorm:"index;size:16;not null"`
	Outcome      string     `gorm:"size:32"`
	Error        string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Request 由任务生成上传请求
func (t *ScheduledTask) Request() types.WorkflowRequest {
	return types.WorkflowRequest{
		CredentialID: t.CredentialID,
		Platform:     types.Platform(t.Platform),
		VideoPath:    t.VideoPath,
		Title:        t.Title,
		Tags:         append([]string(nil), t.Tags...),
		ScheduleAt:   t.PublishAt,
		Category:     t.Category,
	}
}
