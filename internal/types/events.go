package types

import "time"

// Event 事件接口
// 所有事件类型都实现此接口，用于类型安全的事件分发
type Event interface {
	EventType() string
}

// ProgressKind 上传进度消息类型
type ProgressKind string

const (
	ProgressState     ProgressKind = "state"               // 状态迁移
	ProgressStep      ProgressKind = "step"                // 开始执行某个步骤
	ProgressUserInput ProgressKind = "user_input_required" // 需要人工操作
)

// Progress 上传进度事件
type Progress struct {
	Kind         ProgressKind  `json:"kind"`
	CredentialID string        `json:"credentialId"`
	Platform     Platform      `json:"platform"`
	State        UploadState   `json:"state,omitempty"`
	Step         string        `json:"step,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Elapsed      time.Duration `json:"elapsed,omitempty"`
	At           time.Time     `json:"at"`
}

// EventType 返回事件类型
func (e Progress) EventType() string { return "upload_progress" }

// LoginEventKind 登录事件类型
type LoginEventKind string

const (
	LoginOpening      LoginEventKind = "opening"
	LoginAwaitingUser LoginEventKind = "awaiting_user"
	LoginSaving       LoginEventKind = "saving"
	LoginDone         LoginEventKind = "done"
	LoginFailed       LoginEventKind = "failed"
)

// LoginEvent 登录进度事件
type LoginEvent struct {
	Kind         LoginEventKind `json:"kind"`
	CredentialID string         `json:"credentialId"`
	Platform     Platform       `json:"platform"`
	ElapsedSec   int            `json:"elapsedSec,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	At           time.Time      `json:"at"`
}

// EventType 返回事件类型
func (e LoginEvent) EventType() string { return "login_progress" }

// Terminal 是否为最终事件
func (e LoginEvent) Terminal() bool {
	return e.Kind == LoginDone || e.Kind == LoginFailed
}

// TaskStatusChangedEvent 任务状态变更事件
type TaskStatusChangedEvent struct {
	TaskID    string `json:"taskId"`
	OldStatus string `json:"oldStatus"`
	NewStatus string `json:"newStatus"`
}

// EventType 返回事件类型
func (e TaskStatusChangedEvent) EventType() string { return "task_status_changed" }

// CredentialStatusChangedEvent 凭证校验结论变更事件
type CredentialStatusChangedEvent struct {
	CredentialID string `json:"credentialId"`
	OldVerdict   string `json:"oldVerdict"`
	NewVerdict   string `json:"newVerdict"`
}

// EventType 返回事件类型
func (e CredentialStatusChangedEvent) EventType() string { return "credential_status_changed" }
