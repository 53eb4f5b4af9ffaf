package types

import (
	"fmt"
	"strings"
	"time"
)

// WorkflowRequest 一次上传尝试的请求，创建后不再修改
type WorkflowRequest struct {
	CredentialID string     `json:"credentialId" validate:"omitempty,uuid"`
	Platform     Platform   `json:"platform" validate:"required"`
	VideoPath    string     `json:"videoPath" validate:"required"`
	Title        string     `json:"title" validate:"required"`
	Tags         []string   `json:"tags" validate:"omitempty,dive,required"`
	ScheduleAt   *time.Time `json:"scheduleAt,omitempty"`
	Category     string     `json:"category,omitempty"`
}

// Scheduled 是否为未来时间的定时发布
func (r WorkflowRequest) Scheduled(now time.Time) bool {
	return r.ScheduleAt != nil && r.ScheduleAt.After(now)
}

// UploadState 上传进度状态
type UploadState string

const (
	StateStarted        UploadState = "STARTED"
	StateUploading      UploadState = "UPLOADING"
	StateMetadataSet    UploadState = "METADATA_SET"
	StateEncoding       UploadState = "ENCODING"
	StateReadyToPublish UploadState = "READY_TO_PUBLISH"
	StatePublishing     UploadState = "PUBLISHING"
	StateSubmitted      UploadState = "SUBMITTED"
	StateFailed         UploadState = "FAILED"
)

var stateOrder = map[UploadState]int{
	StateStarted:        1,
	StateUploading:      2,
	StateMetadataSet:    3,
	StateEncoding:       4,
	StateReadyToPublish: 5,
	StatePublishing:     6,
	StateSubmitted:      7,
}

// Rank 状态在正常流程中的顺序，FAILED 和未知状态为 0
func (s UploadState) Rank() int {
	return stateOrder[s]
}

// Terminal 是否为终态
func (s UploadState) Terminal() bool {
	return s == StateSubmitted || s == StateFailed
}

// OutcomeKind 工作流结果类别
type OutcomeKind string

const (
	OutcomeSubmitted            OutcomeKind = "submitted"
	OutcomeRejected             OutcomeKind = "rejected"
	OutcomeTimedOut             OutcomeKind = "timed_out"
	OutcomeInfrastructureFailed OutcomeKind = "infrastructure_failed"
)

// Outcome 工作流结果
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	Reason     string      `json:"reason,omitempty"`
	Err        error       `json:"-"`
	FinishedAt time.Time   `json:"finishedAt"`
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s{%s}", o.Kind, o.Reason)
}

// Succeeded 是否提交成功
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSubmitted
}

// TruncateRunes 按字符截断，避免截断半个汉字
func TruncateRunes(s string, max int) (string, bool) {
	if max <= 0 {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s, false
	}
	return strings.TrimSpace(string(runes[:max])), true
}
