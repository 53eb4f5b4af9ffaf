package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind 错误类别
type ErrorKind string

const (
	KindShellUnreachable     ErrorKind = "shell_unreachable"
	KindShellError           ErrorKind = "shell_error"
	KindTabNotFound          ErrorKind = "tab_not_found"
	KindCredentialStale      ErrorKind = "credential_stale"
	KindScriptError          ErrorKind = "script_error"
	KindStepTimeout          ErrorKind = "step_timeout"
	KindUserInputRequired    ErrorKind = "user_input_required"
	KindCancelled            ErrorKind = "cancelled"
	KindFileInputUnsupported ErrorKind = "file_input_unsupported"
	KindAlreadyBound         ErrorKind = "already_bound"
	KindShutdown             ErrorKind = "shutdown"
	KindInvalidRequest       ErrorKind = "invalid_request"
)

// Error 核心统一错误类型，按 Kind 区分
type Error struct {
	Kind    ErrorKind
	Op      string // 出错的操作，例如 execute / acquire
	Step    string // 工作流步骤名
	Status  int    // 壳返回的 HTTP 状态码
	Message string // 壳返回的 error 字段原文
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Step != "" {
		msg += " [" + e.Step + "]"
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 同类别即视为匹配，便于 errors.Is(err, types.ErrCredentialStale)
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrShellUnreachable     = &Error{Kind: KindShellUnreachable}
	ErrShellError           = &Error{Kind: KindShellError}
	ErrTabNotFound          = &Error{Kind: KindTabNotFound}
	ErrCredentialStale      = &Error{Kind: KindCredentialStale}
	ErrScriptError          = &Error{Kind: KindScriptError}
	ErrStepTimeout          = &Error{Kind: KindStepTimeout}
	ErrUserInputRequired    = &Error{Kind: KindUserInputRequired}
	ErrCancelled            = &Error{Kind: KindCancelled}
	ErrFileInputUnsupported = &Error{Kind: KindFileInputUnsupported}
	ErrAlreadyBound         = &Error{Kind: KindAlreadyBound}
	ErrShutdown             = &Error{Kind: KindShutdown}
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest}
)

func NewShellUnreachable(op string, err error) *Error {
	return &Error{Kind: KindShellUnreachable, Op: op, Err: err}
}

func NewShellError(op string, status int, message string) *Error {
	return &Error{Kind: KindShellError, Op: op, Status: status, Message: message}
}

func NewTabNotFound(op, tabID string) *Error {
	return &Error{Kind: KindTabNotFound, Op: op, Message: "tab " + tabID}
}

func NewCredentialStale(credentialID string) *Error {
	return &Error{Kind: KindCredentialStale, Op: "validate", Message: "credential " + credentialID}
}

func NewScriptError(step, message string) *Error {
	return &Error{Kind: KindScriptError, Op: "execute", Step: step, Message: message}
}

func NewStepTimeout(step string) *Error {
	return &Error{Kind: KindStepTimeout, Step: step}
}

func NewUserInputRequired(step string) *Error {
	return &Error{Kind: KindUserInputRequired, Step: step}
}

func NewCancelled(op string, err error) *Error {
	return &Error{Kind: KindCancelled, Op: op, Err: err}
}

func NewFileInputUnsupported(selector, message string) *Error {
	return &Error{Kind: KindFileInputUnsupported, Op: "set_file", Message: fmt.Sprintf("%s: %s", selector, message)}
}

func NewInvalidRequest(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// KindOf 取出错误类别，非核心错误返回空串
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return ""
}

// IsTransient 壳暂时不可用或返回 5xx 时可以重试一次
func IsTransient(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindShellUnreachable:
		return true
	case KindShellError:
		return e.Status >= 500
	}
	return false
}

// WithStep 为错误补充步骤名，返回新副本
func WithStep(err error, step string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	cp := *e
	cp.Step = step
	return &cp
}
