package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrorConfigMissing ErrorCode = "CONFIG_MISSING"
	ErrorConfigInvalid ErrorCode = "CONFIG_INVALID"
	ErrorUpstream      ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal      ErrorCode = "INTERNAL_ERROR"
)

// Error is the failure type returned by RelayService. Message is safe to show
// callers; Detail is a short diagnostic that never holds credential material.
type Error struct {
	Code    ErrorCode
	Reason  string
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason, message, detail string, err error) *Error {
	return &Error{Code: code, Reason: reason, Message: message, Detail: detail, Err: err}
}
