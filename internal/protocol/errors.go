package protocol

import (
	"errors"
	"fmt"
)

const (
	CodeValidation        = "VALIDATION"
	CodeMalformed         = "MALFORMED"
	CodeUnknownEvent      = "UNKNOWN_EVENT"
	CodeInvalidState      = "INVALID_STATE"
	CodeNoSession         = "NO_SESSION"
	CodeSessionConflict   = "SESSION_CONFLICT"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeDriverUnavailable = "DRIVER_UNAVAILABLE"
	CodeNavigationFailed  = "NAVIGATION_FAILED"
	CodeDriverCrashed     = "DRIVER_CRASHED"
	CodeInputFailed       = "INPUT_FAILED"
	CodeQueueFull         = "QUEUE_FULL"
	CodeHandoffFailed     = "HANDOFF_FAILED"
)

// CodedError is a typed error used for stable socket and API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a *CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the code carried by err, or "" if err is not coded.
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// Fatal reports whether a code compromises the driver and must close the session.
func Fatal(code string) bool {
	switch code {
	case CodeDriverUnavailable, CodeNavigationFailed, CodeDriverCrashed:
		return true
	}
	return false
}
