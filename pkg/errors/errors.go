package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType classifies failures so callers can decide between retrying,
// reauthenticating, and giving up.
type ErrorType string

const (
	// ErrorTypeAuth means the login attempt sequence was exhausted. Fatal to
	// the whole run.
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeSessionInvalid means the remote signalled that the current
	// session is no longer accepted. Recoverable through reauthentication.
	ErrorTypeSessionInvalid ErrorType = "session_invalid"
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeParsing        ErrorType = "parsing"
	ErrorTypeNotFound       ErrorType = "not_found"
	// ErrorTypeRemote is a terminal classification returned by a remote API
	// (e.g. "article deleted"). Retrying cannot succeed.
	ErrorTypeRemote  ErrorType = "remote"
	ErrorTypeStore   ErrorType = "store"
	ErrorTypeUnknown ErrorType = "unknown"
)

// Error carries a classification alongside the remote status code, if any.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// New creates a classified error.
func New(t ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{Type: t, Code: code, Message: fmt.Sprintf(format, args...)}
}

// TypeOf extracts the classification from err, or ErrorTypeUnknown when err
// carries none.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given classification.
func Is(err error, t ErrorType) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Type == t
}

// IsSessionInvalid reports whether err is the mid-crawl reauthentication
// signal.
func IsSessionInvalid(err error) bool {
	return Is(err, ErrorTypeSessionInvalid)
}

// IsRetryable reports whether a retry of the failed operation can possibly
// succeed.
func IsRetryable(t ErrorType) bool {
	switch t {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableError is IsRetryable applied to an error value. Unclassified
// errors are not retried.
func IsRetryableError(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return IsRetryable(e.Type)
	}
	return false
}
