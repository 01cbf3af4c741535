package core

import (
	"errors"
	"fmt"
	"time"
)

const (
	CodeProviderTransient  = "E_PROVIDER_TRANSIENT"
	CodeProviderPermanent  = "E_PROVIDER_PERMANENT"
	CodeRateLimited        = "E_RATE_LIMITED"
	CodeTransform          = "E_TRANSFORM"
	CodeVersionConflict    = "E_VERSION_CONFLICT"
	CodeConnectorUnhealthy = "E_CONNECTOR_UNHEALTHY"
	CodeNotFound           = "E_NOT_FOUND"
	CodeInvalidRule        = "E_INVALID_RULE"
)

// Error wraps engine failures with a stable code and a retryability hint.
type Error struct {
	Code      string
	Retryable bool

	// RetryAfter carries a provider-declared wait hint for rate limiting.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// WrapError builds a typed error around err.
func WrapError(code string, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// Errorf builds a typed error from a format string.
func Errorf(code string, retryable bool, format string, args ...any) *Error {
	return &Error{Code: code, Retryable: retryable, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the engine code of err, or "" when err carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given engine code.
func IsCode(err error, code string) bool { return CodeOf(err) == code }

// IsRetryable reports whether err is worth retrying. Untyped errors are
// treated as transient so network-level failures get backoff by default.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

// RetryAfterHint returns the provider-declared wait hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}
