package exchange

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies gateway failures so callers can decide whether to
// retry, back off, or escalate.
type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"   // Network/timeout, retryable
	KindAPI         ErrorKind = "api"         // Exchange rejected the request
	KindRateLimited ErrorKind = "rate_limited"
	KindUnreachable ErrorKind = "unreachable" // Repeated transport failures, critical
	KindValidation  ErrorKind = "validation"  // Bad request, not retryable
)

// APIError is the structured error returned by every gateway call.
type APIError struct {
	Kind       ErrorKind
	Code       int
	Message    string
	Retryable  bool
	RetryAfter time.Duration // Advised backoff, zero if not applicable
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange %s error %d: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange %s error: %s", e.Kind, e.Message)
}

// NewTransportError wraps a network-level failure.
func NewTransportError(msg string) *APIError {
	return &APIError{Kind: KindTransport, Message: msg, Retryable: true, RetryAfter: time.Second}
}

// NewRateLimitError reports a denied request with an advised retry delay.
func NewRateLimitError(retryAfter time.Duration) *APIError {
	return &APIError{
		Kind:       KindRateLimited,
		Message:    "rate limit exceeded",
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

// NewUnreachableError escalates repeated transport failures.
func NewUnreachableError(failures int) *APIError {
	return &APIError{
		Kind:      KindUnreachable,
		Message:   fmt.Sprintf("exchange unreachable after %d consecutive failures", failures),
		Retryable: true,
	}
}

// IsRateLimited reports whether err is a rate-limit denial.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindRateLimited
}

// IsUnreachable reports whether err signals the exchange is down.
func IsUnreachable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindUnreachable
}

// IsRetryable reports whether the failed call may be retried.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

// RetryAfter returns the advised backoff, or zero.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
