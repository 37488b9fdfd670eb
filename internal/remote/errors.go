package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// RequestError describes a failed remote call. StatusCode is zero when the
// request never produced a response (connection refused, timeout).
type RequestError struct {
	Op         string // e.g. "upsert holding"
	StatusCode int
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote %s failed: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying on a later drain.
// Network-level failures and server errors are transient; a 4xx response means
// the server understood and rejected the operation, so retrying can never
// succeed.
func (e *RequestError) Transient() bool {
	if e.StatusCode == 0 {
		return true
	}
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	}
	return false
}

// IsTransient reports whether err is a retryable remote failure: a transient
// RequestError, a context timeout or cancellation, or a network-level error
func IsTransient(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsUnreachable reports whether err means the remote service could not be
// reached at all (no response was produced). Distinguishes connectivity loss
// from a reachable but failing server.
func IsUnreachable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode == 0
	}
	return false
}

// IsValidation reports whether err is a permanent rejection by the remote
// service. Validation failures are dropped from the queue rather than retried.
func IsValidation(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return !reqErr.Transient()
	}
	return false
}
