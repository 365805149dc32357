// Package remote provides the HTTP client for the remote sync service with
// retry, error classification, and a websocket change feed. The error
// taxonomy distinguishes network-class failures (retryable by the offline
// queue) from validation-class failures (never retried).
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, remote.ErrValidation) to check.
var (
	// Validation-class: the request itself is wrong. Retrying cannot help.
	ErrBadRequest = errors.New("remote: bad request")
	ErrValidation = errors.New("remote: validation failed")
	ErrConflict   = errors.New("remote: conflict")
	ErrNotFound   = errors.New("remote: not found")

	// Network-class: the service or the path to it is unhealthy. Retryable.
	ErrThrottled   = errors.New("remote: throttled")
	ErrUnavailable = errors.New("remote: service unavailable")
	ErrTimeout     = errors.New("remote: timeout")
)

// Error wraps a sentinel error with the HTTP status code and the API error
// message body for debugging.
type Error struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusConflict:
		return ErrConflict
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	default:
		if code >= http.StatusInternalServerError {
			return ErrUnavailable
		}

		return nil
	}
}

// IsRetryable reports whether a failure is network-class: transport errors,
// timeouts, throttling, and server-side unavailability. Validation-class
// failures and context cancellation are not retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	// A classified HTTP failure is retryable only for the network-class
	// sentinels; everything else (bad request, validation, conflict,
	// not found) is permanent.
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return errors.Is(err, ErrThrottled) ||
			errors.Is(err, ErrUnavailable) ||
			errors.Is(err, ErrTimeout)
	}

	// Plain transport failures (connection refused, DNS, resets, client
	// timeouts) never carry an HTTP status. They surface as net errors and
	// deadline expiries, all transient.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Unclassified errors are presumed transient: the queue's retry budget
	// bounds the damage, while misclassifying a transient failure as
	// permanent would drop the operation without cause.
	return true
}
