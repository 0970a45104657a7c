// Package drive provides an HTTP client for the cloud file store used by
// tracksync. It covers the file, change-feed, and media endpoints the sync
// engine consumes, with automatic retry and error classification.
package drive

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, drive.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("drive: bad request")
	ErrUnauthorized = errors.New("drive: unauthorized")
	ErrForbidden    = errors.New("drive: forbidden")
	ErrNotFound     = errors.New("drive: not found")
	ErrConflict     = errors.New("drive: conflict")
	ErrThrottled    = errors.New("drive: rate limited")
	ErrServerError  = errors.New("drive: server error")
)

// APIError wraps a sentinel error with the HTTP status code and the error
// body returned by the API, for debugging.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("drive: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
