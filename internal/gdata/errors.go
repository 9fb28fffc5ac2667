// Package gdata is a client for the Google Calendar GData (Atom) API. It
// fetches calendar and event feeds, decodes entries into calendar records,
// and writes local records back with optimistic concurrency on etags.
package gdata

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, gdata.ErrNotFound) to check.
var (
	ErrBadRequest         = errors.New("gdata: bad request")
	ErrUnauthorized       = errors.New("gdata: unauthorized")
	ErrForbidden          = errors.New("gdata: forbidden")
	ErrNotFound           = errors.New("gdata: not found")
	ErrConflict           = errors.New("gdata: conflict")
	ErrPreconditionFailed = errors.New("gdata: etag mismatch")
	ErrThrottled          = errors.New("gdata: throttled")
	ErrServerError        = errors.New("gdata: server error")
)

// Errors outside HTTP classification.
var (
	ErrNotLoggedIn   = errors.New("gdata: not logged in")
	ErrMalformedFeed = errors.New("gdata: malformed feed")
	ErrNotEditable   = errors.New("gdata: record has no edit link")
	ErrNoEventFeed   = errors.New("gdata: calendar has no event feed link")
)

// APIError carries the HTTP status and response body of a failed request.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gdata: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
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
	case http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

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
