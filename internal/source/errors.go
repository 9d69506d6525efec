package source

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConnection marks network or session setup failures.
	ErrConnection = errors.New("connection failed")
	// ErrAuth marks missing or rejected credentials.
	ErrAuth = errors.New("authentication failed")
	// ErrRateLimited marks a platform refusing requests due to rate limits.
	ErrRateLimited = errors.New("rate limited")
	// ErrParse marks a payload that could not be decoded.
	ErrParse = errors.New("parse failed")
	// ErrNotConnected is returned when a fetch is attempted before Connect.
	ErrNotConnected = errors.New("connector is not connected")
)

// StatusError reports an unexpected HTTP status from a platform.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.URL, e.Code)
}

// Is maps well-known statuses onto the sentinel errors so callers can use
// errors.Is without inspecting codes.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
	case ErrRateLimited:
		return e.Code == http.StatusTooManyRequests
	}
	return false
}

// checkStatus returns a *StatusError for any non-200 response.
func checkStatus(resp *http.Response, url string) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return &StatusError{Code: resp.StatusCode, URL: url}
}
