// Package taskclient is the HTTP client for the negotiation task/call backend.
package taskclient

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoAnalysis is returned when the backend has no analysis for a task yet.
var ErrNoAnalysis = errors.New("analysis not available")

// Error is a non-2xx response from the backend.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

// Error returns the server's message so it can be shown to users as is.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend request failed (%d %s)", e.StatusCode, e.Code)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}
