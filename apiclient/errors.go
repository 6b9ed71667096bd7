package apiclient

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired is matched by every error produced by a failed session refresh.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotAuthenticated is returned for protected calls made while signed out.
	// No request is dispatched.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidRequest reports a request that could not be built.
	ErrInvalidRequest = errors.New("invalid request")
)

// Error is a failed call surfaced to the caller unchanged: network, client
// (including a repeated 401) and server failures.
type Error struct {
	Kind       FailureKind
	StatusCode int
	Method     string
	Path       string
	Response   *Response // nil for network failures
	Err        error     // transport error, if any
}

func (e *Error) Error() string {
	if e.Response == nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Path, e.Kind, e.Err)
	}
	if len(e.Response.Body) > 0 {
		return fmt.Sprintf(
			"%s %s: %s (status %d): %s",
			e.Method, e.Path, e.Kind, e.StatusCode, truncate(string(e.Response.Body), 200),
		)
	}
	return fmt.Sprintf("%s %s: %s (status %d)", e.Method, e.Path, e.Kind, e.StatusCode)
}

func (e *Error) Unwrap() error { return e.Err }

// RefreshError is delivered to the triggering request and every queued request
// when the session refresh fails.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("session refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

func (e *RefreshError) Is(target error) bool { return target == ErrSessionExpired }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
