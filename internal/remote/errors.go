package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common backend failure classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	// ErrMalformed means the backend answered 2xx but the payload did not
	// have the expected shape.
	ErrMalformed = errors.New("malformed response")
)

// StatusError is a non-2xx response that did not map to a sentinel.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
