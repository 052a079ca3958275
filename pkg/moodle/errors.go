package moodle

import (
	"context"
	"errors"
	"fmt"
)

// ErrSessionExpired is raised by the session layer whenever a response
// carries one of the logout markers. It is recoverable by a re-login and
// must be handled once at the top level, not per item.
var ErrSessionExpired = errors.New("moodle: session expired")

// AuthError means the login flow itself failed: bad credentials or an
// identity provider page whose expected structure was absent. Not retried.
type AuthError struct {
	Step string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("moodle: login failed at %s", e.Step)
	}
	return fmt.Sprintf("moodle: login failed at %s: %v", e.Step, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ParseError means a page did not have the structure the classifier
// expects. Callers treat it as a per-item failure.
type ParseError struct {
	Page    string
	Missing string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("moodle: parsing %s: missing %s", e.Page, e.Missing)
}

// TransportError surfaces after the session layer has exhausted its
// transport retries.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("moodle: request to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsFatal reports whether err must escape every per-item error boundary:
// session expiry (handled once at the top) and cancellation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
