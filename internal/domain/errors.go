package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPermissionDenied means the bot cannot write to the destination chat.
	// It aborts the current event only.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrMessageGone means the destination message no longer exists.
	ErrMessageGone = errors.New("destination message not found")

	// ErrConnectionFault ends the current pipeline run; the supervisor restarts it.
	ErrConnectionFault = errors.New("connection fault")

	// ErrAuthorizationFault aborts startup and is never retried.
	ErrAuthorizationFault = errors.New("authorization fault")
)

// RateLimitedError carries the server-imposed wait (flood wait).
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// NormalizationFault wraps an internal normalizer failure. It never escapes
// the normalizer; it is only logged.
type NormalizationFault struct {
	Stage string
	Err   error
}

func (e *NormalizationFault) Error() string {
	return fmt.Sprintf("normalize %s: %v", e.Stage, e.Err)
}

func (e *NormalizationFault) Unwrap() error { return e.Err }

