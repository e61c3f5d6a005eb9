package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrNotEnrolled        = errors.New("second factor not enrolled")
	ErrNotEnabled         = errors.New("second factor not enabled")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrSessionExpired     = errors.New("session expired or revoked")
	ErrForbidden          = errors.New("insufficient role")
	ErrSelfTarget         = errors.New("operation not allowed on own account")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrNotFound           = errors.New("not found")
	ErrNotPublished       = errors.New("release not downloadable")
	ErrInvalidOrExpired   = errors.New("download token invalid or expired")
	ErrStoreUnavailable   = errors.New("backing store unavailable")
)

// RateLimitError is returned when a budget is exhausted. errors.Is matches
// it against ErrRateLimited.
type RateLimitError struct {
	Scope     string
	Limit     int
	Remaining int
	ResetAt   time.Time

	// RetryAfter is ResetAt measured from the limiter's clock.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit %d, resets %s)", e.Scope, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// IsAuthFailure reports whether err should surface as a generic 401.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrNotEnrolled) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrSessionExpired)
}
