package discovery

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for remote-service failures.
var (
	// ErrAuthFailed maps HTTP 401 from either upstream.
	ErrAuthFailed = errors.New("authentication failed: check your API key or session token")

	// ErrPaymentRequired maps HTTP 402: the account needs a payment
	// method before the operation can proceed.
	ErrPaymentRequired = errors.New("payment required: add a payment method first")

	// ErrRunNotFound maps HTTP 404 on the run status/results endpoint.
	// For a run ID that was previously valid this is a data-loss
	// signal, not a computation failure; the lifecycle manager maps it
	// to the expired state.
	ErrRunNotFound = errors.New("run not found")

	// ErrServiceUnavailable is returned when transient-failure retries
	// are exhausted.
	ErrServiceUnavailable = errors.New("discovery service unavailable")
)

// APIError is a non-transient HTTP error from an upstream, carrying
// the service-provided detail message. Body holds the raw response so
// callers can recover structured fields (e.g. the run ID inside a
// duplicate-submission conflict).
type APIError struct {
	StatusCode int
	Detail     string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Detail)
}

// RateLimitError maps HTTP 429. RetryAfter is the server-requested
// wait, defaulting to a minute when the header is absent.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}
