package discovery

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"rate limit", &RateLimitError{RetryAfter: time.Minute}, true},
		{"server error", &APIError{StatusCode: 502}, true},
		{"client error", &APIError{StatusCode: 400}, false},
		{"auth failure", ErrAuthFailed, false},
		{"eof", io.EOF, true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"unknown", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}

func TestBackoffDelay_Bounds(t *testing.T) {
	min := 100 * time.Millisecond
	max := 2 * time.Second

	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 20; i++ {
			d := backoffDelay(attempt, min, max)
			assert.GreaterOrEqual(t, d, min, "attempt %d", attempt)
			assert.LessOrEqual(t, d, max, "attempt %d", attempt)
		}
	}
}

func TestBackoffDelay_GrowsWithAttempts(t *testing.T) {
	min := 100 * time.Millisecond
	max := 100 * time.Second

	// With a cap this high the un-jittered base doubles each attempt;
	// jitter adds at most 25%, so attempt n+2 always exceeds attempt n.
	d1 := backoffDelay(1, min, max)
	d3 := backoffDelay(3, min, max)
	assert.Greater(t, d3, d1)
}
