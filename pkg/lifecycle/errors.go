package lifecycle

import (
	"errors"
	"fmt"
)

// ErrUnknownRun is returned when an operation references a run ID this
// process has never seen and the remote service does not know either.
var ErrUnknownRun = errors.New("unknown run")

// ValidationError reports a request rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid analysis request: %s: %s", e.Field, e.Message)
}

// InsufficientCreditsError is returned when the caller's balance does
// not cover the estimated cost of a private analysis.
type InsufficientCreditsError struct {
	Required int
	Balance  int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Balance)
}

// InvalidStateError is returned when results are requested for a job
// that is not in a state that has results.
type InvalidStateError struct {
	RunID  string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("run %s has no results: status is %s", e.RunID, e.Status)
}
