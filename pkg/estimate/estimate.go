// Package estimate computes local credit-cost estimates for analysis
// runs. Estimation is a pure function of the request shape — no
// network calls — so affordability can be checked before a billed
// submission is ever made.
package estimate

import (
	"fmt"
	"math"
)

// Visibility controls whether a run is published to the public gallery
// (free) or kept private (costs credits).
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// IsValid checks if the visibility value is valid.
func (v Visibility) IsValid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// ValidationError reports a rejected estimation input. Inputs are
// never silently clamped.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Credits returns the credit cost of a run: max(1, ceil(fileSizeMB*depth))
// for private visibility, 0 for public. Public runs are free but capped
// at depth 1 and their results are published; that cap is enforced by
// request validation, not here.
func Credits(fileSizeMB float64, depth int, visibility Visibility) (int, error) {
	if fileSizeMB <= 0 {
		return 0, &ValidationError{Field: "file_size_mb", Message: fmt.Sprintf("must be positive; got %g", fileSizeMB)}
	}
	if depth <= 0 {
		return 0, &ValidationError{Field: "depth_iterations", Message: fmt.Sprintf("must be positive; got %d", depth)}
	}
	if !visibility.IsValid() {
		return 0, &ValidationError{Field: "visibility", Message: fmt.Sprintf("must be %q or %q; got %q", VisibilityPublic, VisibilityPrivate, visibility)}
	}

	if visibility == VisibilityPublic {
		return 0, nil
	}

	credits := int(math.Ceil(fileSizeMB * float64(depth)))
	if credits < 1 {
		credits = 1
	}
	return credits, nil
}
