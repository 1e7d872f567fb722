package solver

import (
	"errors"
	"fmt"
	"time"
)

// UnavailableError means the adapter could not reach the field engine.
// Transient: retried before counting toward the consecutive-failure budget.
type UnavailableError struct {
	Endpoint string
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("solver unavailable at %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("solver unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// DivergedError means the simulation ran but did not converge numerically.
type DivergedError struct {
	JobID  string
	Detail string
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("simulation %s diverged: %s", e.JobID, e.Detail)
}

// TimeoutError means a solve exceeded its configured deadline. The driver
// treats it exactly like any other solver failure.
type TimeoutError struct {
	JobID string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("simulation %s timed out after %s", e.JobID, e.After)
}

// IsTransient reports whether the error is a solver-layer failure worth
// retrying with the same job.
func IsTransient(err error) bool {
	var unavailable *UnavailableError
	var diverged *DivergedError
	var timeout *TimeoutError
	return errors.As(err, &unavailable) || errors.As(err, &diverged) || errors.As(err, &timeout)
}
