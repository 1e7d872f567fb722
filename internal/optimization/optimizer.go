// Package optimization defines the optimizer contract consumed by the
// adjoint optimization driver, together with the error wrapping shared by
// the numeric packages.
package optimization

// Direction selects whether the figure of merit is maximized or minimized.
type Direction int

const (
	// Maximize treats larger FOM values as better (the default for
	// transmission and mode-overlap objectives).
	Maximize Direction = iota
	// Minimize treats smaller FOM values as better.
	Minimize
)

// Improves reports whether candidate is at least as good as incumbent up to
// tolerance, following the direction.
func (d Direction) Improves(candidate, incumbent, tolerance float64) bool {
	if d == Minimize {
		return candidate <= incumbent+tolerance
	}
	return candidate >= incumbent-tolerance
}

// Status is the terminal classification of an optimization run. All
// terminal states are final; a new run requires driver re-initialization.
type Status int

const (
	// Running means the run has not reached a terminal state.
	Running Status = iota
	// Converged means the gradient norm dropped below tolerance.
	Converged
	// MaxIterationsReached means the iteration budget was exhausted.
	MaxIterationsReached
	// Stalled means the line search could not find an acceptable step above
	// the minimum step size. Reported as completed but unconverged.
	Stalled
	// Failed means solver failures exceeded the configured budget or a
	// fatal consistency error occurred.
	Failed
	// Cancelled means an external cancellation took effect at an iteration
	// boundary.
	Cancelled
)

// Terminal reports whether the status ends the run.
func (s Status) Terminal() bool { return s != Running }

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Converged:
		return "converged"
	case MaxIterationsReached:
		return "max_iterations"
	case Stalled:
		return "stalled"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Optimizer is a bound-constrained iterative step proposer. The driver
// feeds it (parameters, FOM, gradient) triples and accepts or rejects every
// proposal; the optimizer adapts its internal step size accordingly.
//
// Implementations are not safe for concurrent use: a single driver owns the
// optimizer for the lifetime of a run.
type Optimizer interface {
	// Step proposes the next parameter vector from the current accepted
	// point and its gradient. The proposal is already clipped to bounds.
	Step(current []float64, fom float64, gradient []float64) ([]float64, error)

	// Accept commits the last proposal; the internal step size may grow.
	Accept()

	// Reject discards the last proposal and shrinks the step size. It
	// returns false when the step size cannot shrink further, signalling a
	// stalled line search.
	Reject() bool

	// StepSize returns the current trial step size.
	StepSize() float64

	// Direction reports whether proposals ascend or descend the FOM.
	Direction() Direction
}

// Clip limits every parameter to its [min, max] box constraint in place and
// returns the vector. Bounds violations never pass through to geometry
// generation.
func Clip(params []float64, bounds [][2]float64) []float64 {
	for i := range params {
		if i >= len(bounds) {
			break
		}
		if params[i] < bounds[i][0] {
			params[i] = bounds[i][0]
		}
		if params[i] > bounds[i][1] {
			params[i] = bounds[i][1]
		}
	}
	return params
}

// WithinBounds reports whether every parameter honors its box constraint.
func WithinBounds(params []float64, bounds [][2]float64) bool {
	if len(params) != len(bounds) {
		return false
	}
	for i := range params {
		if params[i] < bounds[i][0] || params[i] > bounds[i][1] {
			return false
		}
	}
	return true
}
