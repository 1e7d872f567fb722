// Package descent implements a bound-constrained adaptive gradient method
// with a backtracking line search. The step size regrows slowly across
// accepted steps and halves on every rejection, bottoming out at a
// configured minimum that signals a stalled search.
package descent

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/prismlabs/PRISM/internal/optimization"
)

// Config tunes the adaptive step rule.
type Config struct {
	// Bounds holds one [min, max] pair per parameter.
	Bounds [][2]float64

	// InitialStep is the first trial step size, in parameter units.
	InitialStep float64

	// MinStep floors the step size; rejections below it stall the search.
	MinStep float64

	// MaxStep caps regrowth. Zero defaults to InitialStep.
	MaxStep float64

	// GrowthFactor multiplies the step size after an accepted step.
	// Zero defaults to 1.05; values below 1 are rejected.
	GrowthFactor float64

	// Direction selects ascent (Maximize) or descent (Minimize).
	Direction optimization.Direction
}

// Adaptive is the optimizer. Proposals move every parameter along the
// gradient normalized by its largest component, so the step size bounds the
// largest per-parameter change, then clip to bounds.
type Adaptive struct {
	cfg Config
	dx  float64
}

// New validates the configuration and returns a ready optimizer.
func New(cfg Config) (*Adaptive, error) {
	if len(cfg.Bounds) == 0 {
		return nil, optimization.NewError("bounds are required").
			WithComponent("descent").WithOperation("New")
	}
	for i, b := range cfg.Bounds {
		if b[1]-b[0] <= 0 {
			return nil, optimization.NewErrorf("bound range for parameter %d is not positive", i).
				WithComponent("descent").WithOperation("New")
		}
	}
	if cfg.InitialStep <= 0 {
		return nil, optimization.NewError("initial step size must be positive").
			WithComponent("descent").WithOperation("New")
	}
	if cfg.MinStep <= 0 || cfg.MinStep > cfg.InitialStep {
		return nil, optimization.NewError("minimum step size must be positive and at most the initial step").
			WithComponent("descent").WithOperation("New")
	}
	if cfg.MaxStep == 0 {
		cfg.MaxStep = cfg.InitialStep
	}
	if cfg.MaxStep < cfg.InitialStep {
		return nil, optimization.NewError("maximum step size must be at least the initial step").
			WithComponent("descent").WithOperation("New")
	}
	if cfg.GrowthFactor == 0 {
		cfg.GrowthFactor = 1.05
	}
	if cfg.GrowthFactor < 1 {
		return nil, optimization.NewError("growth factor must be at least 1").
			WithComponent("descent").WithOperation("New")
	}
	return &Adaptive{cfg: cfg, dx: cfg.InitialStep}, nil
}

// Step proposes the next parameter vector. A zero gradient returns the
// current point unchanged; the driver's gradient-norm check terminates the
// run in that case.
func (a *Adaptive) Step(current []float64, _ float64, gradient []float64) ([]float64, error) {
	if len(current) != len(a.cfg.Bounds) {
		return nil, optimization.NewErrorf("got %d parameters, optimizer configured for %d",
			len(current), len(a.cfg.Bounds)).
			WithComponent("descent").WithOperation("Step")
	}
	if len(gradient) != len(current) {
		return nil, optimization.NewErrorf("gradient length %d does not match parameter length %d",
			len(gradient), len(current)).
			WithComponent("descent").WithOperation("Step")
	}
	next := append([]float64(nil), current...)
	maxAbs := floats.Norm(gradient, math.Inf(1))
	if maxAbs == 0 {
		return next, nil
	}
	sign := 1.0
	if a.cfg.Direction == optimization.Minimize {
		sign = -1.0
	}
	for i := range next {
		next[i] += sign * a.dx * gradient[i] / maxAbs
	}
	return optimization.Clip(next, a.cfg.Bounds), nil
}

// Accept regrows the step size toward its cap.
func (a *Adaptive) Accept() {
	a.dx = math.Min(a.dx*a.cfg.GrowthFactor, a.cfg.MaxStep)
}

// Reject halves the step size. It returns false once the step size already
// sits at the minimum, which the driver reports as a stalled run.
func (a *Adaptive) Reject() bool {
	if a.dx <= a.cfg.MinStep {
		return false
	}
	a.dx = math.Max(a.dx/2.0, a.cfg.MinStep)
	return true
}

// StepSize returns the current trial step size.
func (a *Adaptive) StepSize() float64 { return a.dx }

// Direction reports the configured optimization direction.
func (a *Adaptive) Direction() optimization.Direction { return a.cfg.Direction }
