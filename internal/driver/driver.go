// Package driver runs the adjoint optimization loop: propose parameters,
// simulate, evaluate the figure of merit, and on acceptance run the adjoint
// simulation and assemble the gradient for the next proposal. The driver
// owns iteration accounting, history, metrics and termination.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/prismlabs/PRISM/internal/field"
	"github.com/prismlabs/PRISM/internal/fom"
	"github.com/prismlabs/PRISM/internal/geometry"
	"github.com/prismlabs/PRISM/internal/metrics"
	"github.com/prismlabs/PRISM/internal/optimization"
	"github.com/prismlabs/PRISM/internal/solver"
	"github.com/prismlabs/PRISM/internal/store"
)

// SourceBuilder derives the adjoint simulation job from a figure-of-merit
// result.
type SourceBuilder interface {
	BuildSource(id string, res *fom.Result, geom *geometry.Geometry, cfg solver.SimConfig) (*solver.SimulationJob, error)
}

// GradientAssembler computes the parameter gradient from the forward and
// scaled adjoint fields and the sensitivity kernels.
type GradientAssembler interface {
	Assemble(fwd, adj *field.Field, kernels [][]float64, weights []float64) ([]float64, error)
}

// Config assembles one optimization pipeline.
type Config struct {
	// RunID names the run in job identifiers and history. Empty generates
	// a fresh UUID.
	RunID string

	Parametrization geometry.Parametrization
	Solver          solver.Adapter
	FOM             fom.Evaluator
	Source          SourceBuilder
	Assembler       GradientAssembler
	Optimizer       optimization.Optimizer

	// Sim is the shared simulation configuration of all runs.
	Sim solver.SimConfig

	// ForwardSource is the physical excitation of forward runs.
	ForwardSource solver.SourceSpec

	// MaxIterations bounds the number of trials, accepted and rejected
	// alike, so the loop always terminates.
	MaxIterations int

	// FOMTolerance is the acceptance slack: a trial within tolerance of the
	// incumbent still counts as an improvement.
	FOMTolerance float64

	// GradientTolerance converges the run when the Euclidean gradient norm
	// drops below it. Zero disables the check.
	GradientTolerance float64

	// MaxConsecutiveSolverFailures fails the run after this many
	// back-to-back abandoned trials. Zero defaults to 3.
	MaxConsecutiveSolverFailures int

	// History, when set, records every trial.
	History *store.TraceWriter

	// Observer, when set, receives per-trial records. Sends never block;
	// slow consumers miss records rather than stalling the run.
	Observer chan<- IterationRecord

	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// IterationRecord is the per-trial progress notification.
type IterationRecord struct {
	Iteration    int
	Params       []float64
	FOM          float64
	GradientNorm float64
	StepSize     float64
	Accepted     bool
}

// State is the driver's view of an optimization run. Params, FOM and
// Gradient always describe the last accepted point.
type State struct {
	Params    []float64
	FOM       float64
	Gradient  []float64
	Iteration int
	Status    optimization.Status
}

// Driver executes optimization runs. One driver serves one run.
type Driver struct {
	cfg    Config
	logger *zap.Logger
}

// New validates the pipeline configuration.
func New(cfg Config) (*Driver, error) {
	switch {
	case cfg.Parametrization == nil:
		return nil, optimization.NewError("parametrization is required").WithComponent("driver")
	case cfg.Solver == nil:
		return nil, optimization.NewError("solver adapter is required").WithComponent("driver")
	case cfg.FOM == nil:
		return nil, optimization.NewError("figure of merit is required").WithComponent("driver")
	case cfg.Source == nil:
		return nil, optimization.NewError("adjoint source builder is required").WithComponent("driver")
	case cfg.Assembler == nil:
		return nil, optimization.NewError("gradient assembler is required").WithComponent("driver")
	case cfg.Optimizer == nil:
		return nil, optimization.NewError("optimizer is required").WithComponent("driver")
	case cfg.MaxIterations <= 0:
		return nil, optimization.NewError("max iterations must be positive").WithComponent("driver")
	case len(cfg.Sim.Wavelengths) == 0:
		return nil, optimization.NewError("simulation wavelengths are required").WithComponent("driver")
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.MaxConsecutiveSolverFailures <= 0 {
		cfg.MaxConsecutiveSolverFailures = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run_id", cfg.RunID))
	return &Driver{cfg: cfg, logger: logger}, nil
}

// RunID returns the identifier of this driver's run.
func (d *Driver) RunID() string { return d.cfg.RunID }

// evaluation is the outcome of one simulated parameter vector.
type evaluation struct {
	geom   *geometry.Geometry
	fwd    *field.Field
	result *fom.Result
}

// Run executes the loop from the initial parameter vector until a terminal
// state. The returned state always describes the last accepted point; it is
// valid even when err is non-nil, as long as the initial evaluation
// succeeded.
func (d *Driver) Run(ctx context.Context, initial []float64) (*State, error) {
	bounds := d.cfg.Parametrization.Bounds()
	if len(initial) != d.cfg.Parametrization.NumParams() {
		return nil, optimization.NewErrorf("initial vector has %d parameters, parametrization has %d",
			len(initial), d.cfg.Parametrization.NumParams()).WithComponent("driver")
	}
	current := &State{
		Params: optimization.Clip(append([]float64(nil), initial...), bounds),
		Status: optimization.Running,
	}

	// The starting point is simulated like any accepted trial: its FOM
	// seeds the acceptance comparisons and its gradient seeds the first
	// proposal.
	start := time.Now()
	eval, err := d.evaluate(ctx, 0, current.Params)
	if err != nil {
		current.Status = optimization.Failed
		return current, fmt.Errorf("evaluating initial parameters: %w", err)
	}
	gradient, err := d.gradient(ctx, 0, current.Params, eval)
	if err != nil {
		current.Status = optimization.Failed
		return current, fmt.Errorf("evaluating initial gradient: %w", err)
	}
	current.FOM = eval.result.Value
	current.Gradient = gradient
	d.record(current, 0, current.Params, current.FOM, true, time.Since(start))

	failures := 0
	for iter := 1; iter <= d.cfg.MaxIterations; iter++ {
		if ctx.Err() != nil {
			current.Status = optimization.Cancelled
			d.logger.Info("run cancelled", zap.Int("iteration", iter-1))
			return current, nil
		}
		if d.converged(current.Gradient) {
			current.Status = optimization.Converged
			d.logger.Info("run converged",
				zap.Int("iteration", iter-1),
				zap.Float64("gradient_norm", floats.Norm(current.Gradient, 2)),
			)
			return current, nil
		}

		start := time.Now()
		current.Iteration = iter
		proposal, err := d.cfg.Optimizer.Step(current.Params, current.FOM, current.Gradient)
		if err != nil {
			current.Status = optimization.Failed
			return current, fmt.Errorf("proposing parameters at iteration %d: %w", iter, err)
		}
		if !optimization.WithinBounds(proposal, bounds) {
			current.Status = optimization.Failed
			return current, optimization.NewErrorf("proposal at iteration %d violates bounds", iter).
				WithComponent("driver")
		}

		eval, err := d.evaluate(ctx, iter, proposal)
		var invalid *geometry.InvalidGeometryError
		switch {
		case errors.As(err, &invalid):
			// Infeasible geometry never reaches the solver; the trial is a
			// plain rejection so the line search backs off.
			d.logger.Info("rejecting infeasible geometry",
				zap.Int("iteration", iter),
				zap.String("reason", invalid.Reason),
			)
			d.record(current, iter, proposal, 0, false, time.Since(start))
			if stalled := d.reject(); stalled {
				current.Status = optimization.Stalled
				return current, nil
			}
			continue
		case err != nil && ctx.Err() != nil:
			current.Status = optimization.Cancelled
			return current, nil
		case err != nil:
			failures++
			d.cfg.Metrics.ObserveSolverFailure()
			d.logger.Warn("trial abandoned on solver failure",
				zap.Int("iteration", iter),
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
			if failures >= d.cfg.MaxConsecutiveSolverFailures {
				current.Status = optimization.Failed
				return current, fmt.Errorf("%d consecutive solver failures: %w", failures, err)
			}
			d.cfg.Metrics.ObserveTrial("failed", time.Since(start))
			continue
		}
		failures = 0

		if !d.cfg.Optimizer.Direction().Improves(eval.result.Value, current.FOM, d.cfg.FOMTolerance) {
			d.record(current, iter, proposal, eval.result.Value, false, time.Since(start))
			if stalled := d.reject(); stalled {
				current.Status = optimization.Stalled
				return current, nil
			}
			continue
		}

		gradient, err := d.gradient(ctx, iter, proposal, eval)
		switch {
		case err != nil && ctx.Err() != nil:
			current.Status = optimization.Cancelled
			return current, nil
		case err != nil:
			failures++
			d.cfg.Metrics.ObserveSolverFailure()
			d.logger.Warn("trial abandoned on adjoint failure",
				zap.Int("iteration", iter),
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
			if failures >= d.cfg.MaxConsecutiveSolverFailures {
				current.Status = optimization.Failed
				return current, fmt.Errorf("%d consecutive solver failures: %w", failures, err)
			}
			d.cfg.Metrics.ObserveTrial("failed", time.Since(start))
			continue
		}

		d.cfg.Optimizer.Accept()
		current.Params = proposal
		current.FOM = eval.result.Value
		current.Gradient = gradient
		d.record(current, iter, proposal, current.FOM, true, time.Since(start))
	}

	current.Status = optimization.MaxIterationsReached
	d.logger.Info("iteration budget exhausted", zap.Int("iterations", d.cfg.MaxIterations))
	return current, nil
}

// evaluate builds the geometry for params, runs the forward simulation and
// computes the figure of merit. InvalidGeometryError passes through
// unwrapped so the caller can treat it as a rejection.
func (d *Driver) evaluate(ctx context.Context, iter int, params []float64) (*evaluation, error) {
	geom, err := d.cfg.Parametrization.Build(params)
	if err != nil {
		return nil, err
	}
	job := &solver.SimulationJob{
		ID:       fmt.Sprintf("%s/%d/forward", d.cfg.RunID, iter),
		Kind:     solver.ForwardRun,
		Geometry: geom,
		Source:   d.cfg.ForwardSource,
		Config:   d.cfg.Sim,
	}
	fwd, err := d.cfg.Solver.Submit(ctx, job)
	if err != nil {
		return nil, err
	}
	result, err := d.cfg.FOM.Evaluate(fwd)
	if err != nil {
		return nil, err
	}
	return &evaluation{geom: geom, fwd: fwd, result: result}, nil
}

// gradient runs the adjoint solve for an evaluation and assembles the
// parameter gradient.
func (d *Driver) gradient(ctx context.Context, iter int, params []float64, eval *evaluation) ([]float64, error) {
	job, err := d.cfg.Source.BuildSource(
		fmt.Sprintf("%s/%d/adjoint", d.cfg.RunID, iter),
		eval.result, eval.geom, d.cfg.Sim,
	)
	if err != nil {
		return nil, err
	}
	adj, err := d.cfg.Solver.Submit(ctx, job)
	if err != nil {
		return nil, err
	}
	if err := adj.ScaleWavelengths(eval.result.AdjointScaling); err != nil {
		return nil, err
	}
	kernels, err := d.cfg.Parametrization.Sensitivity(params, eval.fwd.Grid)
	if err != nil {
		return nil, err
	}
	return d.cfg.Assembler.Assemble(eval.fwd, adj, kernels, eval.result.Weights)
}

func (d *Driver) converged(gradient []float64) bool {
	if d.cfg.GradientTolerance <= 0 {
		return false
	}
	return floats.Norm(gradient, 2) <= d.cfg.GradientTolerance
}

// reject backs the optimizer off and reports whether the search stalled.
func (d *Driver) reject() bool {
	stalled := !d.cfg.Optimizer.Reject()
	d.cfg.Metrics.ObserveStepSize(d.cfg.Optimizer.StepSize())
	return stalled
}

// record persists and publishes one finished trial.
func (d *Driver) record(current *State, iter int, params []float64, fomValue float64, accepted bool, elapsed time.Duration) {
	gradNorm := 0.0
	result := "rejected"
	if accepted {
		gradNorm = floats.Norm(current.Gradient, 2)
		result = "accepted"
		d.cfg.Metrics.ObserveAccepted(fomValue, gradNorm, d.cfg.Optimizer.StepSize())
	}
	d.cfg.Metrics.ObserveTrial(result, elapsed)

	d.logger.Info("trial finished",
		zap.Int("iteration", iter),
		zap.Float64("fom", fomValue),
		zap.Float64("gradient_norm", gradNorm),
		zap.Float64("step_size", d.cfg.Optimizer.StepSize()),
		zap.Bool("accepted", accepted),
	)

	rec := store.Record{
		Iteration:    iter,
		Params:       append([]float64(nil), params...),
		FOM:          fomValue,
		GradientNorm: gradNorm,
		StepSize:     d.cfg.Optimizer.StepSize(),
		Accepted:     accepted,
		Timestamp:    time.Now().UTC(),
	}
	if d.cfg.History != nil {
		if err := d.cfg.History.Write(rec); err != nil {
			d.logger.Warn("history write failed", zap.Error(err))
		}
	}
	if d.cfg.Observer != nil {
		select {
		case d.cfg.Observer <- IterationRecord{
			Iteration:    rec.Iteration,
			Params:       rec.Params,
			FOM:          rec.FOM,
			GradientNorm: rec.GradientNorm,
			StepSize:     rec.StepSize,
			Accepted:     rec.Accepted,
		}:
		default:
		}
	}
}
