// Package pipeline assembles optimization drivers from problem definitions
// and service configuration. The CLI and the HTTP API both build their runs
// here so a problem behaves identically in either surface.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/prismlabs/PRISM/internal/adjoint"
	"github.com/prismlabs/PRISM/internal/config"
	"github.com/prismlabs/PRISM/internal/driver"
	"github.com/prismlabs/PRISM/internal/fom"
	"github.com/prismlabs/PRISM/internal/geometry"
	"github.com/prismlabs/PRISM/internal/metrics"
	"github.com/prismlabs/PRISM/internal/optimization"
	"github.com/prismlabs/PRISM/internal/optimization/descent"
	"github.com/prismlabs/PRISM/internal/solver"
	"github.com/prismlabs/PRISM/internal/solver/fdfd"
	"github.com/prismlabs/PRISM/internal/store"
)

// Options carries the run-scoped extras a surface may attach.
type Options struct {
	RunID    string
	History  *store.TraceWriter
	Observer chan<- driver.IterationRecord
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// Initial returns the starting parameter vector of a problem.
func Initial(p *config.Problem) []float64 {
	return p.Slabs.InitialParams()
}

// Run executes one optimization end to end. An empty solver endpoint in
// svc selects the embedded frequency-domain solver; a remote engine is
// driven through a leased session that is released on every exit path,
// cancellation included.
func Run(ctx context.Context, p *config.Problem, svc *config.Config, opts Options, initial []float64) (*driver.State, error) {
	if svc.Solver.Endpoint == "" {
		d, err := Build(p, svc, opts)
		if err != nil {
			return nil, err
		}
		return d.Run(ctx, initial)
	}

	logger := runLogger(opts)
	opener := &solver.HTTPOpener{
		Endpoint: svc.Solver.Endpoint,
		Logger:   logger.Named("solver"),
	}
	var state *driver.State
	var runErr error
	err := solver.WithSession(ctx, opener, func(sess *solver.Session) error {
		d, err := assemble(sess, p, svc, opts)
		if err != nil {
			return err
		}
		state, runErr = d.Run(ctx, initial)
		return runErr
	})
	if runErr == nil && err != nil {
		// Opening, assembly or lease release failed.
		return state, err
	}
	return state, runErr
}

// Build wires a problem into a ready driver against the embedded solver,
// or a sessionless remote adapter when svc names an endpoint. Run is the
// usual entry; Build alone also serves as upfront problem validation.
func Build(p *config.Problem, svc *config.Config, opts Options) (*driver.Driver, error) {
	logger := runLogger(opts)

	var base solver.Adapter
	if svc.Solver.Endpoint != "" {
		base = &solver.HTTPAdapter{
			Endpoint: svc.Solver.Endpoint,
			Logger:   logger.Named("solver"),
		}
	} else {
		base = &fdfd.Solver{
			Domain:       [2]float64{p.Simulation.XMin, p.Simulation.XMax},
			Cells:        p.Simulation.Cells,
			DampCells:    p.Simulation.DampCells,
			DampStrength: p.Simulation.DampStrength,
			Logger:       logger.Named("fdfd"),
		}
	}
	return assemble(base, p, svc, opts)
}

func runLogger(opts Options) *zap.Logger {
	if opts.Logger == nil {
		return zap.NewNop()
	}
	return opts.Logger
}

// assemble chains retries and wavelength fan-out around the base adapter
// and builds the driver.
func assemble(base solver.Adapter, p *config.Problem, svc *config.Config, opts Options) (*driver.Driver, error) {
	logger := runLogger(opts)
	adapter := &solver.Pool{
		Inner: &solver.Retrying{
			Inner:      base,
			MaxRetries: svc.Solver.MaxRetries,
			Backoff:    svc.Solver.Backoff,
			Logger:     logger.Named("solver"),
			OnRetry:    opts.Metrics.ObserveSolverRetry,
		},
		Workers: svc.Solver.Workers,
	}

	evaluator, err := buildFOM(p)
	if err != nil {
		return nil, err
	}

	parametrization := &geometry.SlabStack{
		ParamBounds: p.Slabs.ParamBounds(),
		EpsIn:       p.Slabs.EpsIn,
		EpsOut:      p.Slabs.EpsOut,
		MinWidth:    p.Slabs.MinWidth,
	}

	direction := optimization.Maximize
	if p.Optimizer.Direction == "minimize" {
		direction = optimization.Minimize
	}
	optimizer, err := descent.New(descent.Config{
		Bounds:       parametrization.Bounds(),
		InitialStep:  p.Optimizer.InitialStep,
		MinStep:      p.Optimizer.MinStep,
		MaxStep:      p.Optimizer.MaxStep,
		GrowthFactor: p.Optimizer.GrowthFactor,
		Direction:    direction,
	})
	if err != nil {
		return nil, err
	}

	return driver.New(driver.Config{
		RunID:           opts.RunID,
		Parametrization: parametrization,
		Solver:          adapter,
		FOM:             evaluator,
		Source:          adjoint.SourceBuilder{},
		Assembler:       adjoint.Assembler{},
		Optimizer:       optimizer,
		Sim: solver.SimConfig{
			Wavelengths: p.Wavelengths.Values(),
			MeshCells:   p.Simulation.Cells,
			Timeout:     svc.Solver.Timeout,
		},
		ForwardSource: solver.SourceSpec{
			Kind:     solver.SourcePoint,
			Position: p.Source.Position,
		},
		MaxIterations:                p.Run.MaxIterations,
		FOMTolerance:                 p.Run.FOMTolerance,
		GradientTolerance:            p.Run.GradientTolerance,
		MaxConsecutiveSolverFailures: p.Run.MaxSolverFailures,
		History:                      opts.History,
		Observer:                     opts.Observer,
		Metrics:                      opts.Metrics,
		Logger:                       logger,
	})
}

func buildFOM(p *config.Problem) (fom.Evaluator, error) {
	weighting := fom.WeightUniform
	if p.FOM.Weighting == "sum" {
		weighting = fom.WeightSum
	}
	monitor := fom.Region{XMin: p.FOM.Monitor.XMin, XMax: p.FOM.Monitor.XMax}
	switch p.FOM.Kind {
	case "transmission":
		return &fom.Transmission{Monitor: monitor, Weighting: weighting}, nil
	default:
		return &fom.ModeOverlap{
			Monitor:   monitor,
			Mode:      fom.GaussianMode(p.FOM.Mode.Center, p.FOM.Mode.Width),
			Weighting: weighting,
		}, nil
	}
}
