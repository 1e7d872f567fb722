// Package fdfd is an embedded one-dimensional scalar frequency-domain
// field engine. It solves the Helmholtz equation
//
//	u'' + k0^2 εr(x) u = b(x)
//
// on a uniform grid with absorbing damping layers at both ends. It exists
// so optimizations can run end to end without an external engine, and it
// shares the adjoint normalization convention of fom.ScalarSolverScaling.
package fdfd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/prismlabs/PRISM/internal/field"
	"github.com/prismlabs/PRISM/internal/geometry"
	"github.com/prismlabs/PRISM/internal/optimization"
	"github.com/prismlabs/PRISM/internal/solver"
)

const (
	defaultCells        = 200
	defaultDampCells    = 20
	defaultDampStrength = 2.0
)

// Solver is a one-dimensional scalar frequency-domain solver over the
// fixed x span Domain. The zero values of Cells, DampCells and
// DampStrength select workable defaults.
type Solver struct {
	// Domain is the simulated x span in meters.
	Domain [2]float64
	// Cells is the number of grid points across the domain.
	Cells int
	// DampCells is the width of each absorbing layer in grid points.
	DampCells int
	// DampStrength is the peak imaginary permittivity of the absorbing
	// layers.
	DampStrength float64
	Logger       *zap.Logger
}

func (s *Solver) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Solver) cells(job *solver.SimulationJob) int {
	if job.Config.MeshCells > 0 {
		return job.Config.MeshCells
	}
	if s.Cells > 0 {
		return s.Cells
	}
	return defaultCells
}

func (s *Solver) dampCells() int {
	if s.DampCells > 0 {
		return s.DampCells
	}
	return defaultDampCells
}

func (s *Solver) dampStrength() float64 {
	if s.DampStrength > 0 {
		return s.DampStrength
	}
	return defaultDampStrength
}

// Grid returns the spatial grid the solver will use for the given cell
// count, so callers can prepare monitor regions and source profiles on
// matching coordinates.
func (s *Solver) Grid(cells int) *field.Grid {
	if cells <= 0 {
		cells = defaultCells
	}
	x := make([]float64, cells)
	h := (s.Domain[1] - s.Domain[0]) / float64(cells-1)
	for i := range x {
		x[i] = s.Domain[0] + float64(i)*h
	}
	return field.NewGrid(x, nil, nil, nil)
}

// Submit solves the job wavelength by wavelength and returns the z-polarized
// field on the solver grid.
func (s *Solver) Submit(ctx context.Context, job *solver.SimulationJob) (*field.Field, error) {
	if job.Geometry == nil {
		return nil, optimization.NewError("job has no geometry").
			WithComponent("fdfd")
	}
	if len(job.Config.Wavelengths) == 0 {
		return nil, optimization.NewError("job has no wavelengths").
			WithComponent("fdfd")
	}
	if s.Domain[1] <= s.Domain[0] {
		return nil, optimization.NewErrorf("domain [%g, %g] is empty", s.Domain[0], s.Domain[1]).
			WithComponent("fdfd")
	}

	n := s.cells(job)
	if n < 2*s.dampCells()+3 {
		return nil, optimization.NewErrorf("%d cells cannot hold two %d-cell damping layers", n, s.dampCells()).
			WithComponent("fdfd")
	}
	grid := s.Grid(n).WithWavelengths(job.Config.Wavelengths)
	epsr := geometry.Rasterize(job.Geometry, grid)

	if job.Source.Kind == solver.SourceProfile {
		if job.Source.Amplitudes == nil {
			return nil, optimization.NewError("profile source has no amplitudes").
				WithComponent("fdfd")
		}
		if err := job.Source.Amplitudes.Grid.Compatible(grid); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	result := field.NewField(grid)
	for wl, lambda := range job.Config.Wavelengths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u, err := s.solveOne(job, epsr, grid, wl, lambda)
		if err != nil {
			return nil, err
		}
		for pt := 0; pt < n; pt++ {
			result.SetComponent(pt, wl, 2, u[pt])
		}
	}
	s.logger().Debug("fdfd solve complete",
		zap.String("job", job.ID),
		zap.Stringer("kind", job.Kind),
		zap.Int("cells", n),
		zap.Int("wavelengths", len(job.Config.Wavelengths)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// solveOne assembles and solves the Helmholtz system for one wavelength.
// The complex N-point system is solved as an equivalent real 2N system
//
//	[ Ar -Ai ] [ur]   [br]
//	[ Ai  Ar ] [ui] = [bi]
func (s *Solver) solveOne(job *solver.SimulationJob, epsr []float64, grid *field.Grid, wl int, lambda float64) ([]complex128, error) {
	n := len(epsr)
	k0 := 2.0 * math.Pi / lambda
	h := (s.Domain[1] - s.Domain[0]) / float64(n-1)
	invH2 := 1.0 / (h * h)
	damping := s.dampProfile(n)

	m := mat.NewDense(2*n, 2*n, nil)
	rhs := mat.NewVecDense(2*n, nil)

	setComplex := func(row, col int, v complex128) {
		m.Set(row, col, real(v))
		m.Set(row, n+col, -imag(v))
		m.Set(n+row, col, imag(v))
		m.Set(n+row, n+col, real(v))
	}

	// Dirichlet ends; the damping layers make them non-reflecting. The
	// boundary rows carry the same 1/h^2 scale as the interior stencil, or
	// the system's condition number blows up with the cell count.
	setComplex(0, 0, complex(invH2, 0))
	setComplex(n-1, n-1, complex(invH2, 0))
	for i := 1; i < n-1; i++ {
		eps := complex(epsr[i], damping[i])
		setComplex(i, i-1, complex(invH2, 0))
		setComplex(i, i+1, complex(invH2, 0))
		setComplex(i, i, complex(-2.0*invH2, 0)+complex(k0*k0, 0)*eps)
	}

	switch job.Source.Kind {
	case solver.SourcePoint:
		idx := s.nearestInterior(grid, job.Source.Position)
		rhs.SetVec(idx, 1)
	case solver.SourceProfile:
		for i := 1; i < n-1; i++ {
			v := job.Source.Amplitudes.Component(i, wl, 2)
			rhs.SetVec(i, real(v))
			rhs.SetVec(n+i, imag(v))
		}
	}

	var sol mat.VecDense
	if err := sol.SolveVec(m, rhs); err != nil {
		// A finite condition number means the factorization went through
		// and the solution is usable, just with reduced accuracy.
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 0) {
			return nil, &solver.DivergedError{
				JobID:  job.ID,
				Detail: fmt.Sprintf("singular system at wavelength %g m", lambda),
			}
		}
		s.logger().Warn("ill-conditioned system",
			zap.String("job", job.ID),
			zap.Float64("condition", float64(cond)),
			zap.Float64("wavelength", lambda),
		)
	}
	u := make([]complex128, n)
	for i := range u {
		u[i] = complex(sol.AtVec(i), sol.AtVec(n+i))
	}
	return u, nil
}

// dampProfile returns the imaginary permittivity added near the ends, a
// quadratic ramp peaking at the boundary.
func (s *Solver) dampProfile(n int) []float64 {
	d := s.dampCells()
	strength := s.dampStrength()
	profile := make([]float64, n)
	for i := 0; i < d && i < n; i++ {
		ramp := float64(d-i) / float64(d)
		v := strength * ramp * ramp
		profile[i] = v
		profile[n-1-i] = v
	}
	return profile
}

func (s *Solver) nearestInterior(grid *field.Grid, pos float64) int {
	best, bestDist := 1, math.Inf(1)
	for i := 1; i < len(grid.X)-1; i++ {
		if d := math.Abs(grid.X[i] - pos); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
