// Package adjoint turns a figure-of-merit evaluation into a gradient: it
// derives the adjoint excitation from the field-space derivative and
// assembles the parameter gradient from the forward field, the scaled
// adjoint field and the permittivity sensitivity kernels. One adjoint solve
// yields the full gradient regardless of parameter count.
package adjoint

import (
	"fmt"

	"github.com/prismlabs/PRISM/internal/field"
	"github.com/prismlabs/PRISM/internal/fom"
	"github.com/prismlabs/PRISM/internal/geometry"
	"github.com/prismlabs/PRISM/internal/optimization"
	"github.com/prismlabs/PRISM/internal/solver"
)

// SourceBuilder constructs adjoint simulation jobs from figure-of-merit
// results.
type SourceBuilder struct{}

// BuildSource derives the adjoint job for a completed forward evaluation.
// The adjoint run reuses the forward geometry and simulation configuration
// and injects the dF/dE profile as its excitation. The wavelength set is
// carried over unchanged; forward and adjoint runs of an iteration must
// simulate identical wavelengths or the overlap integral is meaningless.
func (SourceBuilder) BuildSource(id string, res *fom.Result, geom *geometry.Geometry, cfg solver.SimConfig) (*solver.SimulationJob, error) {
	if res == nil || res.Derivative == nil {
		return nil, optimization.NewError("figure of merit result carries no derivative").
			WithComponent("adjoint")
	}
	got := res.Derivative.Grid.Wavelengths
	if len(got) != len(cfg.Wavelengths) {
		return nil, &field.GridMismatchError{
			Detail: fmt.Sprintf("derivative has %d wavelengths, simulation has %d",
				len(got), len(cfg.Wavelengths)),
		}
	}
	for i, wl := range cfg.Wavelengths {
		if got[i] != wl {
			return nil, &field.GridMismatchError{
				Detail: fmt.Sprintf("derivative wavelength %d is %g m, simulation has %g m",
					i, got[i], wl),
			}
		}
	}
	return &solver.SimulationJob{
		ID:       id,
		Kind:     solver.AdjointRun,
		Geometry: geom,
		Source: solver.SourceSpec{
			Kind:       solver.SourceProfile,
			Amplitudes: res.Derivative,
		},
		Config: cfg,
	}, nil
}

// Assembler computes parameter gradients by the overlap integral.
type Assembler struct{}

// Assemble evaluates, for each parameter i,
//
//	grad[i] = Σ_wl w(wl) · Re( 2·Eps0 · Σ_x E_fwd·E_adj·κ_i(x)·vol(x) )
//
// where κ_i is the permittivity sensitivity kernel of parameter i and the
// adjoint field has already been scaled by the FOM's per-wavelength
// factors. Kernels are real, so the interior product is a plain complex
// dot over field components.
func (Assembler) Assemble(fwd, adj *field.Field, kernels [][]float64, weights []float64) ([]float64, error) {
	if fwd == nil || adj == nil {
		return nil, optimization.NewError("gradient assembly needs both forward and adjoint fields").
			WithComponent("adjoint")
	}
	if err := fwd.Grid.Compatible(adj.Grid); err != nil {
		return nil, err
	}
	nPts := fwd.Grid.NumPoints()
	nWl := fwd.Grid.NumWavelengths()
	if len(weights) != nWl {
		return nil, &field.GridMismatchError{
			Detail: fmt.Sprintf("%d wavelength weights for %d wavelengths", len(weights), nWl),
		}
	}
	for i, k := range kernels {
		if len(k) != nPts {
			return nil, &field.GridMismatchError{
				Detail: fmt.Sprintf("kernel %d has %d samples, grid has %d points", i, len(k), nPts),
			}
		}
	}

	vols := fwd.Grid.CellVolumes()
	grad := make([]float64, len(kernels))
	for i, kernel := range kernels {
		total := 0.0
		for wl := 0; wl < nWl; wl++ {
			overlap := complex(0, 0)
			for pt := 0; pt < nPts; pt++ {
				k := kernel[pt]
				if k == 0 {
					continue
				}
				e := fwd.At(pt, wl)
				v := adj.At(pt, wl)
				dot := e[0]*v[0] + e[1]*v[1] + e[2]*v[2]
				overlap += dot * complex(k*vols[pt], 0)
			}
			total += weights[wl] * real(overlap*complex(2.0*fom.Eps0, 0))
		}
		grad[i] = total
	}
	return grad, nil
}
