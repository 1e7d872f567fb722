// Package fom computes scalar figures of merit from forward field results,
// together with the closed-form field-space derivative that seeds the
// adjoint excitation. The derivative is analytic, never finite-differenced:
// it is what keeps the adjoint method at O(1) simulations per iteration.
package fom

import (
	"fmt"
	"math"

	"github.com/prismlabs/PRISM/internal/field"
	"github.com/prismlabs/PRISM/internal/optimization"
)

// Eps0 is the vacuum permittivity in F/m, the constant carried through the
// gradient overlap integral.
const Eps0 = 8.8541878128e-12

// Result is one figure-of-merit evaluation: the scalar objective, its
// per-wavelength contributions, the field-space derivative dF/dE on the
// forward grid, and the per-wavelength factors that scale the raw adjoint
// field into gradient-ready form.
type Result struct {
	// Value is the scalar objective, the weighted sum of PerWavelength.
	Value float64

	// PerWavelength holds the objective contribution of each simulated
	// wavelength before weighting.
	PerWavelength []float64

	// Derivative is dF/dE sampled on the forward grid; zero outside the
	// monitor region. It becomes the adjoint source amplitude profile.
	Derivative *field.Field

	// AdjointScaling converts the raw adjoint solve into the field that
	// enters the overlap integral. One factor per wavelength, in solver
	// units.
	AdjointScaling []complex128

	// Weights is the wavelength weighting applied to PerWavelength; it must
	// be reused by the gradient assembler so gradient and objective agree.
	Weights []float64
}

// Evaluator computes a figure of merit from a forward field result.
type Evaluator interface {
	Evaluate(fwd *field.Field) (*Result, error)
}

// WavelengthWeighting selects how broadband contributions combine. The exact
// weighting of multi-frequency gradients is a modeling choice, so it stays
// configurable; uniform averaging is the default.
type WavelengthWeighting int

const (
	// WeightUniform averages all wavelengths equally.
	WeightUniform WavelengthWeighting = iota
	// WeightSum adds wavelength contributions without normalization.
	WeightSum
)

func wavelengthWeights(mode WavelengthWeighting, n int) []float64 {
	w := make([]float64, n)
	v := 1.0
	if mode == WeightUniform && n > 0 {
		v = 1.0 / float64(n)
	}
	for i := range w {
		w[i] = v
	}
	return w
}

// Region selects monitor points by their x span. Singleton transverse axes
// make this sufficient for planar and 1-D monitors.
type Region struct {
	XMin, XMax float64
}

func (r Region) contains(x float64) bool {
	return x >= r.XMin && x <= r.XMax
}

// monitorPoints returns the flat indices of grid points inside the region.
func monitorPoints(grid *field.Grid, r Region) []int {
	var pts []int
	for pt := 0; pt < grid.NumPoints(); pt++ {
		x, _, _ := grid.Coordinates(pt)
		if r.contains(x) {
			pts = append(pts, pt)
		}
	}
	return pts
}

// AdjointScaleFunc maps a free-space wavenumber and monitor cell volume to
// the adjoint field scaling factor expected by the gradient assembler. The
// factor encodes the solver's source normalization convention.
type AdjointScaleFunc func(k0, cellVolume float64) complex128

// ScalarSolverScaling is the convention of the embedded scalar frequency-
// domain solver: the adjoint equation is solved with the raw dF/dE as its
// right-hand side, so the overlap integral constant 2*Eps0*vol must be
// cancelled and replaced by -2*k0^2.
func ScalarSolverScaling(k0, cellVolume float64) complex128 {
	return complex(-(k0*k0)/(Eps0*cellVolume), 0)
}

func validateForward(fwd *field.Field) error {
	if fwd == nil || fwd.Grid == nil {
		return optimization.NewError("forward field is nil").
			WithComponent("fom")
	}
	if fwd.Grid.NumWavelengths() == 0 {
		return optimization.NewError("forward field has no wavelengths").
			WithComponent("fom")
	}
	return nil
}

func k0At(wavelength float64) float64 {
	return 2.0 * math.Pi / wavelength
}

func emptyMonitorErr(r Region) error {
	return optimization.NewErrorf("monitor region [%g, %g] contains no grid points", r.XMin, r.XMax).
		WithComponent("fom")
}

// interiorCellVolume returns the full trapezoid weight of the grid's
// interior cells. The adjoint scaling cancels the cell volume the gradient
// assembler multiplies at the design points; those are interior points, so
// the half-weight cells at the domain endpoints must not leak in even when
// the monitor touches an endpoint.
func interiorCellVolume(vols []float64) (float64, error) {
	v := 0.0
	for _, w := range vols {
		if w > v {
			v = w
		}
	}
	if v <= 0 {
		return 0, fmt.Errorf("grid has no positive cell volumes")
	}
	return v, nil
}
