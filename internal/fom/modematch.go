package fom

import (
	"math"
	"math/cmplx"

	"github.com/prismlabs/PRISM/internal/field"
)

// ModeFunc returns the target mode profile at a spatial position. The
// profile is sampled and normalized over the monitor by the evaluator.
type ModeFunc func(x, y, z float64) [field.Components]complex128

// GaussianMode is a z-polarized Gaussian profile centered on a waveguide
// output, the usual target for transmission into a fundamental mode.
func GaussianMode(center, width float64) ModeFunc {
	return func(x, _, _ float64) [field.Components]complex128 {
		arg := (x - center) / width
		return [field.Components]complex128{0, 0, complex(math.Exp(-arg*arg), 0)}
	}
}

// ModeOverlap measures how much of the forward field couples into a target
// mode: F(wl) = |sum conj(m) . E vol|^2 with the mode normalized to unit
// power over the monitor. The field-space derivative follows in closed form
// from the bilinear overlap.
type ModeOverlap struct {
	Monitor Region
	Mode    ModeFunc
	// Weighting combines broadband contributions; uniform by default.
	Weighting WavelengthWeighting
	// Scale supplies the adjoint scaling convention; defaults to the
	// embedded scalar solver's convention.
	Scale AdjointScaleFunc
}

func (m *ModeOverlap) scaleFunc() AdjointScaleFunc {
	if m.Scale != nil {
		return m.Scale
	}
	return ScalarSolverScaling
}

// Evaluate computes the mode overlap and its derivative dF/dE.
//
// With eta(wl) = sum_x conj(m(x)) . E(x, wl) vol(x) over the monitor and
// F(wl) = |eta|^2, the Wirtinger derivative with respect to E(x) is
// conj(eta) conj(m(x)) vol(x). That derivative field, scaled per wavelength
// by the solver convention, is exactly the adjoint excitation.
func (m *ModeOverlap) Evaluate(fwd *field.Field) (*Result, error) {
	if err := validateForward(fwd); err != nil {
		return nil, err
	}
	grid := fwd.Grid
	pts := monitorPoints(grid, m.Monitor)
	if len(pts) == 0 {
		return nil, emptyMonitorErr(m.Monitor)
	}
	vols := grid.CellVolumes()

	// Sample and power-normalize the mode over the monitor.
	mode := make([][field.Components]complex128, len(pts))
	norm := 0.0
	for i, pt := range pts {
		x, y, z := grid.Coordinates(pt)
		mv := m.Mode(x, y, z)
		mode[i] = mv
		for _, c := range mv {
			norm += real(c*cmplx.Conj(c)) * vols[pt]
		}
	}
	if norm <= 0 {
		return nil, emptyMonitorErr(m.Monitor)
	}
	scale := 1.0 / math.Sqrt(norm)
	for i := range mode {
		for c := range mode[i] {
			mode[i][c] *= complex(scale, 0)
		}
	}

	nWl := grid.NumWavelengths()
	res := &Result{
		PerWavelength:  make([]float64, nWl),
		Derivative:     field.NewField(grid.Clone()),
		AdjointScaling: make([]complex128, nWl),
		Weights:        wavelengthWeights(m.Weighting, nWl),
	}
	cellVol, err := interiorCellVolume(vols)
	if err != nil {
		return nil, err
	}
	for wl := 0; wl < nWl; wl++ {
		eta := complex(0, 0)
		for i, pt := range pts {
			ev := fwd.At(pt, wl)
			for c := range ev {
				eta += cmplx.Conj(mode[i][c]) * ev[c] * complex(vols[pt], 0)
			}
		}
		res.PerWavelength[wl] = real(eta * cmplx.Conj(eta))
		res.Value += res.Weights[wl] * res.PerWavelength[wl]
		for i, pt := range pts {
			for c := range mode[i] {
				d := cmplx.Conj(eta) * cmplx.Conj(mode[i][c]) * complex(vols[pt], 0)
				res.Derivative.SetComponent(pt, wl, c, d)
			}
		}
		res.AdjointScaling[wl] = m.scaleFunc()(k0At(grid.Wavelengths[wl]), cellVol)
	}
	return res, nil
}
