package fom

import (
	"math/cmplx"

	"github.com/prismlabs/PRISM/internal/field"
)

// Transmission measures the field power integrated over the monitor,
// F(wl) = sum_x |E(x, wl)|^2 vol(x). Less selective than a mode overlap but
// useful when any power delivered to the output counts.
type Transmission struct {
	Monitor   Region
	Weighting WavelengthWeighting
	Scale     AdjointScaleFunc
}

func (t *Transmission) scaleFunc() AdjointScaleFunc {
	if t.Scale != nil {
		return t.Scale
	}
	return ScalarSolverScaling
}

// Evaluate computes the transmitted power and its derivative
// dF/dE(x) = conj(E(x)) vol(x) on the monitor.
func (t *Transmission) Evaluate(fwd *field.Field) (*Result, error) {
	if err := validateForward(fwd); err != nil {
		return nil, err
	}
	grid := fwd.Grid
	pts := monitorPoints(grid, t.Monitor)
	if len(pts) == 0 {
		return nil, emptyMonitorErr(t.Monitor)
	}
	vols := grid.CellVolumes()
	cellVol, err := interiorCellVolume(vols)
	if err != nil {
		return nil, err
	}

	nWl := grid.NumWavelengths()
	res := &Result{
		PerWavelength:  make([]float64, nWl),
		Derivative:     field.NewField(grid.Clone()),
		AdjointScaling: make([]complex128, nWl),
		Weights:        wavelengthWeights(t.Weighting, nWl),
	}
	for wl := 0; wl < nWl; wl++ {
		power := 0.0
		for _, pt := range pts {
			ev := fwd.At(pt, wl)
			for c := range ev {
				power += real(ev[c]*cmplx.Conj(ev[c])) * vols[pt]
				res.Derivative.SetComponent(pt, wl, c, cmplx.Conj(ev[c])*complex(vols[pt], 0))
			}
		}
		res.PerWavelength[wl] = power
		res.Value += res.Weights[wl] * power
		res.AdjointScaling[wl] = t.scaleFunc()(k0At(grid.Wavelengths[wl]), cellVol)
	}
	return res, nil
}
