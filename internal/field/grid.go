// Package field holds the spatial grids and complex field samples exchanged
// between the solver adapters, the figure-of-merit evaluators and the
// gradient assembler.
package field

import (
	"fmt"
	"math"
)

// Grid describes the rectilinear sampling of a simulation region. Axes with a
// single coordinate collapse that dimension, so a 1-D solver uses singleton
// Y and Z axes. Wavelengths carries the simulated wavelength set in meters.
type Grid struct {
	X []float64
	Y []float64
	Z []float64
	// Wavelengths simulated for this grid, in meters.
	Wavelengths []float64
}

// GridMismatchError reports forward and adjoint fields sampled on
// incompatible grids. It indicates a configuration or programming error and
// is never retried.
type GridMismatchError struct {
	Detail string
}

func (e *GridMismatchError) Error() string {
	return "incompatible field grids: " + e.Detail
}

// NewGrid creates a grid from the given axes. Empty axes are replaced by a
// singleton {0} axis.
func NewGrid(x, y, z, wavelengths []float64) *Grid {
	return &Grid{
		X:           nonEmptyAxis(x),
		Y:           nonEmptyAxis(y),
		Z:           nonEmptyAxis(z),
		Wavelengths: wavelengths,
	}
}

func nonEmptyAxis(axis []float64) []float64 {
	if len(axis) == 0 {
		return []float64{0}
	}
	return axis
}

// NumPoints returns the number of spatial sample points.
func (g *Grid) NumPoints() int {
	return len(g.X) * len(g.Y) * len(g.Z)
}

// NumWavelengths returns the number of simulated wavelengths.
func (g *Grid) NumWavelengths() int {
	return len(g.Wavelengths)
}

// PointIndex maps axis indices to the flat spatial index.
func (g *Grid) PointIndex(ix, iy, iz int) int {
	return (ix*len(g.Y)+iy)*len(g.Z) + iz
}

// Coordinates returns the (x, y, z) position of the flat spatial index pt.
func (g *Grid) Coordinates(pt int) (x, y, z float64) {
	nz := len(g.Z)
	ny := len(g.Y)
	iz := pt % nz
	iy := (pt / nz) % ny
	ix := pt / (nz * ny)
	return g.X[ix], g.Y[iy], g.Z[iz]
}

// CellVolumes returns the trapezoidal integration weight of every spatial
// point. Singleton axes contribute a unit factor, so the weights reduce to
// lengths or areas in lower-dimensional grids.
func (g *Grid) CellVolumes() []float64 {
	wx := axisWeights(g.X)
	wy := axisWeights(g.Y)
	wz := axisWeights(g.Z)
	vols := make([]float64, 0, g.NumPoints())
	for ix := range g.X {
		for iy := range g.Y {
			for iz := range g.Z {
				vols = append(vols, wx[ix]*wy[iy]*wz[iz])
			}
		}
	}
	return vols
}

// axisWeights computes trapezoidal quadrature weights along one axis.
func axisWeights(axis []float64) []float64 {
	n := len(axis)
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1.0
		return w
	}
	w[0] = (axis[1] - axis[0]) / 2.0
	w[n-1] = (axis[n-1] - axis[n-2]) / 2.0
	for i := 1; i < n-1; i++ {
		w[i] = (axis[i+1] - axis[i-1]) / 2.0
	}
	return w
}

// Compatible reports whether two grids sample the same points and
// wavelengths. It returns a *GridMismatchError describing the first
// discrepancy found, or nil when the grids match.
func (g *Grid) Compatible(other *Grid) error {
	if other == nil {
		return &GridMismatchError{Detail: "second grid is nil"}
	}
	if err := axesEqual("x", g.X, other.X); err != nil {
		return err
	}
	if err := axesEqual("y", g.Y, other.Y); err != nil {
		return err
	}
	if err := axesEqual("z", g.Z, other.Z); err != nil {
		return err
	}
	return axesEqual("wavelength", g.Wavelengths, other.Wavelengths)
}

// SpatiallyCompatible is like Compatible but ignores the wavelength axis.
// Used when merging single-wavelength sub-solves.
func (g *Grid) SpatiallyCompatible(other *Grid) error {
	if other == nil {
		return &GridMismatchError{Detail: "second grid is nil"}
	}
	if err := axesEqual("x", g.X, other.X); err != nil {
		return err
	}
	if err := axesEqual("y", g.Y, other.Y); err != nil {
		return err
	}
	return axesEqual("z", g.Z, other.Z)
}

const axisTolerance = 1e-15

func axesEqual(name string, a, b []float64) error {
	if len(a) != len(b) {
		return &GridMismatchError{
			Detail: fmt.Sprintf("%s axis has %d points vs %d", name, len(a), len(b)),
		}
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > axisTolerance*math.Max(1.0, math.Abs(a[i])) {
			return &GridMismatchError{
				Detail: fmt.Sprintf("%s axis differs at index %d: %g vs %g", name, i, a[i], b[i]),
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	return &Grid{
		X:           append([]float64(nil), g.X...),
		Y:           append([]float64(nil), g.Y...),
		Z:           append([]float64(nil), g.Z...),
		Wavelengths: append([]float64(nil), g.Wavelengths...),
	}
}

// WithWavelengths returns a copy of the grid restricted to the given
// wavelength set. The spatial axes are shared facts and therefore copied.
func (g *Grid) WithWavelengths(wavelengths []float64) *Grid {
	c := g.Clone()
	c.Wavelengths = append([]float64(nil), wavelengths...)
	return c
}
