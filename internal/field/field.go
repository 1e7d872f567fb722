package field

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Components per field sample (Ex, Ey, Ez).
const Components = 3

// Field holds complex electric field samples over a grid and wavelength set.
// Samples are stored flat; the value of component c at spatial point pt and
// wavelength index wl lives at index (pt*nWavelengths+wl)*Components+c.
//
// A Field is owned by the simulation that produced it. Fields are large, so
// callers should drop references once gradient assembly is done.
type Field struct {
	Grid *Grid
	E    []complex128
}

// NewField allocates a zeroed field over the given grid.
func NewField(grid *Grid) *Field {
	return &Field{
		Grid: grid,
		E:    make([]complex128, grid.NumPoints()*grid.NumWavelengths()*Components),
	}
}

func (f *Field) index(pt, wl, comp int) int {
	return (pt*f.Grid.NumWavelengths()+wl)*Components + comp
}

// At returns the field vector at spatial point pt and wavelength index wl.
func (f *Field) At(pt, wl int) [Components]complex128 {
	i := f.index(pt, wl, 0)
	return [Components]complex128{f.E[i], f.E[i+1], f.E[i+2]}
}

// Set stores the field vector at spatial point pt and wavelength index wl.
func (f *Field) Set(pt, wl int, v [Components]complex128) {
	i := f.index(pt, wl, 0)
	f.E[i], f.E[i+1], f.E[i+2] = v[0], v[1], v[2]
}

// SetComponent stores a single field component.
func (f *Field) SetComponent(pt, wl, comp int, v complex128) {
	f.E[f.index(pt, wl, comp)] = v
}

// Component returns a single field component.
func (f *Field) Component(pt, wl, comp int) complex128 {
	return f.E[f.index(pt, wl, comp)]
}

// ScaleWavelengths multiplies every sample at wavelength index wl by
// factors[wl]. The adjoint pipeline uses this to apply the FOM-supplied
// per-wavelength adjoint scaling after the adjoint solve.
func (f *Field) ScaleWavelengths(factors []complex128) error {
	nWl := f.Grid.NumWavelengths()
	if len(factors) != nWl {
		return &GridMismatchError{
			Detail: fmt.Sprintf("%d scaling factors for %d wavelengths", len(factors), nWl),
		}
	}
	nPts := f.Grid.NumPoints()
	for pt := 0; pt < nPts; pt++ {
		for wl := 0; wl < nWl; wl++ {
			i := f.index(pt, wl, 0)
			f.E[i] *= factors[wl]
			f.E[i+1] *= factors[wl]
			f.E[i+2] *= factors[wl]
		}
	}
	return nil
}

// SelectWavelength returns a new single-wavelength field holding a copy of
// the samples at wavelength index wl.
func (f *Field) SelectWavelength(wl int) (*Field, error) {
	nWl := f.Grid.NumWavelengths()
	if wl < 0 || wl >= nWl {
		return nil, &GridMismatchError{
			Detail: fmt.Sprintf("wavelength index %d out of range [0,%d)", wl, nWl),
		}
	}
	out := NewField(f.Grid.WithWavelengths(f.Grid.Wavelengths[wl : wl+1]))
	nPts := f.Grid.NumPoints()
	for pt := 0; pt < nPts; pt++ {
		out.Set(pt, 0, f.At(pt, wl))
	}
	return out, nil
}

// MergeWavelengths combines single-wavelength fields into one multi-wavelength
// field. The inputs must share their spatial axes and are taken in order; the
// merged wavelength axis is the concatenation of the input wavelength axes.
func MergeWavelengths(parts []*Field) (*Field, error) {
	if len(parts) == 0 {
		return nil, &GridMismatchError{Detail: "no fields to merge"}
	}
	var wavelengths []float64
	for _, p := range parts {
		if err := parts[0].Grid.SpatiallyCompatible(p.Grid); err != nil {
			return nil, err
		}
		wavelengths = append(wavelengths, p.Grid.Wavelengths...)
	}
	out := NewField(parts[0].Grid.WithWavelengths(wavelengths))
	nPts := out.Grid.NumPoints()
	offset := 0
	for _, p := range parts {
		for wl := 0; wl < p.Grid.NumWavelengths(); wl++ {
			for pt := 0; pt < nPts; pt++ {
				out.Set(pt, offset+wl, p.At(pt, wl))
			}
		}
		offset += p.Grid.NumWavelengths()
	}
	return out, nil
}

// Power returns the incoherent field power |E|^2 integrated over the grid at
// wavelength index wl.
func (f *Field) Power(wl int) float64 {
	vols := f.Grid.CellVolumes()
	total := 0.0
	for pt := range vols {
		v := f.At(pt, wl)
		mag := 0.0
		for _, c := range v {
			m := cmplx.Abs(c)
			mag += m * m
		}
		total += mag * vols[pt]
	}
	return total
}

// MaxAbs returns the largest sample magnitude, useful for sanity checks on
// solver output.
func (f *Field) MaxAbs() float64 {
	m := 0.0
	for _, c := range f.E {
		m = math.Max(m, cmplx.Abs(c))
	}
	return m
}
