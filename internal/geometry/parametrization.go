package geometry

import (
	"fmt"

	"github.com/prismlabs/PRISM/internal/field"
)

// Parametrization maps a design parameter vector to a solver-ready geometry
// and exposes the material sensitivity of that mapping.
//
// Build must be a pure function of its input: identical parameters always
// regenerate an identical geometry. Sensitivity must stay mathematically
// consistent with Build, which the implementations below guarantee by
// differencing the very rasterization Build produces.
type Parametrization interface {
	// NumParams returns the number of design degrees of freedom.
	NumParams() int

	// Bounds returns the per-parameter [min, max] box constraints.
	Bounds() [][2]float64

	// Build converts parameters to a geometry, or fails with
	// *InvalidGeometryError for degenerate structures.
	Build(params []float64) (*Geometry, error)

	// Sensitivity returns one kernel per parameter: the derivative of the
	// rasterized relative permittivity at every grid point with respect to
	// that parameter.
	Sensitivity(params []float64, grid *field.Grid) ([][]float64, error)
}

// defaultFDStep is the parameter perturbation used to difference the
// permittivity map. Design parameters are lengths on the order of
// micrometers, so a sub-nanometer step stays well inside the linear regime.
const defaultFDStep = 1e-10

func checkParamCount(got, want int) error {
	if got != want {
		return &InvalidGeometryError{
			Reason: fmt.Sprintf("got %d parameters, parametrization has %d degrees of freedom", got, want),
		}
	}
	return nil
}

// centralDifferenceKernels computes per-parameter permittivity kernels by
// central differencing build+rasterize around params. Perturbed builds that
// produce invalid geometry propagate their error; the driver already
// validated params itself, so a failure here means the point sits on a
// feasibility boundary and the step is rejected like any other invalid trial.
func centralDifferenceKernels(
	build func(params []float64) (*Geometry, error),
	params []float64,
	grid *field.Grid,
	step float64,
) ([][]float64, error) {
	if step <= 0 {
		step = defaultFDStep
	}
	kernels := make([][]float64, len(params))
	work := append([]float64(nil), params...)
	for i := range params {
		work[i] = params[i] + step
		hi, err := build(work)
		if err != nil {
			return nil, err
		}
		work[i] = params[i] - step
		lo, err := build(work)
		if err != nil {
			return nil, err
		}
		work[i] = params[i]

		epsHi := Rasterize(hi, grid)
		epsLo := Rasterize(lo, grid)
		k := make([]float64, len(epsHi))
		for pt := range k {
			k[pt] = (epsHi[pt] - epsLo[pt]) / (2.0 * step)
		}
		kernels[i] = k
	}
	return kernels, nil
}

// SlabStack parametrizes a stack of 1-D dielectric layers on the x axis.
// Parameters come in (center, width) pairs, one pair per layer. Layers must
// keep positive width above MinWidth and must not overlap.
type SlabStack struct {
	// ParamBounds holds one [min, max] pair per parameter
	// (2 * number of layers).
	ParamBounds [][2]float64
	EpsIn       float64
	EpsOut      float64
	// MinWidth is the narrowest manufacturable layer; zero disables the
	// check beyond positivity.
	MinWidth float64
	// FDStep overrides the sensitivity differencing step; zero selects the
	// default.
	FDStep float64
	// MeshHint is forwarded to the produced geometry.
	MeshHint float64
}

func (s *SlabStack) NumParams() int { return len(s.ParamBounds) }

func (s *SlabStack) Bounds() [][2]float64 { return s.ParamBounds }

func (s *SlabStack) Build(params []float64) (*Geometry, error) {
	if err := checkParamCount(len(params), s.NumParams()); err != nil {
		return nil, err
	}
	if len(params)%2 != 0 {
		return nil, &InvalidGeometryError{
			Reason: "slab stack parameters must come in (center, width) pairs",
		}
	}
	shapes := make([]Shape, 0, len(params)/2)
	prevEnd := 0.0
	for i := 0; i < len(params); i += 2 {
		center, width := params[i], params[i+1]
		if width <= s.MinWidth || width <= 0 {
			return nil, &InvalidGeometryError{
				Reason: fmt.Sprintf("layer %d width %g below minimum %g", i/2, width, s.MinWidth),
			}
		}
		x0 := center - width/2
		x1 := center + width/2
		if len(shapes) > 0 && x0 < prevEnd {
			return nil, &InvalidGeometryError{
				Reason: fmt.Sprintf("layer %d overlaps the previous layer", i/2),
			}
		}
		shapes = append(shapes, &Slab{X0: x0, X1: x1, EpsIn: s.EpsIn})
		prevEnd = x1
	}
	return &Geometry{
		Shapes:        shapes,
		EpsBackground: s.EpsOut,
		MeshHint:      s.MeshHint,
	}, nil
}

func (s *SlabStack) Sensitivity(params []float64, grid *field.Grid) ([][]float64, error) {
	if err := checkParamCount(len(params), s.NumParams()); err != nil {
		return nil, err
	}
	return centralDifferenceKernels(s.Build, params, grid, s.FDStep)
}

// VertexFunc maps design parameters to polygon vertices in counter-clockwise
// order.
type VertexFunc func(params []float64) [][2]float64

// FunctionPolygon parametrizes a single extruded polygon through a
// user-supplied vertex function, following the function-defined polygon
// geometry of shape optimization.
type FunctionPolygon struct {
	Func        VertexFunc
	ParamBounds [][2]float64
	EpsIn       float64
	EpsOut      float64
	Z, Depth    float64
	// MinFeature rejects edges shorter than this length.
	MinFeature float64
	FDStep     float64
	MeshHint   float64
}

func (f *FunctionPolygon) NumParams() int { return len(f.ParamBounds) }

func (f *FunctionPolygon) Bounds() [][2]float64 { return f.ParamBounds }

func (f *FunctionPolygon) Build(params []float64) (*Geometry, error) {
	if err := checkParamCount(len(params), f.NumParams()); err != nil {
		return nil, err
	}
	poly := &Polygon{
		Vertices: f.Func(append([]float64(nil), params...)),
		EpsIn:    f.EpsIn,
		Z:        f.Z,
		Depth:    f.Depth,
	}
	if err := poly.Validate(f.MinFeature); err != nil {
		return nil, err
	}
	return &Geometry{
		Shapes:        []Shape{poly},
		EpsBackground: f.EpsOut,
		MeshHint:      f.MeshHint,
	}, nil
}

func (f *FunctionPolygon) Sensitivity(params []float64, grid *field.Grid) ([][]float64, error) {
	if err := checkParamCount(len(params), f.NumParams()); err != nil {
		return nil, err
	}
	return centralDifferenceKernels(f.Build, params, grid, f.FDStep)
}
