// Package geometry converts design parameter vectors into solver-ready
// structure descriptions and exposes the material sensitivity kernels
// required for adjoint gradient assembly.
package geometry

import (
	"fmt"

	"github.com/prismlabs/PRISM/internal/field"
)

// InvalidGeometryError reports a parameter vector that produces a degenerate
// structure (zero-width feature, self-intersection, inverted layer order).
// The driver treats it as a rejected line-search trial, never as a fatal
// failure, and the offending geometry is never submitted to a solver.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return "invalid geometry: " + e.Reason
}

// Geometry is a solver-ready structure description. It is rebuilt from the
// current parameter vector every iteration and never mutated in place.
type Geometry struct {
	Shapes []Shape
	// EpsBackground is the relative permittivity of the surrounding medium.
	EpsBackground float64
	// MeshHint is the suggested cell size in meters; zero lets the solver
	// choose.
	MeshHint float64
}

// Shape is a material region. Fill returns the fraction of a cell centered
// at (x, y) with spans (hx, hy) covered by the shape; the smooth fill
// fraction keeps the rasterized permittivity differentiable in the design
// parameters.
type Shape interface {
	Fill(x, y, hx, hy float64) float64
	Permittivity() float64
}

// Rasterize samples the relative permittivity of the geometry on the spatial
// points of the grid. Shapes layer in order, each blending over what is
// already there by its fill fraction.
func Rasterize(g *Geometry, grid *field.Grid) []float64 {
	hx := axisSpacing(grid.X)
	hy := axisSpacing(grid.Y)
	eps := make([]float64, grid.NumPoints())
	for pt := range eps {
		x, y, _ := grid.Coordinates(pt)
		v := g.EpsBackground
		for _, s := range g.Shapes {
			fill := s.Fill(x, y, hx, hy)
			v = v*(1.0-fill) + s.Permittivity()*fill
		}
		eps[pt] = v
	}
	return eps
}

// axisSpacing returns the representative cell span of an axis. Singleton
// axes collapse to zero span, so fill fractions degenerate to point
// membership along them.
func axisSpacing(axis []float64) float64 {
	if len(axis) < 2 {
		return 0.0
	}
	return (axis[len(axis)-1] - axis[0]) / float64(len(axis)-1)
}

// Slab is a 1-D material layer spanning [X0, X1] on the x axis.
type Slab struct {
	X0, X1 float64
	EpsIn  float64
}

// Fill returns the overlap fraction of the cell [x-hx/2, x+hx/2] with the
// slab. The fraction is piecewise linear in the slab boundaries, which keeps
// finite-difference sensitivity kernels well behaved.
func (s *Slab) Fill(x, _, hx, _ float64) float64 {
	if hx <= 0 {
		if x >= s.X0 && x <= s.X1 {
			return 1.0
		}
		return 0.0
	}
	lo := x - hx/2
	hi := x + hx/2
	overlap := min(hi, s.X1) - max(lo, s.X0)
	if overlap <= 0 {
		return 0.0
	}
	return min(overlap/hx, 1.0)
}

func (s *Slab) Permittivity() float64 { return s.EpsIn }

// Polygon is a closed 2-D region on the (x, y) plane, extruded along z by
// the solver. Vertices must be ordered counter-clockwise.
type Polygon struct {
	Vertices [][2]float64
	EpsIn    float64
	// Z and Depth locate the extrusion for 3-D solvers.
	Z, Depth float64
}

// Fill estimates the covered fraction of the cell centered at (x, y) by
// supersampling point membership on a 4x4 sub-grid.
func (p *Polygon) Fill(x, y, hx, hy float64) float64 {
	if hx <= 0 || hy <= 0 {
		if p.contains(x, y) {
			return 1.0
		}
		return 0.0
	}
	const sub = 4
	inside := 0
	for i := 0; i < sub; i++ {
		for j := 0; j < sub; j++ {
			sx := x - hx/2 + hx*(float64(i)+0.5)/sub
			sy := y - hy/2 + hy*(float64(j)+0.5)/sub
			if p.contains(sx, sy) {
				inside++
			}
		}
	}
	return float64(inside) / (sub * sub)
}

func (p *Polygon) Permittivity() float64 { return p.EpsIn }

// contains implements the even-odd ray casting rule.
func (p *Polygon) contains(x, y float64) bool {
	inside := false
	n := len(p.Vertices)
	for i := 0; i < n; i++ {
		a := p.Vertices[i]
		b := p.Vertices[(i+1)%n]
		if (a[1] > y) != (b[1] > y) {
			t := (y - a[1]) / (b[1] - a[1])
			if x < a[0]+t*(b[0]-a[0]) {
				inside = !inside
			}
		}
	}
	return inside
}

// SignedArea returns the polygon area, positive for counter-clockwise
// vertex order.
func (p *Polygon) SignedArea() float64 {
	area := 0.0
	n := len(p.Vertices)
	for i := 0; i < n; i++ {
		a := p.Vertices[i]
		b := p.Vertices[(i+1)%n]
		area += a[0]*b[1] - b[0]*a[1]
	}
	return area / 2.0
}

// selfIntersects checks every non-adjacent edge pair.
func (p *Polygon) selfIntersects() bool {
	n := len(p.Vertices)
	edge := func(i int) ([2]float64, [2]float64) {
		return p.Vertices[i], p.Vertices[(i+1)%n]
	}
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue // adjacent through the wrap-around
			}
			a1, a2 := edge(i)
			b1, b2 := edge(j)
			if segmentsIntersect(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, p3, p4 [2]float64) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func cross(o, a, b [2]float64) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

// Validate checks the polygon for degeneracies and returns an
// *InvalidGeometryError describing the first problem found.
func (p *Polygon) Validate(minFeature float64) error {
	if len(p.Vertices) < 3 {
		return &InvalidGeometryError{
			Reason: fmt.Sprintf("polygon has %d vertices, need at least 3", len(p.Vertices)),
		}
	}
	if area := p.SignedArea(); area <= 0 {
		return &InvalidGeometryError{
			Reason: fmt.Sprintf("polygon area %g is not positive; vertices must be counter-clockwise", area),
		}
	}
	if p.selfIntersects() {
		return &InvalidGeometryError{Reason: "polygon edges self-intersect"}
	}
	if minFeature > 0 {
		n := len(p.Vertices)
		for i := 0; i < n; i++ {
			a := p.Vertices[i]
			b := p.Vertices[(i+1)%n]
			dx := b[0] - a[0]
			dy := b[1] - a[1]
			if dx*dx+dy*dy < minFeature*minFeature {
				return &InvalidGeometryError{
					Reason: fmt.Sprintf("edge %d shorter than minimum feature size %g", i, minFeature),
				}
			}
		}
	}
	return nil
}
