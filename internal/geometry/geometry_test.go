package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismlabs/PRISM/internal/field"
)

func TestSlabFill(t *testing.T) {
	slab := &Slab{X0: 1, X1: 2, EpsIn: 12}

	tests := []struct {
		name string
		x, h float64
		want float64
	}{
		{"cell fully inside", 1.5, 0.5, 1},
		{"cell fully outside", 3, 0.5, 0},
		{"cell straddles left edge", 1, 0.5, 0.5},
		{"cell straddles right edge", 2, 0.5, 0.5},
		{"quarter overlap", 0.875, 0.5, 0.25},
		{"point sample inside", 1.5, 0, 1},
		{"point sample outside", 0.5, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, slab.Fill(tt.x, 0, tt.h, 0), 1e-12)
		})
	}
}

func TestRasterizeBlending(t *testing.T) {
	g := &Geometry{
		Shapes:        []Shape{&Slab{X0: 1, X1: 2, EpsIn: 12}},
		EpsBackground: 2,
	}
	grid := field.NewGrid([]float64{0, 0.5, 1, 1.5, 2, 2.5, 3}, nil, nil, nil)
	eps := Rasterize(g, grid)

	require.Len(t, eps, 7)
	assert.InDelta(t, 2.0, eps[0], 1e-12)  // background
	assert.InDelta(t, 12.0, eps[3], 1e-12) // inside the slab
	// Cells centered on the boundary blend half and half.
	assert.InDelta(t, 7.0, eps[2], 1e-12)
	assert.InDelta(t, 7.0, eps[4], 1e-12)
}

func TestRasterizeDeterministic(t *testing.T) {
	stack := &SlabStack{
		ParamBounds: [][2]float64{{0.5, 2.5}, {0.1, 1.0}},
		EpsIn:       12,
		EpsOut:      1,
	}
	grid := field.NewGrid([]float64{0, 1, 2, 3}, nil, nil, nil)
	params := []float64{1.5, 0.8}

	first, err := stack.Build(params)
	require.NoError(t, err)
	second, err := stack.Build(params)
	require.NoError(t, err)

	// Identical parameters regenerate a bit-identical permittivity map.
	assert.Equal(t, Rasterize(first, grid), Rasterize(second, grid))
}

func TestSlabStackBuildRejectsDegenerate(t *testing.T) {
	stack := &SlabStack{
		ParamBounds: [][2]float64{{0, 3}, {0, 1}, {0, 3}, {0, 1}},
		EpsIn:       12,
		EpsOut:      1,
		MinWidth:    0.05,
	}

	tests := []struct {
		name   string
		params []float64
	}{
		{"zero width", []float64{1, 0, 2, 0.5}},
		{"below minimum width", []float64{1, 0.04, 2, 0.5}},
		{"overlapping layers", []float64{1, 0.8, 1.3, 0.8}},
		{"wrong parameter count", []float64{1, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := stack.Build(tt.params)
			require.Error(t, err)
			var invalid *InvalidGeometryError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestSlabStackSensitivity(t *testing.T) {
	stack := &SlabStack{
		ParamBounds: [][2]float64{{0.5, 2.5}, {0.1, 1.5}},
		EpsIn:       12,
		EpsOut:      1,
		FDStep:      1e-6,
	}
	grid := field.NewGrid([]float64{0, 0.25, 0.5, 0.75, 1, 1.25, 1.5, 1.75, 2, 2.25, 2.5, 2.75, 3}, nil, nil, nil)
	params := []float64{1.5, 1.0}

	kernels, err := stack.Sensitivity(params, grid)
	require.NoError(t, err)
	require.Len(t, kernels, 2)
	require.Len(t, kernels[0], grid.NumPoints())

	// Moving the center shifts material from one edge to the other, so the
	// center kernel is antisymmetric about the slab center and sums to
	// roughly zero.
	centerSum := 0.0
	for _, v := range kernels[0] {
		centerSum += v
	}
	assert.InDelta(t, 0.0, centerSum, 1e-3)

	// Widening adds material at both edges symmetrically.
	widthSum := 0.0
	for _, v := range kernels[1] {
		widthSum += v
	}
	assert.Greater(t, widthSum, 0.0)
	nPts := grid.NumPoints()
	for i := 0; i < nPts/2; i++ {
		assert.InDelta(t, kernels[1][i], kernels[1][nPts-1-i], 1e-6)
	}
}

func TestPolygonValidate(t *testing.T) {
	tests := []struct {
		name       string
		vertices   [][2]float64
		minFeature float64
		wantErr    bool
	}{
		{
			name:     "valid square",
			vertices: [][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		},
		{
			name:     "too few vertices",
			vertices: [][2]float64{{0, 0}, {1, 0}},
			wantErr:  true,
		},
		{
			name:     "clockwise order",
			vertices: [][2]float64{{0, 0}, {0, 1}, {1, 1}, {1, 0}},
			wantErr:  true,
		},
		{
			name:     "self-intersecting bowtie",
			vertices: [][2]float64{{0, 0}, {1, 1}, {1, 0}, {0, 1}},
			wantErr:  true,
		},
		{
			name:       "edge below minimum feature",
			vertices:   [][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
			minFeature: 1.5,
			wantErr:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Polygon{Vertices: tt.vertices, EpsIn: 12}
			err := p.Validate(tt.minFeature)
			if tt.wantErr {
				require.Error(t, err)
				var invalid *InvalidGeometryError
				assert.ErrorAs(t, err, &invalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPolygonContainsAndArea(t *testing.T) {
	square := &Polygon{Vertices: [][2]float64{{0, 0}, {2, 0}, {2, 2}, {0, 2}}}

	assert.InDelta(t, 4.0, square.SignedArea(), 1e-12)
	assert.True(t, square.contains(1, 1))
	assert.False(t, square.contains(3, 1))
	assert.InDelta(t, 1.0, square.Fill(1, 1, 0.5, 0.5), 1e-12)
	assert.InDelta(t, 0.0, square.Fill(5, 5, 0.5, 0.5), 1e-12)
}

func TestFunctionPolygonBuild(t *testing.T) {
	rect := &FunctionPolygon{
		Func: func(p []float64) [][2]float64 {
			w, h := p[0], p[1]
			return [][2]float64{{0, 0}, {w, 0}, {w, h}, {0, h}}
		},
		ParamBounds: [][2]float64{{0.1, 5}, {0.1, 5}},
		EpsIn:       12,
		EpsOut:      1,
	}

	geom, err := rect.Build([]float64{2, 1})
	require.NoError(t, err)
	require.Len(t, geom.Shapes, 1)
	assert.Equal(t, 1.0, geom.EpsBackground)

	// Degenerate width collapses the polygon to a line.
	_, err = rect.Build([]float64{0, 1})
	var invalid *InvalidGeometryError
	assert.ErrorAs(t, err, &invalid)
}
