package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validProblemYAML = `
name: splitter
wavelengths:
  start: 1.5e-6
  stop: 1.6e-6
  points: 3
simulation:
  x_min: 0
  x_max: 4.0e-6
  cells: 81
  damp_cells: 8
source:
  position: 0.7e-6
fom:
  kind: mode_overlap
  monitor:
    x_min: 3.0e-6
    x_max: 3.4e-6
  mode:
    center: 3.2e-6
    width: 1.5e-7
slabs:
  eps_in: 6.0
  eps_out: 1.0
  min_width: 1.0e-7
  layers:
    - center: 2.0e-6
      width: 8.0e-7
      center_bounds: [1.5e-6, 2.5e-6]
      width_bounds: [3.0e-7, 1.5e-6]
optimizer:
  direction: maximize
  initial_step: 5.0e-8
  min_step: 1.0e-10
  max_step: 2.0e-7
  growth_factor: 1.2
run:
  max_iterations: 100
  gradient_tolerance: 1.0e-3
`

func TestParseProblemYAML(t *testing.T) {
	p, err := ParseProblemYAML([]byte(validProblemYAML))
	require.NoError(t, err)

	assert.Equal(t, "splitter", p.Name)
	assert.Equal(t, 81, p.Simulation.Cells)
	assert.Equal(t, "mode_overlap", p.FOM.Kind)
	require.NotNil(t, p.FOM.Mode)
	assert.Equal(t, 3.2e-6, p.FOM.Mode.Center)
	assert.Equal(t, 100, p.Run.MaxIterations)

	wavelengths := p.Wavelengths.Values()
	require.Len(t, wavelengths, 3)
	assert.InDelta(t, 1.5e-6, wavelengths[0], 1e-18)
	assert.InDelta(t, 1.55e-6, wavelengths[1], 1e-18)
	assert.InDelta(t, 1.6e-6, wavelengths[2], 1e-18)

	require.NotNil(t, p.Slabs)
	assert.Equal(t, []float64{2.0e-6, 8.0e-7}, p.Slabs.InitialParams())
	assert.Equal(t, [][2]float64{
		{1.5e-6, 2.5e-6},
		{3.0e-7, 1.5e-6},
	}, p.Slabs.ParamBounds())
}

func TestParseProblemYAMLValidation(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(p *Problem)
		errMsg string
	}{
		{
			name:   "non-positive wavelength",
			mutate: func(p *Problem) { p.Wavelengths.Start = 0 },
			errMsg: "wavelengths.start",
		},
		{
			name:   "inverted sweep",
			mutate: func(p *Problem) { p.Wavelengths.Stop = 1.4e-6 },
			errMsg: "wavelengths.stop",
		},
		{
			name:   "empty simulation span",
			mutate: func(p *Problem) { p.Simulation.XMax = p.Simulation.XMin },
			errMsg: "simulation span",
		},
		{
			name:   "source outside span",
			mutate: func(p *Problem) { p.Source.Position = 9e-6 },
			errMsg: "source position",
		},
		{
			name:   "unknown fom kind",
			mutate: func(p *Problem) { p.FOM.Kind = "reflectance" },
			errMsg: "unknown fom kind",
		},
		{
			name:   "mode overlap without mode",
			mutate: func(p *Problem) { p.FOM.Mode = nil },
			errMsg: "requires a mode section",
		},
		{
			name:   "non-positive mode width",
			mutate: func(p *Problem) { p.FOM.Mode.Width = 0 },
			errMsg: "mode width",
		},
		{
			name:   "empty monitor",
			mutate: func(p *Problem) { p.FOM.Monitor.XMax = p.FOM.Monitor.XMin },
			errMsg: "monitor region",
		},
		{
			name:   "unknown weighting",
			mutate: func(p *Problem) { p.FOM.Weighting = "harmonic" },
			errMsg: "unknown weighting",
		},
		{
			name:   "missing slabs",
			mutate: func(p *Problem) { p.Slabs = nil },
			errMsg: "slabs parametrization is required",
		},
		{
			name:   "no layers",
			mutate: func(p *Problem) { p.Slabs.Layers = nil },
			errMsg: "at least one layer",
		},
		{
			name:   "inverted center bounds",
			mutate: func(p *Problem) { p.Slabs.Layers[0].CenterBounds = [2]float64{2.5e-6, 1.5e-6} },
			errMsg: "center_bounds",
		},
		{
			name:   "non-positive initial step",
			mutate: func(p *Problem) { p.Optimizer.InitialStep = 0 },
			errMsg: "initial_step",
		},
		{
			name:   "unknown direction",
			mutate: func(p *Problem) { p.Optimizer.Direction = "sideways" },
			errMsg: "optimizer direction",
		},
		{
			name:   "non-positive iteration budget",
			mutate: func(p *Problem) { p.Run.MaxIterations = 0 },
			errMsg: "max_iterations",
		},
	}
	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseProblemYAML([]byte(validProblemYAML))
			require.NoError(t, err)
			tt.mutate(p)
			err = validateProblem(p)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := ParseProblemYAML([]byte("name: [unclosed"))
		assert.Error(t, err)
	})
}

func TestWavelengthRangeValues(t *testing.T) {
	t.Run("single point ignores stop", func(t *testing.T) {
		w := WavelengthRange{Start: 1.55e-6, Stop: 99, Points: 1}
		assert.Equal(t, []float64{1.55e-6}, w.Values())
	})

	t.Run("zero points defaults to start", func(t *testing.T) {
		w := WavelengthRange{Start: 1.55e-6}
		assert.Equal(t, []float64{1.55e-6}, w.Values())
	})

	t.Run("inclusive endpoints", func(t *testing.T) {
		w := WavelengthRange{Start: 1.0, Stop: 2.0, Points: 5}
		values := w.Values()
		require.Len(t, values, 5)
		assert.Equal(t, 1.0, values[0])
		assert.Equal(t, 2.0, values[4])
		assert.InDelta(t, 1.25, values[1], 1e-15)
	})
}

func TestLoadProblem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "problem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validProblemYAML), 0o644))

	p, err := LoadProblem(path)
	require.NoError(t, err)
	assert.Equal(t, "splitter", p.Name)

	_, err = LoadProblem(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
