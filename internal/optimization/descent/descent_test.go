package descent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismlabs/PRISM/internal/optimization"
)

func newTestOptimizer(t *testing.T, cfg Config) *Adaptive {
	t.Helper()
	opt, err := New(cfg)
	require.NoError(t, err)
	return opt
}

func TestNewValidation(t *testing.T) {
	valid := Config{
		Bounds:      [][2]float64{{0, 1}},
		InitialStep: 0.1,
		MinStep:     0.01,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid configuration", func(c *Config) {}, false},
		{"no bounds", func(c *Config) { c.Bounds = nil }, true},
		{"inverted bound", func(c *Config) { c.Bounds = [][2]float64{{1, 0}} }, true},
		{"zero initial step", func(c *Config) { c.InitialStep = 0 }, true},
		{"min step above initial", func(c *Config) { c.MinStep = 0.5 }, true},
		{"max step below initial", func(c *Config) { c.MaxStep = 0.05 }, true},
		{"growth below one", func(c *Config) { c.GrowthFactor = 0.9 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := New(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStepNormalization(t *testing.T) {
	opt := newTestOptimizer(t, Config{
		Bounds:      [][2]float64{{-10, 10}, {-10, 10}},
		InitialStep: 0.5,
		MinStep:     0.01,
	})

	// Ascent moves along the gradient normalized by its largest component,
	// so the biggest parameter change equals the step size exactly.
	next, err := opt.Step([]float64{0, 0}, 1.0, []float64{4, 2})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, next[0], 1e-12)
	assert.InDelta(t, 0.25, next[1], 1e-12)
}

func TestStepMinimizeDescends(t *testing.T) {
	opt := newTestOptimizer(t, Config{
		Bounds:      [][2]float64{{-10, 10}},
		InitialStep: 1,
		MinStep:     0.01,
		Direction:   optimization.Minimize,
	})

	next, err := opt.Step([]float64{0}, 1.0, []float64{2})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, next[0], 1e-12)
}

func TestStepClipsToBounds(t *testing.T) {
	opt := newTestOptimizer(t, Config{
		Bounds:      [][2]float64{{0, 1}},
		InitialStep: 5,
		MinStep:     0.01,
	})

	next, err := opt.Step([]float64{0.9}, 1.0, []float64{1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, next[0])
	assert.True(t, optimization.WithinBounds(next, opt.cfg.Bounds))
}

func TestStepZeroGradient(t *testing.T) {
	opt := newTestOptimizer(t, Config{
		Bounds:      [][2]float64{{0, 1}},
		InitialStep: 0.5,
		MinStep:     0.01,
	})

	next, err := opt.Step([]float64{0.3}, 1.0, []float64{0})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3}, next)
}

func TestStepErrors(t *testing.T) {
	opt := newTestOptimizer(t, Config{
		Bounds:      [][2]float64{{0, 1}},
		InitialStep: 0.5,
		MinStep:     0.01,
	})

	_, err := opt.Step([]float64{0.5, 0.5}, 1.0, []float64{1, 1})
	assert.Error(t, err)
	_, err = opt.Step([]float64{0.5}, 1.0, []float64{1, 1})
	assert.Error(t, err)
}

func TestAcceptGrowsToCap(t *testing.T) {
	opt := newTestOptimizer(t, Config{
		Bounds:       [][2]float64{{0, 1}},
		InitialStep:  0.1,
		MinStep:      0.001,
		MaxStep:      0.15,
		GrowthFactor: 1.5,
	})

	opt.Accept()
	assert.InDelta(t, 0.15, opt.StepSize(), 1e-12)
	opt.Accept()
	assert.InDelta(t, 0.15, opt.StepSize(), 1e-12)
}

func TestRejectHalvesAndStalls(t *testing.T) {
	opt := newTestOptimizer(t, Config{
		Bounds:      [][2]float64{{0, 1}},
		InitialStep: 0.4,
		MinStep:     0.1,
	})

	require.True(t, opt.Reject())
	assert.InDelta(t, 0.2, opt.StepSize(), 1e-12)
	require.True(t, opt.Reject())
	assert.InDelta(t, 0.1, opt.StepSize(), 1e-12)

	// At the minimum the line search cannot back off any further.
	assert.False(t, opt.Reject())
	assert.InDelta(t, 0.1, opt.StepSize(), 1e-12)
}

func TestRecoveryAfterRejection(t *testing.T) {
	opt := newTestOptimizer(t, Config{
		Bounds:       [][2]float64{{0, 1}},
		InitialStep:  0.4,
		MinStep:      0.01,
		MaxStep:      0.4,
		GrowthFactor: 1.05,
	})

	require.True(t, opt.Reject())
	opt.Accept()
	assert.InDelta(t, 0.21, opt.StepSize(), 1e-12)
}
