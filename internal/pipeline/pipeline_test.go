package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismlabs/PRISM/internal/config"
	"github.com/prismlabs/PRISM/internal/field"
	"github.com/prismlabs/PRISM/internal/optimization"
)

func remoteProblem() *config.Problem {
	return &config.Problem{
		Name:        "remote-splitter",
		Wavelengths: config.WavelengthRange{Start: 1.55e-6, Points: 1},
		Simulation:  config.Simulation{XMin: 0, XMax: 4e-6, Cells: 81},
		Source:      config.Source{Position: 0.7e-6},
		FOM: config.FOMSpec{
			Kind:    "mode_overlap",
			Monitor: config.Region{XMin: 3.0e-6, XMax: 3.4e-6},
			Mode:    &config.ModeRef{Center: 3.2e-6, Width: 0.15e-6},
		},
		Slabs: &config.SlabSpec{
			EpsIn:  6.0,
			EpsOut: 1.0,
			Layers: []config.LayerSpec{{
				Center:       2.0e-6,
				Width:        0.8e-6,
				CenterBounds: [2]float64{1.5e-6, 2.5e-6},
				WidthBounds:  [2]float64{0.3e-6, 1.5e-6},
			}},
		},
		Optimizer: config.OptimizerSpec{InitialStep: 2.0e-8, MinStep: 1.0e-9},
		Run:       config.RunSpec{MaxIterations: 2},
	}
}

// stubEngine is a fake remote field engine: it leases sessions and answers
// every simulation with the same field, nonzero on the monitor.
type stubEngine struct {
	mu             sync.Mutex
	opened         int
	released       int
	sessionHeaders []string
}

func (e *stubEngine) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		e.mu.Lock()
		e.opened++
		e.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "lease-1"})
	})
	mux.HandleFunc("/api/v1/sessions/lease-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.NotFound(w, r)
			return
		}
		e.mu.Lock()
		e.released++
		e.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v1/simulations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		e.mu.Lock()
		e.sessionHeaders = append(e.sessionHeaders, r.Header.Get("X-Session-ID"))
		e.mu.Unlock()

		x := []float64{0, 1e-6, 2e-6, 3.2e-6, 4e-6}
		samples := len(x) * 1 * field.Components
		re := make([]float64, samples)
		im := make([]float64, samples)
		// Ez at the monitor point so the overlap and its derivative are
		// nonzero.
		re[(3*1+0)*field.Components+2] = 1.0
		json.NewEncoder(w).Encode(map[string]interface{}{
			"field": map[string]interface{}{
				"x":           x,
				"wavelengths": []float64{1.55e-6},
				"re":          re,
				"im":          im,
			},
		})
	})
	return mux
}

func TestRunLeasesRemoteEngineSession(t *testing.T) {
	engine := &stubEngine{}
	srv := httptest.NewServer(engine.handler())
	defer srv.Close()

	svc := &config.Config{}
	svc.Solver.Endpoint = srv.URL
	svc.Solver.Timeout = time.Minute
	svc.Solver.Workers = 2

	problem := remoteProblem()
	state, err := Run(context.Background(), problem, svc, Options{RunID: "remote-run"}, Initial(problem))
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, optimization.MaxIterationsReached, state.Status)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, 1, engine.opened)
	assert.Equal(t, 1, engine.released, "the session lease must be returned after the run")
	// Seed forward and adjoint, then a forward and an adjoint per accepted
	// iteration, all under the leased session.
	assert.Len(t, engine.sessionHeaders, 6)
	for _, h := range engine.sessionHeaders {
		assert.Equal(t, "lease-1", h)
	}
}

func TestRunEmbeddedSolverNeedsNoLease(t *testing.T) {
	svc := &config.Config{}
	svc.Solver.Timeout = time.Minute
	svc.Solver.Workers = 2

	problem := remoteProblem()
	problem.Run.MaxIterations = 1
	state, err := Run(context.Background(), problem, svc, Options{RunID: "local-run"}, Initial(problem))
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Status.Terminal())
}
