package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismlabs/PRISM/internal/config"
	"github.com/prismlabs/PRISM/internal/logging"
	"github.com/prismlabs/PRISM/internal/store"
)

// problemYAML builds a small problem solved by the embedded engine, so the
// API tests run real optimizations end to end.
func problemYAML(cells, maxIterations int) string {
	return fmt.Sprintf(`
name: api-test
wavelengths:
  start: 1.55e-6
  points: 1
simulation:
  x_min: 0
  x_max: 4.0e-6
  cells: %d
  damp_cells: 6
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
  initial_step: 2.0e-8
  min_step: 1.0e-9
run:
  max_iterations: %d
`, cells, maxIterations)
}

func newTestServer(t *testing.T) (*Server, chi.Router, *config.Config) {
	t.Helper()
	cfg := &config.Config{}
	cfg.History.Dir = t.TempDir()
	cfg.Solver.Timeout = time.Minute
	cfg.Solver.Workers = 2

	logger, err := logging.NewLogger(&logging.Config{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	})
	require.NoError(t, err)

	srv := NewServer(cfg, logger, nil)
	t.Cleanup(func() { srv.Close() })
	router := chi.NewRouter()
	srv.RegisterRoutes(router)
	return srv, router, cfg
}

func doRequest(router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRunLifecycle(t *testing.T) {
	_, router, cfg := newTestServer(t)

	rr := doRequest(router, http.MethodPost, "/api/v1/runs", problemYAML(41, 2))
	require.Equal(t, http.StatusAccepted, rr.Code)

	var created map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	runID := created["run_id"]
	require.NotEmpty(t, runID)
	assert.Equal(t, "pending", created["status"])

	statusPath := "/api/v1/runs/" + runID
	var status map[string]interface{}
	require.Eventually(t, func() bool {
		rr := doRequest(router, http.MethodGet, statusPath, "")
		if rr.Code != http.StatusOK {
			return false
		}
		status = nil
		if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
			return false
		}
		return status["status"] == "completed"
	}, 15*time.Second, 25*time.Millisecond, "run never completed")

	assert.Equal(t, "api-test", status["name"])
	result, ok := status["result"].(map[string]interface{})
	require.True(t, ok, "completed run must carry a result")
	assert.Equal(t, "max_iterations", result["outcome"])
	assert.Equal(t, float64(2), result["iterations"])

	// The history file is flushed on run completion; every trial is there.
	var history struct {
		RunID   string         `json:"run_id"`
		Records []store.Record `json:"records"`
	}
	require.Eventually(t, func() bool {
		rr := doRequest(router, http.MethodGet, statusPath+"/history", "")
		if rr.Code != http.StatusOK {
			return false
		}
		history.Records = nil
		if err := json.NewDecoder(rr.Body).Decode(&history); err != nil {
			return false
		}
		return len(history.Records) == 3
	}, 5*time.Second, 25*time.Millisecond, "history never flushed")
	assert.Equal(t, runID, history.RunID)
	assert.Equal(t, 0, history.Records[0].Iteration)
	assert.True(t, history.Records[0].Accepted)

	// Terminal runs cannot be cancelled.
	rr = doRequest(router, http.MethodDelete, statusPath, "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	// Trace files live under the configured history root.
	reader, err := store.NewTraceReader(cfg.History.Dir, runID)
	require.NoError(t, err)
	reader.Close()
}

func TestCreateRunRejectsInvalidProblem(t *testing.T) {
	_, router, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed yaml", "wavelengths: [unclosed"},
		{"failed validation", "name: empty-problem"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(router, http.MethodPost, "/api/v1/runs", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

			var resp map[string]string
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestUnknownRun(t *testing.T) {
	_, router, _ := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/api/v1/runs/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/api/v1/runs/nope/history", "").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodDelete, "/api/v1/runs/nope", "").Code)
}

func TestCancelRun(t *testing.T) {
	_, router, _ := newTestServer(t)

	// A large budget on a denser mesh keeps the run going long enough to
	// cancel it.
	rr := doRequest(router, http.MethodPost, "/api/v1/runs", problemYAML(201, 100000))
	require.Equal(t, http.StatusAccepted, rr.Code)
	var created map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	runID := created["run_id"]

	rr = doRequest(router, http.MethodDelete, "/api/v1/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(router, http.MethodGet, "/api/v1/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, "cancelled", status["status"])
}

func TestServerClose(t *testing.T) {
	srv, router, _ := newTestServer(t)

	rr := doRequest(router, http.MethodPost, "/api/v1/runs", problemYAML(201, 100000))
	require.Equal(t, http.StatusAccepted, rr.Code)

	assert.NoError(t, srv.Close())
}
