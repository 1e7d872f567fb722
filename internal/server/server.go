package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/prismlabs/PRISM/internal/config"
	"github.com/prismlabs/PRISM/internal/driver"
	"github.com/prismlabs/PRISM/internal/logging"
	"github.com/prismlabs/PRISM/internal/metrics"
	"github.com/prismlabs/PRISM/internal/pipeline"
	"github.com/prismlabs/PRISM/internal/store"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// RunState tracks one optimization run owned by the server. The state is
// updated by the run goroutine and read by status requests, guarded by the
// server's run lock.
type RunState struct {
	ID          string
	Name        string
	Status      string // "pending", "running", "completed", "failed", "cancelled"
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Result      *driver.State
	Error       string
	CancelFunc  context.CancelFunc
}

// Server exposes optimization runs over HTTP: submit a problem, poll its
// progress, cancel it, read its history.
type Server struct {
	cfg     *config.Config
	logger  Logger
	metrics *metrics.Collector

	runs   map[string]*RunState
	runsMu sync.RWMutex // Protects the runs map
}

// NewServer creates a new server instance with the given config and logger
func NewServer(cfg *config.Config, logger Logger, collector *metrics.Collector) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: collector,
		runs:    make(map[string]*RunState),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", s.handleCreateRun)
		r.Get("/runs/{id}", s.handleRunStatus)
		r.Get("/runs/{id}/history", s.handleRunHistory)
		r.Delete("/runs/{id}", s.handleCancelRun)
	})
}

// handleCreateRun accepts a YAML problem definition and starts an
// optimization run for it. The response carries the run ID to poll.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("reading request body: %v", err))
		return
	}
	problem, err := config.ParseProblemYAML(body)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	var history *store.TraceWriter
	if s.cfg.History.Dir != "" {
		history, err = store.NewTraceWriter(s.cfg.History.Dir, id)
		if err != nil {
			cancel()
			s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("opening run history: %v", err))
			return
		}
	}

	opts := pipeline.Options{
		RunID:   id,
		History: history,
		Metrics: s.metrics,
		Logger:  logging.NewZapLogger(s.logger.WithFields(map[string]interface{}{"run_id": id})),
	}
	// Built once up front so a problem the pipeline cannot serve is
	// rejected before the run goroutine starts.
	if _, err := pipeline.Build(problem, s.cfg, opts); err != nil {
		cancel()
		if history != nil {
			history.Close()
		}
		s.respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("building pipeline: %v", err))
		return
	}

	state := &RunState{
		ID:          id,
		Name:        problem.Name,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		CancelFunc:  cancel,
	}
	s.runsMu.Lock()
	s.runs[id] = state
	s.runsMu.Unlock()

	go s.runOptimization(ctx, problem, opts, state, history)

	s.logger.Info("Run created", map[string]interface{}{
		"run_id": id,
		"name":   problem.Name,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"run_id": id,
		"status": "pending",
	})
}

// runOptimization executes one run in the background and records its outcome.
// Remote engine sessions are leased and released inside pipeline.Run.
func (s *Server) runOptimization(ctx context.Context, problem *config.Problem, opts pipeline.Options, state *RunState, history *store.TraceWriter) {
	defer state.CancelFunc()
	if history != nil {
		defer func() {
			if err := history.Close(); err != nil {
				s.logger.Warn("Closing run history failed", map[string]interface{}{
					"run_id": state.ID,
					"error":  err.Error(),
				})
			}
		}()
	}

	s.setStatus(state, "running", nil, "")

	result, err := pipeline.Run(ctx, problem, s.cfg, opts, pipeline.Initial(problem))
	switch {
	case err != nil:
		s.logger.Error("Run failed", map[string]interface{}{
			"run_id": state.ID,
			"error":  err.Error(),
		})
		s.setStatus(state, "failed", result, err.Error())
	case result.Status.String() == "cancelled":
		s.setStatus(state, "cancelled", result, "")
	default:
		s.logger.Info("Run completed", map[string]interface{}{
			"run_id": state.ID,
			"status": result.Status.String(),
			"fom":    result.FOM,
		})
		s.setStatus(state, "completed", result, "")
	}
}

func (s *Server) setStatus(state *RunState, status string, result *driver.State, errMsg string) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	// A cancellation registered by the API wins over the goroutine's
	// completion bookkeeping.
	if state.Status == "cancelled" && status != "cancelled" {
		state.Result = result
		return
	}
	state.Status = status
	state.Result = result
	state.Error = errMsg
	state.LastUpdated = time.Now()
	if status == "completed" || status == "failed" || status == "cancelled" {
		now := time.Now()
		state.EndTime = &now
	}
}

// handleRunStatus reports the progress and outcome of a run
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.runsMu.RLock()
	state, exists := s.runs[id]
	if !exists {
		s.runsMu.RUnlock()
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	response := map[string]interface{}{
		"run_id":      state.ID,
		"name":        state.Name,
		"status":      state.Status,
		"start_time":  state.StartTime.Format(time.RFC3339),
		"last_update": state.LastUpdated.Format(time.RFC3339),
	}
	if state.EndTime != nil {
		response["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.Error != "" {
		response["error"] = state.Error
	}
	if state.Result != nil {
		response["result"] = map[string]interface{}{
			"outcome":    state.Result.Status.String(),
			"parameters": state.Result.Params,
			"fom":        state.Result.FOM,
			"iterations": state.Result.Iteration,
		}
	}
	s.runsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleRunHistory streams the recorded trials of a run
func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.runsMu.RLock()
	_, exists := s.runs[id]
	s.runsMu.RUnlock()
	if !exists || s.cfg.History.Dir == "" {
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}

	reader, err := store.NewTraceReader(s.cfg.History.Dir, id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "run history not found")
		return
	}
	defer reader.Close()

	records, err := reader.ReadAll()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("reading history: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run_id":  id,
		"records": records,
	})
}

// handleCancelRun requests cancellation of a running optimization. The run
// stops at its next iteration boundary.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.runsMu.Lock()
	state, exists := s.runs[id]
	if !exists {
		s.runsMu.Unlock()
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	switch state.Status {
	case "completed", "failed", "cancelled":
		status := state.Status
		s.runsMu.Unlock()
		s.respondError(w, http.StatusConflict, fmt.Sprintf("cannot cancel run with status: %s", status))
		return
	}
	state.Status = "cancelled"
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now
	cancel := state.CancelFunc
	s.runsMu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.logger.Info("Run cancelled", map[string]interface{}{
		"run_id": id,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "cancellation requested",
	})
}

// respondError sends a JSON error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  status,
		"message": message,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// Close cancels all running optimizations
func (s *Server) Close() error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	for _, run := range s.runs {
		if run.CancelFunc != nil {
			run.CancelFunc()
		}
	}
	return nil
}
