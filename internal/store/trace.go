// Package store persists optimization run history as JSON lines. Every
// proposed parameter vector is recorded with its figure of merit and
// acceptance decision, so runs can be replayed, resumed from their last
// accepted point and compared after the fact.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Record is one optimization trial: a parameter vector that was simulated
// and either accepted or rejected. Each record is one line in history.jsonl.
type Record struct {
	// Iteration is the trial number, counting accepted and rejected trials
	// alike.
	Iteration int `json:"iteration"`

	// Params is the parameter vector that was simulated.
	Params []float64 `json:"params"`

	// FOM is the figure of merit obtained for Params.
	FOM float64 `json:"fom"`

	// GradientNorm is the Euclidean gradient norm at Params; zero for
	// rejected trials, where no adjoint solve is run.
	GradientNorm float64 `json:"gradientNorm,omitempty"`

	// StepSize is the optimizer step size when the trial was proposed.
	StepSize float64 `json:"stepSize"`

	// Accepted records the acceptance decision.
	Accepted bool `json:"accepted"`

	// Timestamp records when the trial finished.
	Timestamp time.Time `json:"timestamp"`
}

// NotFoundError means the requested run has no recorded history.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run history not found: " + e.RunID
	}
	return "run history not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

func historyPath(baseDir, runID string) string {
	return filepath.Join(baseDir, "runs", runID, "history.jsonl")
}

// TraceWriter appends records to a run's history file. It buffers writes
// and is safe for concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewTraceWriter opens the history file for the given run, creating the run
// directory as needed. Existing history is appended to, which is what resume
// needs.
func NewTraceWriter(baseDir, runID string) (*TraceWriter, error) {
	path := historyPath(baseDir, runID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening history file: %w", err)
	}
	return &TraceWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
	}, nil
}

// Write appends one record. The record is buffered until Flush or Close.
func (tw *TraceWriter) Write(rec Record) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling history record: %w", err)
	}
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("writing history record: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing history record: %w", err)
	}
	return nil
}

// Flush writes buffered records and syncs them to disk.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flushing history: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("syncing history: %w", err)
	}
	return nil
}

// Close flushes and closes the history file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("flushing history on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("closing history file: %w", err)
	}
	return nil
}

// Path returns the filesystem path of the history file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader streams records back from a run's history file.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader opens the history of the given run.
func NewTraceReader(baseDir, runID string) (*TraceReader, error) {
	file, err := os.Open(historyPath(baseDir, runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("opening history file: %w", err)
	}
	scanner := bufio.NewScanner(file)
	// Large parameter vectors make long lines.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &TraceReader{file: file, scanner: scanner}, nil
}

// Read returns the next record, or io.EOF after the last one.
func (tr *TraceReader) Read() (*Record, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("scanning history line: %w", err)
		}
		return nil, io.EOF
	}
	var rec Record
	if err := json.Unmarshal(tr.scanner.Bytes(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling history record: %w", err)
	}
	return &rec, nil
}

// ReadAll drains the remaining records.
func (tr *TraceReader) ReadAll() ([]Record, error) {
	var records []Record
	for {
		rec, err := tr.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
}

// Close closes the underlying file.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("closing history file: %w", err)
	}
	return nil
}

// Summary condenses a run history into headline numbers.
type Summary struct {
	Trials       int       `json:"trials"`
	Accepted     int       `json:"accepted"`
	BestFOM      float64   `json:"bestFom"`
	BestParams   []float64 `json:"bestParams"`
	MeanFOM      float64   `json:"meanFom"`
	StdDevFOM    float64   `json:"stdDevFom"`
	FinalStep    float64   `json:"finalStep"`
	LastGradNorm float64   `json:"lastGradNorm"`
}

// Summarize aggregates the accepted trials of a history. maximize selects
// which direction counts as best.
func Summarize(records []Record, maximize bool) Summary {
	s := Summary{Trials: len(records)}
	var foms []float64
	for _, rec := range records {
		s.FinalStep = rec.StepSize
		if !rec.Accepted {
			continue
		}
		foms = append(foms, rec.FOM)
		s.LastGradNorm = rec.GradientNorm
		better := s.Accepted == 0 ||
			(maximize && rec.FOM > s.BestFOM) ||
			(!maximize && rec.FOM < s.BestFOM)
		if better {
			s.BestFOM = rec.FOM
			s.BestParams = rec.Params
		}
		s.Accepted++
	}
	if len(foms) > 0 {
		s.MeanFOM = stat.Mean(foms, nil)
	}
	if len(foms) > 1 {
		s.StdDevFOM = stat.StdDev(foms, nil)
	}
	return s
}
