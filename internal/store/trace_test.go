package store

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	base := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return []Record{
		{Iteration: 0, Params: []float64{0.5, 1.0}, FOM: 0.21, GradientNorm: 1.4, StepSize: 0.1, Accepted: true, Timestamp: base},
		{Iteration: 1, Params: []float64{0.6, 1.1}, FOM: 0.18, StepSize: 0.1, Accepted: false, Timestamp: base.Add(time.Second)},
		{Iteration: 2, Params: []float64{0.55, 1.05}, FOM: 0.27, GradientNorm: 0.9, StepSize: 0.05, Accepted: true, Timestamp: base.Add(2 * time.Second)},
	}
}

func TestTraceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	records := sampleRecords()

	tw, err := NewTraceWriter(dir, "run-1")
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, tw.Write(rec))
	}
	require.NoError(t, tw.Close())

	tr, err := NewTraceReader(dir, "run-1")
	require.NoError(t, err)
	defer tr.Close()

	got, err := tr.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, len(records))
	for i := range records {
		assert.Equal(t, records[i].Iteration, got[i].Iteration)
		assert.Equal(t, records[i].Params, got[i].Params)
		assert.Equal(t, records[i].FOM, got[i].FOM)
		assert.Equal(t, records[i].GradientNorm, got[i].GradientNorm)
		assert.Equal(t, records[i].Accepted, got[i].Accepted)
		assert.True(t, records[i].Timestamp.Equal(got[i].Timestamp))
	}

	_, err = tr.Read()
	assert.Equal(t, io.EOF, err)
}

func TestTraceWriterAppends(t *testing.T) {
	dir := t.TempDir()
	records := sampleRecords()

	tw, err := NewTraceWriter(dir, "run-1")
	require.NoError(t, err)
	require.NoError(t, tw.Write(records[0]))
	require.NoError(t, tw.Close())

	// Reopening the same run continues the history, as a resumed run does.
	tw, err = NewTraceWriter(dir, "run-1")
	require.NoError(t, err)
	require.NoError(t, tw.Write(records[1]))
	require.NoError(t, tw.Flush())
	require.NoError(t, tw.Close())

	tr, err := NewTraceReader(dir, "run-1")
	require.NoError(t, err)
	defer tr.Close()
	got, err := tr.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Iteration)
	assert.Equal(t, 1, got[1].Iteration)
}

func TestTraceReaderNotFound(t *testing.T) {
	_, err := NewTraceReader(t.TempDir(), "no-such-run")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "no-such-run", notFound.RunID)
	assert.True(t, errors.Is(err, &NotFoundError{}))
}

func TestSummarize(t *testing.T) {
	records := sampleRecords()

	t.Run("maximize", func(t *testing.T) {
		s := Summarize(records, true)
		assert.Equal(t, 3, s.Trials)
		assert.Equal(t, 2, s.Accepted)
		assert.Equal(t, 0.27, s.BestFOM)
		assert.Equal(t, []float64{0.55, 1.05}, s.BestParams)
		assert.InDelta(t, 0.24, s.MeanFOM, 1e-12)
		assert.Equal(t, 0.05, s.FinalStep)
		assert.Equal(t, 0.9, s.LastGradNorm)
	})

	t.Run("minimize", func(t *testing.T) {
		s := Summarize(records, false)
		assert.Equal(t, 0.21, s.BestFOM)
		assert.Equal(t, []float64{0.5, 1.0}, s.BestParams)
	})

	t.Run("empty", func(t *testing.T) {
		s := Summarize(nil, true)
		assert.Equal(t, 0, s.Trials)
		assert.Equal(t, 0, s.Accepted)
		assert.Equal(t, 0.0, s.MeanFOM)
	})
}
