package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf).WithFields(map[string]interface{}{
		"run_id": "run-42",
	})

	logger.Info("iteration accepted", map[string]interface{}{
		"iteration": 3,
	})

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "iteration accepted", entry["message"])
	assert.Equal(t, "run-42", entry["run_id"])
	assert.Equal(t, float64(3), entry["iteration"])
	assert.Contains(t, entry, "timestamp")
	assert.Contains(t, entry, "caller")
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(WarnLevel, &buf)

	logger.Debug("noisy")
	logger.Info("still noisy")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestNewLoggerDefaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.True(t, logger.shouldLog(InfoLevel))
	assert.False(t, logger.shouldLog(DebugLevel))

	logger, err = NewLogger(&Config{Level: "debug", Output: "stderr"})
	require.NoError(t, err)
	assert.True(t, logger.shouldLog(DebugLevel))
}

func TestZapBridge(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZapLogger(New(InfoLevel, &buf))

	zl.Debug("filtered out")
	assert.Zero(t, buf.Len())

	zl.Named("solver").Info("job done",
		zap.String("job", "j-1"),
		zap.Int("wavelengths", 2))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "job done", entry["message"])
	assert.Equal(t, "solver", entry["logger"])
	assert.Equal(t, "j-1", entry["job"])
	assert.Equal(t, float64(2), entry["wavelengths"])
}

func TestMiddlewareLogsCompletion(t *testing.T) {
	var buf bytes.Buffer
	handler := Middleware(New(InfoLevel, &buf))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no such run", http.StatusNotFound)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "request completed", entry["message"])
	assert.Equal(t, http.MethodGet, entry["method"])
	assert.Equal(t, "/api/v1/runs/missing", entry["path"])
	assert.Equal(t, float64(http.StatusNotFound), entry["status"])
	assert.Equal(t, http.StatusText(http.StatusNotFound), entry["error"])
}
