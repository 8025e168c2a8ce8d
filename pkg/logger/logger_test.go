package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func resetLog(t *testing.T) {
	t.Cleanup(func() { Log = zap.NewNop() })
}

func TestInit_JSONCarriesServiceAndLevel(t *testing.T) {
	resetLog(t)
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Level: "info", Format: "json", Service: "billing-agent", Writer: &buf}))

	Debug("hidden")
	Info("Billing answer approved", zap.Int("citations", 2))
	Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "Billing answer approved", entry["message"])
	assert.Equal(t, "billing-agent", entry["service"])
	assert.EqualValues(t, 2, entry["citations"])
	assert.Contains(t, entry["caller"], "logger_test.go", "caller must skip the facade")
}

func TestInit_FileOutput(t *testing.T) {
	resetLog(t)
	path := filepath.Join(t.TempDir(), "agent.log")
	require.NoError(t, Init(Options{Level: "warn", Format: "console", Output: path}))

	Info("dropped")
	Warn("Billing response reformatted")
	Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "WARN")
	assert.Contains(t, string(raw), "Billing response reformatted")
	assert.NotContains(t, string(raw), "dropped")
}

func TestInit_RejectsBadOptions(t *testing.T) {
	resetLog(t)
	assert.ErrorContains(t, Init(Options{Level: "loud"}), "invalid log level")
	assert.ErrorContains(t, Init(Options{Level: "info", Format: "xml"}), "invalid log format")
	assert.ErrorContains(t, Init(Options{Level: "info", Output: filepath.Join(t.TempDir(), "missing", "x.log")}), "failed to open log file")
}
