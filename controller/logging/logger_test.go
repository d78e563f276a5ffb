package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hydropi/hydropi/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewJSONToConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(controller.LoggingConfig{Level: "debug", Format: "json", ServiceName: "hydropi"}, zapcore.AddSync(&buf))
	logger.Named("cycle").Info("cycle complete", zap.String("outcome", "accepted"))
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "hydropi.cycle", entry["logger"])
	assert.Equal(t, "accepted", entry["outcome"])
}

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydropi.log")
	var buf bytes.Buffer
	logger := New(controller.LoggingConfig{Level: "warn", Format: "console", LogFile: path, MaxSizeMB: 1}, zapcore.AddSync(&buf))
	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kept")
	assert.NotContains(t, string(data), "dropped")
}

func TestGetBeforeInitialize(t *testing.T) {
	ResetForTest()
	defer ResetForTest()
	assert.NotNil(t, Get())
}
