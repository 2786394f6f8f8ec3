package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBuild_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := build("info", "json", zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("workflow created", zap.String("workflow_id", "wf-1"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "workflow created", entry["msg"])
	assert.Equal(t, "wf-1", entry["workflow_id"])
	assert.Equal(t, "instrumentation-backend", entry["service"])
	assert.Contains(t, entry, "ts")
}

func TestBuild_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := build("debug", "console", zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Debug("snapshot saved")
	assert.Contains(t, buf.String(), "snapshot saved")
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New("loud", "json")
	assert.ErrorContains(t, err, "invalid log level")

	_, err = New("info", "xml")
	assert.ErrorContains(t, err, "unsupported log format")
}
