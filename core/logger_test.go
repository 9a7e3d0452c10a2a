package core

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLoggerWithWriter("test-service", "debug", &buf)

	logger.Info("Something happened", map[string]interface{}{
		"operation": "test_op",
		"count":     3,
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "test-service", entry["service"])
	assert.Equal(t, "Something happened", entry["message"])
	assert.Equal(t, "test_op", entry["operation"])
	assert.Equal(t, float64(3), entry["count"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestStdLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLoggerWithWriter("svc", "warn", &buf)

	logger.Debug("hidden", nil)
	logger.Info("hidden", nil)
	logger.Warn("shown warn", nil)
	logger.Error("shown error", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "shown warn")
	assert.Contains(t, lines[1], "shown error")
}

func TestStdLoggerUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLoggerWithWriter("svc", "chatty", &buf)

	logger.Debug("hidden", nil)
	logger.Info("shown", nil)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestStdLoggerNonSerializableFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLoggerWithWriter("svc", "info", &buf)

	logger.Info("oops", map[string]interface{}{"ch": make(chan int)})

	assert.Contains(t, buf.String(), "marshal_error")
}
