package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(WithOutput(&buf), WithAttr(slog.String("service", "printq")))
	log.With("task_id", "abc").Info("task enqueued")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "task enqueued", entry["msg"])
	assert.Equal(t, "abc", entry["task_id"])
	assert.Equal(t, "printq", entry["service"])
}

func TestNew_LevelFilters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(WithOutput(&buf), WithLevel(slog.LevelWarn), WithFormat(FormatText))
	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := FromConfig("debug", "plain", &buf)
	require.NoError(t, err)
	log.Debug("probe")
	assert.Contains(t, buf.String(), "level=DEBUG")

	_, err = FromConfig("trace", "json", &buf)
	assert.Error(t, err)

	_, err = FromConfig("info", "xml", &buf)
	assert.Error(t, err)
}
