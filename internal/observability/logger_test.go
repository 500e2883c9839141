package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "info", "json")

	logger.Debug("hidden")
	logger.Info("frame analyzed", "stream_id", "abc", "frame", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "frame analyzed", rec["msg"])
	assert.Equal(t, "abc", rec["stream_id"])
	assert.EqualValues(t, 7, rec["frame"])
}

func TestSetupLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "debug", "text")

	logger.Debug("segmenting", "frame", 3)
	assert.Contains(t, buf.String(), "msg=segmenting")
	assert.Contains(t, buf.String(), "frame=3")
}
