package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		debug bool
		want  slog.Level
	}{
		{name: "", want: slog.LevelInfo},
		{name: "debug", want: slog.LevelDebug},
		{name: "WARN", want: slog.LevelWarn},
		{name: "warning", want: slog.LevelWarn},
		{name: "error", want: slog.LevelError},
		{name: "bogus", want: slog.LevelInfo},
		{name: "error", debug: true, want: slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.name, tt.debug))
		})
	}
}

func TestNewLogger_JSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("candidates resolved", "resolved", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "candidates resolved", entry["msg"])
	assert.Equal(t, float64(3), entry["resolved"])
}

func TestNewLogger_TextForTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, true, slog.LevelDebug)

	logger.Debug("quota", "remaining", 7)

	assert.Contains(t, buf.String(), "msg=quota")
	assert.Contains(t, buf.String(), "remaining=7")
}
