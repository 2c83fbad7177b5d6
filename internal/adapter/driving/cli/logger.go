// Package cli holds the terminal-facing adapters: logging setup, the
// interactive token prompter, result printing and candidate file parsing.
package cli

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// NewLogger creates a structured logger writing to f. When f is a terminal,
// uses slog.TextHandler for human-readable output; otherwise
// slog.JSONHandler so piped runs stay machine-parseable.
func NewLogger(f *os.File, level slog.Level) *slog.Logger {
	return newLogger(f, term.IsTerminal(int(f.Fd())), level)
}

func newLogger(w io.Writer, text bool, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level. debug forces LevelDebug.
// Unknown names fall back to LevelInfo.
func ParseLevel(name string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
