package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var Logger *slog.Logger = slog.Default()

// Init builds the process logger and installs it as the slog default.
// DEBUG=true forces debug level regardless of the configured level.
func Init(level string, w io.Writer) *slog.Logger {
	if os.Getenv("DEBUG") == "true" {
		level = "debug"
	}
	Logger = New(level, w)
	slog.SetDefault(Logger)
	return Logger
}

// New creates a text slog.Logger writing to w (stdout when nil).
func New(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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
