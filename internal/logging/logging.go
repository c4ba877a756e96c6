package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func NewLogger(level string) *slog.Logger {
	return New(os.Stdout, level)
}

// New builds a JSON logger on w. The level is a LevelVar so a config reload
// can change it in place via SetLevel.
func New(w io.Writer, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: &levelVar})
	levelVar.Set(ParseLevel(level))
	return slog.New(h).With("service", "killsense")
}

var levelVar slog.LevelVar

func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}
