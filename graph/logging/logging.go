// Package logging holds the engine's internal diagnostic logger. It is
// deliberately separate from the user-facing event bus: trace-sink
// write failures, formatter downgrades, retry exhaustion, and dropped
// span updates are operator concerns, not workflow progress.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Pass nil to log to stderr. Level is
// parsed leniently; unknown strings mean Info.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Console builds a human-readable logger for CLI use.
func Console(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	return zerolog.New(cw).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, for tests and for
// components constructed without an explicit logger.
func Nop() zerolog.Logger { return zerolog.Nop() }

// Component tags l with the engine subsystem it belongs to.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
