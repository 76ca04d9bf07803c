// Package logging constructs the zerolog.Logger instances handed to every
// collector component. Nothing in this module reaches for the package-level
// zerolog/log singleton outside of cmd/ — domain packages take a logger as a
// constructor argument so tests can inject a silent one.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the root logger's output.
type Config struct {
	// Level is a zerolog level name: "debug", "info", "warn", "error".
	Level string
	// Pretty enables the console writer; false emits ndjson (production default).
	Pretty bool
	Output io.Writer
}

// New builds the root logger for the process. Components derive a scoped
// child via With().Str("component", ...).Logger().
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// ForVenue scopes a logger to a single venue, matching the teacher's
// log.Info().Str("venue", ...) field convention used on every venue-crossing
// log line.
func ForVenue(base zerolog.Logger, venue string) zerolog.Logger {
	return base.With().Str("venue", venue).Logger()
}
