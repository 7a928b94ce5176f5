// Package logging configures the process-wide zerolog logger: a single
// package-level structured logger rather than ad-hoc fmt/log calls.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger from a level string
// ("debug", "info", "warn", "error") and whether to use a human-readable
// console writer (for local dev) or JSON (for production).
func Init(level string, console bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w = os.Stderr
	if console {
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		log.Logger = zerolog.New(cw).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name, the way
// every subsystem (chunker, merger, clusterer, inference, job engine)
// should identify its log lines.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
