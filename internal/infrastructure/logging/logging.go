// Package logging configures the process-wide zerolog logger, replacing
// the teacher's log/slog-based internal/infrastructure/logger/logger.go
// with the logging library the teacher's own AI call sites used (its
// internal/application/executor/node_executors.go, not carried into this
// tree, imports github.com/rs/zerolog directly), so the whole tree has
// one logging idiom instead of two.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog's global level and writer, returning the
// configured logger. pretty selects a human-readable console writer for
// local development; otherwise logs are newline-delimited JSON, suitable
// for ingestion by the same stack the teacher's monitoring package would
// ship to.
func Setup(level string, pretty bool) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339

	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	log.Logger = logger
	return logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
