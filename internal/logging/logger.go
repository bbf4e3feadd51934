// Package logging configures the global zerolog logger and emits the
// one-shot startup summary.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables read by Init.
const (
	EnvLevel  = "COWBOOK_LOG_LEVEL"
	EnvFormat = "COWBOOK_LOG_FORMAT"
)

// Init configures the global logger from the environment.
// COWBOOK_LOG_LEVEL: debug, info, warn, error (default: info).
// COWBOOK_LOG_FORMAT: console or json (default: console).
func Init() {
	Setup(os.Stderr, os.Getenv(EnvLevel), os.Getenv(EnvFormat))
}

// Setup points the global logger at w with the given level and format.
func Setup(w io.Writer, level, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
}

// ParseLevel maps a level name to a zerolog level, falling back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
