// Package logger builds the zerolog logger shared by beaconwatch commands.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Init returns a console logger on stderr at the given level.
// Supported levels: debug, info, warn, error. Defaults to info.
func Init(level string) zerolog.Logger {
	return New(os.Stderr, level)
}

// New returns a console logger writing to w.
func New(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(
		zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		},
	).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a config level name to a zerolog level.
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
