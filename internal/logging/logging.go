// Package logging configures the process-wide zerolog logger, following
// the same "console writer to stderr, nil-safe" convention the pack uses
// (bgpfix embeds *zerolog.Logger in its component Options; here it is a
// single process-wide logger instead, since ipfixflow has no analogous
// per-pipe Options struct).
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing human-readable output to stderr,
// parsing level from a string like "debug", "info", "warn", "error".
// An unrecognized level falls back to info rather than failing startup.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
