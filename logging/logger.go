// Package logging builds the structured loggers used by the long-running pieces of the
// harness: the fake services when they run as child processes, and the identity server
// launcher.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New creates a zerolog.Logger writing to out at the given level. An unparseable level falls
// back to info. When console is true the output is formatted for humans instead of JSON.
func New(level string, out io.Writer, console bool) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(out).With().Timestamp().Logger().Level(lvl)
}

// ForService returns a child logger tagged with the name of a fake service.
func ForService(base zerolog.Logger, service string) zerolog.Logger {
	return base.With().Str("service", service).Logger()
}

// Nop returns a logger that discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
