// Package zlog contains the default zerolog.Logger of scaling packages.
package zlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh/terminal"
)

var (
	// DefaultZLogger is the default zerolog.Logger used by scaling packages.
	// If os.Stdout is a terminal then ConsoleWriter will be used for prettier output.
	// You can override this to whatever you want to log to.
	DefaultZLogger = New(os.Stdout, zerolog.InfoLevel)
)

// New creates a timestamped logger writing to w. ConsoleWriter is used if w is a terminal.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	if f, ok := w.(*os.File); ok && terminal.IsTerminal(int(f.Fd())) {
		w = zerolog.ConsoleWriter{Out: f}
	}
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// SetLevel parses level and sets DefaultZLogger's level. Empty level is ignored.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	DefaultZLogger = DefaultZLogger.Level(lvl)
	return nil
}

// Component returns a child logger of DefaultZLogger tagged with component name.
func Component(name string) zerolog.Logger {
	return DefaultZLogger.With().Str("component", name).Logger()
}
