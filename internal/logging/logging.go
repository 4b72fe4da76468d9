// Package logging builds the go-kit loggers used across db2ixf.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Level names accepted in configuration.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// LevelFromVerbosity maps the -v counter of the CLI to a level name.
func LevelFromVerbosity(v int) string {
	switch {
	case v <= 0:
		return LevelWarn
	case v == 1:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// New returns a logfmt logger on w filtered at the given level.
// Unknown level names fall back to warn.
func New(w io.Writer, lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return level.NewFilter(logger, option(lvl))
}

// NewStderr returns a logger on stderr.
func NewStderr(lvl string) log.Logger {
	return New(os.Stderr, lvl)
}

func option(lvl string) level.Option {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case LevelDebug:
		return level.AllowDebug()
	case LevelInfo:
		return level.AllowInfo()
	case LevelError:
		return level.AllowError()
	default:
		return level.AllowWarn()
	}
}
