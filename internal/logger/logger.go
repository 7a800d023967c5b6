// Package logger wires the process-wide leveled logger.  It is the same
// gommon logger echo uses for c.Logger(), so request logs and background
// job logs share one format and level.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/labstack/gommon/log"
)

// Logger is the subset of the gommon logger used outside HTTP handlers.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// New returns a named logger writing to stdout at the given level name
// (debug, info, warn, error, off).  Unknown names mean info.
func New(prefix, level string) *log.Logger {
	l := log.New(prefix)
	l.SetOutput(os.Stdout)
	l.SetLevel(ParseLevel(level))
	l.SetHeader(`${time_rfc3339} ${level} ${prefix} ${short_file}:${line}`)
	return l
}

// ParseLevel maps a level name onto gommon's levels.
func ParseLevel(s string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off", "none":
		return log.OFF
	default:
		return log.INFO
	}
}

// Discard returns a logger that drops everything.  Used by tests.
func Discard() *log.Logger {
	l := log.New("discard")
	l.SetOutput(io.Discard)
	l.SetLevel(log.OFF)
	return l
}
