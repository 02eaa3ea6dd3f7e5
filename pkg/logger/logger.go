// Package logger configures the process-wide structured logger. Diagnostics
// go to stderr so stdout carries only snapshots.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/phuslu/log"
	"golang.org/x/term"
)

// ParseLevel maps a level name to log.Level.
func ParseLevel(level string) (log.Level, error) {
	switch level {
	case "trace":
		return log.TraceLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "info", "":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	}
	return log.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// New builds a logger writing to w in the given format.
func New(level, format string, w io.Writer, color bool) (log.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return log.Logger{}, err
	}

	var writer log.Writer
	switch format {
	case "json":
		writer = &log.IOWriter{Writer: w}
	case "logfmt":
		writer = &log.ConsoleWriter{
			Writer:    w,
			Formatter: log.LogfmtFormatter{TimeField: "time"}.Formatter,
		}
	case "console", "":
		writer = &log.ConsoleWriter{
			ColorOutput:    color,
			QuoteString:    true,
			EndWithMessage: true,
			Writer:         w,
		}
	default:
		return log.Logger{}, fmt.Errorf("unknown log format %q", format)
	}

	return log.Logger{
		Level:      lvl,
		TimeFormat: "15:04:05.000",
		Writer:     writer,
	}, nil
}

// Setup replaces log.DefaultLogger with a stderr logger.
func Setup(level, format string) error {
	color := term.IsTerminal(int(os.Stderr.Fd()))
	l, err := New(level, format, os.Stderr, color)
	if err != nil {
		return err
	}
	log.DefaultLogger = l
	return nil
}
