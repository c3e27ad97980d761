// Package logging builds the charmbracelet loggers handed to the loader,
// assembler and disassembler. It is configured through the environment:
//
//	PYDIS_LOG_LEVEL    debug, info, warn or error (default info)
//	PYDIS_LOG_PREFIX   message prefix (default "pydis ")
//	PYDIS_LOG_TO_FILE  "1" writes to pydis-<timestamp>-debug.log instead of stderr
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and the file it writes to, if any.
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// Level maps PYDIS_LOG_LEVEL to a log level.
func Level() log.Level {
	switch os.Getenv("PYDIS_LOG_LEVEL") {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	}
	return log.InfoLevel
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           Level(),
	})

	prefix := os.Getenv("PYDIS_LOG_PREFIX")
	if prefix == "" {
		prefix = "pydis "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		closer = c
	}
	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a logger on stderr, or on a timestamped file when
// PYDIS_LOG_TO_FILE=1. debug forces the debug level.
func NewLogger(debug bool) *LoggerCloser {
	output := io.Writer(os.Stderr)
	if os.Getenv("PYDIS_LOG_TO_FILE") == "1" {
		logFile := fmt.Sprintf("pydis-%s-debug.log", time.Now().Format("20060102-150405"))
		// fall back to stderr when the file cannot be created
		if f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644); err == nil {
			output = f
		}
	}
	lc := NewLoggerWithWriter(output)
	if debug {
		lc.SetLevel(log.DebugLevel)
	}
	return lc
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return os.Getenv("PYDIS_LOG_LEVEL") == "debug"
}
