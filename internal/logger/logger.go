// Package logger provides leveled logging for packfetch.
//
// Errors and informational messages are always written; debug messages are
// only written in verbose mode. A Logger is safe for concurrent use.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Logger writes [ERROR], [INFO] and [DEBUG] prefixed lines.
type Logger struct {
	verbose     atomic.Bool
	errorLogger *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
}

var defaultLogger = New(false)

// New creates a Logger writing errors to stderr and everything else to stdout.
func New(verbose bool) *Logger {
	return NewWithWriters(os.Stderr, os.Stdout, verbose)
}

// NewWithWriters creates a Logger with explicit outputs.
func NewWithWriters(errOut, out io.Writer, verbose bool) *Logger {
	l := &Logger{
		errorLogger: log.New(errOut, "[ERROR] ", log.LstdFlags),
		infoLogger:  log.New(out, "[INFO]  ", log.LstdFlags),
		debugLogger: log.New(out, "[DEBUG] ", log.LstdFlags),
	}
	l.verbose.Store(verbose)
	return l
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return NewWithWriters(io.Discard, io.Discard, false)
}

// Default returns the process-wide logger used by the CLI.
func Default() *Logger {
	return defaultLogger
}

// SetVerbose toggles debug output.
func (l *Logger) SetVerbose(verbose bool) {
	l.verbose.Store(verbose)
}

// Verbose reports whether debug output is enabled.
func (l *Logger) Verbose() bool {
	return l.verbose.Load()
}

// SetFlags sets the output flags for all levels (like log.SetFlags).
func (l *Logger) SetFlags(flag int) {
	l.errorLogger.SetFlags(flag)
	l.infoLogger.SetFlags(flag)
	l.debugLogger.SetFlags(flag)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, v ...any) {
	l.errorLogger.Output(2, fmt.Sprintf(format, v...))
}

// Infof logs a formatted informational message.
func (l *Logger) Infof(format string, v ...any) {
	l.infoLogger.Output(2, fmt.Sprintf(format, v...))
}

// Debugf logs a formatted debug message in verbose mode.
func (l *Logger) Debugf(format string, v ...any) {
	if l.verbose.Load() {
		l.debugLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// SetVerbose toggles debug output on the default logger.
func SetVerbose(verbose bool) {
	defaultLogger.SetVerbose(verbose)
}

// Errorf logs to the default logger.
func Errorf(format string, v ...any) {
	defaultLogger.errorLogger.Output(2, fmt.Sprintf(format, v...))
}

// Infof logs to the default logger.
func Infof(format string, v ...any) {
	defaultLogger.infoLogger.Output(2, fmt.Sprintf(format, v...))
}

// Debugf logs to the default logger in verbose mode.
func Debugf(format string, v ...any) {
	if defaultLogger.verbose.Load() {
		defaultLogger.debugLogger.Output(2, fmt.Sprintf(format, v...))
	}
}
