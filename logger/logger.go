// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package logger provides the leveled logger shared by the space, its
// partitions and the command line tools.
package logger

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/featurebasedb/tetra/monitor"
)

// timeFormat is RFC 3339 in UTC with constant width and microseconds.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Logger represents an interface for a shared logger.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Panicf(format string, v ...interface{})
	// WithPrefix returns a new Logger with the same configuration as
	// this one, but all logs will have the given prefix.
	WithPrefix(prefix string) Logger
}

// Levels, most severe first. They match the monitor's.
const (
	LevelPanic = monitor.LevelPanic
	LevelError = monitor.LevelError
	LevelWarn  = monitor.LevelWarn
	LevelInfo  = monitor.LevelInfo
	LevelDebug = monitor.LevelDebug
)

var levelPrefixes = [...]string{"PANIC: ", "ERROR: ", "WARN:  ", "INFO:  ", "DEBUG: "}

// NopLogger represents a Logger that doesn't do anything.
var NopLogger Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Panicf(string, ...interface{}) {}

func (n nopLogger) WithPrefix(string) Logger { return n }

// standardLogger writes timestamped lines through a log.Logger and
// forwards warnings and worse to the error monitor.
type standardLogger struct {
	logger    *log.Logger
	verbosity int
	prefix    string
	w         io.Writer
}

type utcWriter struct {
	w io.Writer
}

func (u utcWriter) Write(b []byte) (int, error) {
	return fmt.Fprintf(u.w, "%s %s", time.Now().UTC().Format(timeFormat), b)
}

func newStandardLogger(w io.Writer, verbosity int, prefix string) *standardLogger {
	return &standardLogger{
		logger:    log.New(utcWriter{w: w}, prefix, 0),
		verbosity: verbosity,
		prefix:    prefix,
		w:         w,
	}
}

// NewStandardLogger logs at info level and above.
func NewStandardLogger(w io.Writer) Logger {
	return newStandardLogger(w, LevelInfo, "")
}

// NewLogger returns a standard logger that also logs debug messages when
// verbose is set.
func NewLogger(w io.Writer, verbose bool) Logger {
	if verbose {
		return newStandardLogger(w, LevelDebug, "")
	}
	return newStandardLogger(w, LevelInfo, "")
}

func (s *standardLogger) printf(level int, format string, v ...interface{}) {
	if level > s.verbosity {
		return
	}
	monitor.CaptureException(level, s.prefix+format, v...)
	s.logger.Printf(levelPrefixes[level]+format, v...)
}

func (s *standardLogger) Printf(format string, v ...interface{}) { s.printf(LevelInfo, format, v...) }
func (s *standardLogger) Debugf(format string, v ...interface{}) { s.printf(LevelDebug, format, v...) }
func (s *standardLogger) Infof(format string, v ...interface{})  { s.printf(LevelInfo, format, v...) }
func (s *standardLogger) Warnf(format string, v ...interface{})  { s.printf(LevelWarn, format, v...) }
func (s *standardLogger) Errorf(format string, v ...interface{}) { s.printf(LevelError, format, v...) }
func (s *standardLogger) Panicf(format string, v ...interface{}) { s.printf(LevelPanic, format, v...) }

// WithPrefix nests prefixes, so a partition logger created from a space
// logger keeps both.
func (s *standardLogger) WithPrefix(prefix string) Logger {
	return newStandardLogger(s.w, s.verbosity, s.prefix+prefix)
}

// Logfer is anything with a Logf method, such as testing.T.
type Logfer interface {
	Logf(format string, v ...interface{})
}

// LogfLogger routes log lines to a Logfer so tests see them interleaved
// with their own output.
type LogfLogger struct {
	wrapped Logfer
	prefix  string
}

// NewLogfLogger wraps l.
func NewLogfLogger(l Logfer) *LogfLogger {
	return &LogfLogger{wrapped: l}
}

func (ll *LogfLogger) logf(level int, format string, v ...interface{}) {
	ll.wrapped.Logf(levelPrefixes[level]+ll.prefix+format, v...)
}

func (ll *LogfLogger) Printf(format string, v ...interface{}) { ll.logf(LevelInfo, format, v...) }
func (ll *LogfLogger) Debugf(format string, v ...interface{}) { ll.logf(LevelDebug, format, v...) }
func (ll *LogfLogger) Infof(format string, v ...interface{})  { ll.logf(LevelInfo, format, v...) }
func (ll *LogfLogger) Warnf(format string, v ...interface{})  { ll.logf(LevelWarn, format, v...) }
func (ll *LogfLogger) Errorf(format string, v ...interface{}) { ll.logf(LevelError, format, v...) }
func (ll *LogfLogger) Panicf(format string, v ...interface{}) { ll.logf(LevelPanic, format, v...) }

func (ll *LogfLogger) WithPrefix(prefix string) Logger {
	return &LogfLogger{wrapped: ll.wrapped, prefix: ll.prefix + prefix}
}
