// Copyright 2026 The vkrenderer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rlog provides the structured logging surface the renderer uses
// throughout: a small Logger interface with level checks, matching the
// shape of gVisor's pkg/log (Debugf/Infof/Warningf/IsLogging) but backed
// by the standard library logger rather than glog-compatible formatting,
// since this module is an embeddable library with no process-wide flag
// set to format against.
package rlog

import (
	"fmt"
	"log"
	"os"
)

// Level is a log severity, ordered least to most verbose.
type Level int

const (
	// Warning is for guest protocol violations and driver errors.
	Warning Level = iota
	// Info is for lifecycle events (context/object/resource create-destroy).
	Info
	// Debug is for per-command and per-fence tracing.
	Debug
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "WARNING"
	case Info:
		return "INFO"
	case Debug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Logger is the interface satisfied by every logging sink in this module.
// A Context holds the one passed in its Config (rlog.Discard if none).
type Logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warningf(format string, v ...any)
	IsLogging(level Level) bool
}

// StdLogger is a Logger backed by the standard library's log.Logger,
// filtering out anything more verbose than MinLevel.
type StdLogger struct {
	MinLevel Level
	out      *log.Logger
}

// NewStdLogger returns a StdLogger that writes to os.Stderr, prefixed with
// name (typically a context's debug name).
func NewStdLogger(name string, minLevel Level) *StdLogger {
	return &StdLogger{
		MinLevel: minLevel,
		out:      log.New(os.Stderr, fmt.Sprintf("[%s] ", name), log.LstdFlags),
	}
}

// IsLogging implements Logger.IsLogging.
func (l *StdLogger) IsLogging(level Level) bool {
	return level <= l.MinLevel
}

func (l *StdLogger) emit(level Level, format string, v []any) {
	if !l.IsLogging(level) {
		return
	}
	l.out.Printf("%s: %s", level, fmt.Sprintf(format, v...))
}

// Debugf implements Logger.Debugf.
func (l *StdLogger) Debugf(format string, v ...any) { l.emit(Debug, format, v) }

// Infof implements Logger.Infof.
func (l *StdLogger) Infof(format string, v ...any) { l.emit(Info, format, v) }

// Warningf implements Logger.Warningf.
func (l *StdLogger) Warningf(format string, v ...any) { l.emit(Warning, format, v) }

// Discard is a Logger that drops everything; used by tests and by
// embedders that route logs elsewhere.
var Discard Logger = discardLogger{}

type discardLogger struct{}

func (discardLogger) Debugf(string, ...any)   {}
func (discardLogger) Infof(string, ...any)    {}
func (discardLogger) Warningf(string, ...any) {}
func (discardLogger) IsLogging(Level) bool    { return false }
