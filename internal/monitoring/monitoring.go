// Package monitoring routes the three log streams (ops, diag, trace) and
// holds the logger used by code without a debug.go of its own.
package monitoring

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Logf is the shared ops logger for packages such as serialmux and httputil.
// It prints through the standard logger until SetLogger replaces it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
}

// Level selects how many of the three package log streams are enabled.
type Level int

const (
	LevelOps   Level = iota // actionable warnings and data loss only
	LevelDiag               // plus day-to-day diagnostics
	LevelTrace              // plus per-frame telemetry
)

func (l Level) String() string {
	switch l {
	case LevelOps:
		return "ops"
	case LevelDiag:
		return "diag"
	case LevelTrace:
		return "trace"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel accepts ops, diag or trace (case-insensitive). Empty means diag.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ops", "warn", "error":
		return LevelOps, nil
	case "", "diag", "info":
		return LevelDiag, nil
	case "trace", "debug":
		return LevelTrace, nil
	}
	return LevelOps, fmt.Errorf("unknown log level %q: expected ops, diag or trace", s)
}

// Streams holds the writers passed to each package's SetLogWriters. A nil
// writer disables that stream.
type Streams struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// NewStreams routes every enabled stream at or below level to w.
func NewStreams(w io.Writer, level Level) Streams {
	s := Streams{Ops: w}
	if level >= LevelDiag {
		s.Diag = w
	}
	if level >= LevelTrace {
		s.Trace = w
	}
	return s
}

// Apply calls each setter with the stream writers.
func (s Streams) Apply(setters ...func(ops, diag, trace io.Writer)) {
	for _, set := range setters {
		set(s.Ops, s.Diag, s.Trace)
	}
}

// OpsLogger returns a Printf-style function writing to the ops stream with
// timestamps, suitable for SetLogger.
func (s Streams) OpsLogger() func(format string, v ...interface{}) {
	if s.Ops == nil {
		return nil
	}
	return log.New(s.Ops, "", log.LstdFlags|log.Lmicroseconds).Printf
}
