// Package logging provides the one structured logger used by the
// subsystems that are allowed to log: the CFI violation sink (spec 4.P) and
// host-function registration. The engine and facade each hold a logger but
// never write to it; the instruction dispatch loop never logs — logging on
// the hot path would defeat fuel accounting's determinism.
package logging

import "github.com/sirupsen/logrus"

// Logger is the narrow surface subsystems depend on, so call sites don't
// couple to logrus directly and an embedder can substitute its own sink.
type Logger interface {
	WithFields(fields map[string]any) Logger
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New returns the default logrus-backed Logger for a named subsystem, e.g.
// "cfi" or "facade".
func New(subsystem string) Logger {
	base := logrus.New()
	return &logrusLogger{entry: base.WithField("subsystem", subsystem)}
}

func (l *logrusLogger) WithFields(fields map[string]any) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) Info(args ...any)  { l.entry.Info(args...) }
func (l *logrusLogger) Warn(args ...any)  { l.entry.Warn(args...) }
func (l *logrusLogger) Error(args ...any) { l.entry.Error(args...) }

// Discard drops everything, for callers that need a non-nil sink that
// records nothing. No preset wires it in.
var Discard Logger = discardLogger{}

type discardLogger struct{}

func (discardLogger) WithFields(map[string]any) Logger { return discardLogger{} }
func (discardLogger) Info(...any)                       {}
func (discardLogger) Warn(...any)                       {}
func (discardLogger) Error(...any)                      {}
