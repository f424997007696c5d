// Package udplog defines the logging contract the core library accepts at
// construction, plus a default adapter over github.com/sirupsen/logrus.
//
// Grounded on nabbar-golib/logger: that package's GetStdLogger/level
// plumbing (logger/golog.go, logger/level) exposes a logrus-backed logger
// behind a narrow interface; this package narrows further, down to the four
// level methods the Worker and Endpoint actually call, since nothing here
// needs golib's syslog hooks or hot-reloadable log-file rotation. Per
// SPEC_FULL.md §9/spec.md §9 "global logger singleton," there is no
// process-wide default: callers inject a Logger, and the zero value
// (Nop()) is silent.
package udplog

import "github.com/sirupsen/logrus"

// Logger is the logging contract accepted by udp.NewEndpoint. It matches
// the subset of github.com/sirupsen/logrus.FieldLogger the core needs.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// nopLogger discards everything; it is the default when no Logger is
// injected, so the library never requires logging to function.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// Nop returns a Logger that discards all output.
func Nop() Logger { return nopLogger{} }

// logrusLogger adapts *logrus.Logger (or any logrus.FieldLogger) to Logger.
type logrusLogger struct {
	entry logrus.FieldLogger
}

// FromLogrus wraps an existing logrus.FieldLogger (a *logrus.Logger or a
// *logrus.Entry carrying fields, e.g. one tagged with the endpoint's name).
func FromLogrus(l logrus.FieldLogger) Logger {
	return &logrusLogger{entry: l}
}

// New returns a Logger backed by a freshly constructed *logrus.Logger at
// the given level, logging text-formatted lines to its default output
// (stderr), mirroring nabbar-golib/logger's GetStdLogger default flags.
func New(level logrus.Level) Logger {
	l := logrus.New()
	l.SetLevel(level)
	return &logrusLogger{entry: l}
}

func (l *logrusLogger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
