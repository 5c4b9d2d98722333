// Package clog provides a conditionally-silent logger for the contributor
// client. Logging is off by default and is turned on by the -l command line
// flag so that a normal contribution session only shows sink-driven status
// messages, not internals.
package clog

import (
	"github.com/sirupsen/logrus"
)

var enabled = false

// Enable turns on conditional log output for the remainder of the process.
func Enable() {
	enabled = true
}

// Enabled reports whether conditional logging is currently turned on.
func Enabled() bool {
	return enabled
}

// A CLogger wraps a logrus.Entry with a fixed set of fields (component,
// participant/circuit id, ...) and gates Printf-style output behind Enable.
// Errorf always logs, regardless of Enable, since errors must reach the
// operator even in the default quiet mode.
type CLogger struct {
	entry *logrus.Entry
}

// New creates a conditional logger carrying the given fields, e.g.
//
//	clog.New(logrus.Fields{"component": "pipeline", "circuit": c.ID})
func New(fields logrus.Fields) *CLogger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &CLogger{entry: logger.WithFields(fields)}
}

// With returns a copy of the logger with additional fields merged in.
func (c *CLogger) With(fields logrus.Fields) *CLogger {
	return &CLogger{entry: c.entry.WithFields(fields)}
}

// Printf logs at info level if conditional logging has been enabled.
func (c *CLogger) Printf(format string, a ...any) {
	if !enabled {
		return
	}
	c.entry.Infof(format, a...)
}

// Errorf logs at error level unconditionally.
func (c *CLogger) Errorf(format string, a ...any) {
	c.entry.Errorf(format, a...)
}
