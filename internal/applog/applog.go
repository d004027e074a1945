// Package applog is the thin logger used by the saver and the service
// boundary: a log.Logger with a fixed "component: message: err" line
// shape, lower-case, no trailing period.
package applog

import (
	"io"
	"log"
)

// Logger wraps a standard library logger with the message conventions used
// throughout this repository: "component: message: err".
type Logger struct {
	l *log.Logger
}

// New returns a Logger writing to out with a timestamp prefix.
func New(out io.Writer) *Logger {
	return &Logger{l: log.New(out, "", log.LstdFlags)}
}

// Infof logs an informational line.
func (lg *Logger) Infof(format string, args ...any) {
	lg.l.Printf(format, args...)
}

// Warnf logs a recoverable condition: a dropped record, a capacity limit
// reached.
func (lg *Logger) Warnf(format string, args ...any) {
	lg.l.Printf("warning: "+format, args...)
}

// Errorf logs a failure a caller should know about even though the service
// continues running.
func (lg *Logger) Errorf(format string, args ...any) {
	lg.l.Printf("error: "+format, args...)
}

// Component scopes every message logged through it with name, e.g. "saver".
func (lg *Logger) Component(name string) *Component {
	return &Component{lg: lg, name: name}
}

// Component scopes log lines to a subsystem name, e.g. "saver" or "api".
type Component struct {
	lg   *Logger
	name string
}

func (c *Component) Infof(format string, args ...any) {
	c.lg.Infof("%s: "+format, append([]any{c.name}, args...)...)
}

func (c *Component) Warnf(format string, args ...any) {
	c.lg.Warnf("%s: "+format, append([]any{c.name}, args...)...)
}

func (c *Component) Errorf(format string, args ...any) {
	c.lg.Errorf("%s: "+format, append([]any{c.name}, args...)...)
}
