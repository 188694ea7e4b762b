// Package ingenlog provides the engine's shared logging entry point.
package ingenlog

import (
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Logger is the interface the engine's components log through.
type Logger interface {
	Debug(...interface{})
	Debugf(string, ...interface{})
	Info(...interface{})
	Infof(string, ...interface{})
	Warn(...interface{})
	Warnf(string, ...interface{})
	Error(...interface{})
	Errorf(string, ...interface{})
}

// Options configures a Logger, constructed with functional options the way
// engine.Options is (engine/options.go) rather than global env-var state.
type Options struct {
	Level     logrus.Level
	Output    io.Writer
	Formatter logrus.Formatter
}

func defaultOptions() Options {
	level := logrus.InfoLevel
	if debug, err := strconv.ParseBool(os.Getenv("INGEN_DEBUG")); err == nil && debug {
		level = logrus.DebugLevel
	}
	return Options{
		Level:  level,
		Output: os.Stderr,
	}
}

// Option mutates an Options during construction.
type Option func(*Options)

// WithLevel overrides the logger's level, taking precedence over
// INGEN_DEBUG.
func WithLevel(l logrus.Level) Option {
	return func(o *Options) { o.Level = l }
}

// WithDebug is shorthand for WithLevel(logrus.DebugLevel) when on is true,
// logrus.InfoLevel otherwise.
func WithDebug(on bool) Option {
	return func(o *Options) {
		if on {
			o.Level = logrus.DebugLevel
		} else {
			o.Level = logrus.InfoLevel
		}
	}
}

// WithOutput redirects log output away from the default stderr, e.g. to a
// file or an io.Discard sink in tests.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		if w != nil {
			o.Output = w
		}
	}
}

// WithFormatter overrides logrus's default text formatter, e.g. with
// &logrus.JSONFormatter{} for structured log shipping.
func WithFormatter(f logrus.Formatter) Option {
	return func(o *Options) {
		if f != nil {
			o.Formatter = f
		}
	}
}

// New returns a logger instance. With no options, the level is gated by
// the INGEN_DEBUG environment variable the way the teacher's log.GetLogger
// is gated by PHONO_DEBUG; any WithLevel/WithDebug option overrides it.
func New(opts ...Option) *logrus.Logger {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	l := logrus.New()
	l.SetLevel(o.Level)
	l.SetOutput(o.Output)
	if o.Formatter != nil {
		l.SetFormatter(o.Formatter)
	}
	return l
}
