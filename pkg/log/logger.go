// Copyright 2021 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package log provides the leveled logger used across the updater: a plain
// Printf-style interface so callers never depend on a concrete logging
// library, with verbosity gating for the CLI's -v/--verbose flag.
package log

import (
	"log"
	"os"
)

// Logger describes a logger to be used across the updater.
type Logger interface {
	// Debugf logs a message only when the logger's verbosity is >= 2.
	Debugf(format string, args ...interface{})
	// Infof logs a message only when the logger's verbosity is >= 1.
	Infof(format string, args ...interface{})
	// Warnf logs a warning message.
	Warnf(format string, args ...interface{})
	// Errorf logs an error message.
	Errorf(format string, args ...interface{})
	// Fatalf logs a fatal message and immediately exits the application
	// with os.Exit.
	Fatalf(format string, args ...interface{})
}

// DefaultLogger is the logger used by default everywhere in this module.
var DefaultLogger Logger

func init() {
	DefaultLogger = New(0)
}

// New returns a Logger that writes to stderr, gated at the given verbosity.
func New(verbosity int) Logger {
	return &logWrapper{
		Logger:    log.New(os.Stderr, "", log.LstdFlags),
		verbosity: verbosity,
	}
}

// SetVerbosity adjusts DefaultLogger's verbosity in place when it is the
// stock stderr logger; used by the CLI once -v has been parsed.
func SetVerbosity(v int) {
	if lw, ok := DefaultLogger.(*logWrapper); ok {
		lw.verbosity = v
		return
	}
	DefaultLogger = New(v)
}

type logWrapper struct {
	Logger    *log.Logger
	verbosity int
}

func (l *logWrapper) Debugf(format string, args ...interface{}) {
	if l.verbosity >= 2 {
		l.Logger.Printf("[updater][DEBUG] "+format, args...)
	}
}

func (l *logWrapper) Infof(format string, args ...interface{}) {
	if l.verbosity >= 1 {
		l.Logger.Printf("[updater][INFO] "+format, args...)
	}
}

func (l *logWrapper) Warnf(format string, args ...interface{}) {
	l.Logger.Printf("[updater][WARN] "+format, args...)
}

func (l *logWrapper) Errorf(format string, args ...interface{}) {
	l.Logger.Printf("[updater][ERROR] "+format, args...)
}

func (l *logWrapper) Fatalf(format string, args ...interface{}) {
	l.Logger.Fatalf("[updater][FATAL] "+format, args...)
}

// Debugf logs a debug message on DefaultLogger.
func Debugf(format string, args ...interface{}) { DefaultLogger.Debugf(format, args...) }

// Infof logs an info message on DefaultLogger.
func Infof(format string, args ...interface{}) { DefaultLogger.Infof(format, args...) }

// Warnf logs a warning message on DefaultLogger.
func Warnf(format string, args ...interface{}) { DefaultLogger.Warnf(format, args...) }

// Errorf logs an error message on DefaultLogger.
func Errorf(format string, args ...interface{}) { DefaultLogger.Errorf(format, args...) }

// Fatalf logs a fatal message on DefaultLogger and exits.
func Fatalf(format string, args ...interface{}) { DefaultLogger.Fatalf(format, args...) }
