/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package log provides module-scoped loggers for fmt-style log messages.
// The underlying logger instance is lazy initialized on first use, so a
// custom provider can be installed with Initialize before any line is logged.
package log

import (
	"sync"

	"github.com/sirupsen/logrus"

	spilog "github.com/DevAlexey/cordentity-1/spi/log"
)

// Log is an implementation of the spi log.Logger interface.
// It encapsulates the default or a custom logger to provide module based logging.
type Log struct {
	instance spilog.Logger
	module   string
	once     sync.Once
}

// New creates and returns a Logger implementation based on the given module name.
func New(module string) *Log {
	return &Log{module: module}
}

// Fatalf calls Fatalf function of the underlying logger.
func (l *Log) Fatalf(msg string, args ...interface{}) {
	l.logger().Fatalf(msg, args...)
}

// Panicf calls Panicf function of the underlying logger.
func (l *Log) Panicf(msg string, args ...interface{}) {
	l.logger().Panicf(msg, args...)
}

// Debugf calls Debugf function of the underlying logger.
func (l *Log) Debugf(msg string, args ...interface{}) {
	l.logger().Debugf(msg, args...)
}

// Infof calls Infof function of the underlying logger.
func (l *Log) Infof(msg string, args ...interface{}) {
	l.logger().Infof(msg, args...)
}

// Warnf calls Warnf function of the underlying logger.
func (l *Log) Warnf(msg string, args ...interface{}) {
	l.logger().Warnf(msg, args...)
}

// Errorf calls Errorf function of the underlying logger.
func (l *Log) Errorf(msg string, args ...interface{}) {
	l.logger().Errorf(msg, args...)
}

func (l *Log) logger() spilog.Logger {
	l.once.Do(func() {
		l.instance = loggerProvider().GetLogger(l.module)
	})

	return l.instance
}

//nolint:gochecknoglobals
var (
	loggerProviderInstance spilog.LoggerProvider
	loggerProviderOnce     sync.Once
)

// Initialize sets a custom logger provider. This function can be called only
// once; logging calls made before it use the default logrus-backed provider.
func Initialize(p spilog.LoggerProvider) {
	loggerProviderOnce.Do(func() {
		loggerProviderInstance = p
	})
}

func loggerProvider() spilog.LoggerProvider {
	loggerProviderOnce.Do(func() {
		loggerProviderInstance = &defProvider{}
	})

	return loggerProviderInstance
}

// defProvider is the default logger provider backed by logrus.
type defProvider struct{}

func (p *defProvider) GetLogger(module string) spilog.Logger {
	return &defLog{entry: logrus.StandardLogger().WithField("module", module)}
}

type defLog struct {
	entry *logrus.Entry
}

func (l *defLog) Panicf(msg string, args ...interface{}) { l.entry.Panicf(msg, args...) }
func (l *defLog) Fatalf(msg string, args ...interface{}) { l.entry.Fatalf(msg, args...) }
func (l *defLog) Errorf(msg string, args ...interface{}) { l.entry.Errorf(msg, args...) }
func (l *defLog) Warnf(msg string, args ...interface{})  { l.entry.Warnf(msg, args...) }
func (l *defLog) Infof(msg string, args ...interface{})  { l.entry.Infof(msg, args...) }
func (l *defLog) Debugf(msg string, args ...interface{}) { l.entry.Debugf(msg, args...) }

// SetLevel sets the log level for all modules of the default provider.
func SetLevel(level spilog.Level) {
	switch level {
	case spilog.CRITICAL:
		logrus.SetLevel(logrus.FatalLevel)
	case spilog.ERROR:
		logrus.SetLevel(logrus.ErrorLevel)
	case spilog.WARNING:
		logrus.SetLevel(logrus.WarnLevel)
	case spilog.INFO:
		logrus.SetLevel(logrus.InfoLevel)
	case spilog.DEBUG:
		logrus.SetLevel(logrus.DebugLevel)
	}
}
