// Package log wraps a process-wide zap logger.
package log

import (
	"fmt"
	stdlog "log"
	"sync"

	"go.uber.org/zap"
)

var (
	baseLogger  *zap.Logger
	sugar       *zap.SugaredLogger
	defaultOnce sync.Once
)

// Init builds the package-level logger. Debug selects zap's development config.
func Init(debug bool) error {
	var (
		zapLogger *zap.Logger
		err       error
	)
	if debug {
		zapLogger, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	} else {
		zapLogger, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}

	baseLogger = zapLogger
	sugar = zapLogger.Sugar()
	return nil
}

// GetZapLogger returns the base logger, creating a production logger if Init was never called.
func GetZapLogger() *zap.Logger {
	defaultOnce.Do(func() {
		if baseLogger == nil {
			baseLogger, _ = zap.NewProduction(zap.AddCallerSkip(1))
			sugar = baseLogger.Sugar()
		}
	})
	return baseLogger
}

// GetSugaredLogger returns the sugared logger instance.
func GetSugaredLogger() *zap.SugaredLogger {
	GetZapLogger()
	return sugar
}

// StdLogger adapts the zap logger for libraries that want a *log.Logger (gorm).
func StdLogger() *stdlog.Logger {
	return zap.NewStdLog(GetZapLogger().WithOptions(zap.AddCallerSkip(-1)))
}

// Sync flushes any buffered log entries.
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}

func Debugf(template string, args ...interface{}) {
	GetSugaredLogger().Debugf(template, args...)
}

func Debugw(msg string, keysAndValues ...interface{}) {
	GetSugaredLogger().Debugw(msg, keysAndValues...)
}

func Info(args ...interface{}) {
	GetSugaredLogger().Info(args...)
}

func Infof(template string, args ...interface{}) {
	GetSugaredLogger().Infof(template, args...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	GetSugaredLogger().Infow(msg, keysAndValues...)
}

func Warnf(template string, args ...interface{}) {
	GetSugaredLogger().Warnf(template, args...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	GetSugaredLogger().Warnw(msg, keysAndValues...)
}

func Errorf(template string, args ...interface{}) {
	GetSugaredLogger().Errorf(template, args...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	GetSugaredLogger().Errorw(msg, keysAndValues...)
}

// Fatalf logs and exits the process.
func Fatalf(template string, args ...interface{}) {
	GetSugaredLogger().Fatalf(template, args...)
}
