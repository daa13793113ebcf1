// Package utils provides small cross-cutting helpers shared by every
// component: structured logging.
package utils

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logMu sync.Mutex
	log   *zap.Logger
)

// Init configures the package-level logger. Safe to call more than once;
// the most recent call wins. level is one of debug/info/warn/error.
func Init(level string, development bool) error {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: development,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "T",
			LevelKey:       "L",
			NameKey:        "N",
			CallerKey:      "C",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "M",
			StacktraceKey:  "S",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	logMu.Lock()
	log = built
	logMu.Unlock()
	return nil
}

// L returns the package logger, initializing a default one on first use.
func L() *zap.Logger {
	logMu.Lock()
	l := log
	logMu.Unlock()
	if l != nil {
		return l
	}
	_ = Init("info", false)
	logMu.Lock()
	l = log
	logMu.Unlock()
	return l
}

// With returns a child logger carrying the given fields (e.g. account id).
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// Sync flushes any buffered log entries; call on shutdown.
func Sync() error {
	logMu.Lock()
	l := log
	logMu.Unlock()
	if l != nil {
		return l.Sync()
	}
	return nil
}

// Fatal logs at fatal level and exits the process, matching the
// framework's convention of exiting on unrecoverable startup errors.
// AddCallerSkip(1) compensates for this function itself, so the logged
// caller is Fatal's caller rather than this line.
func Fatal(msg string, fields ...zap.Field) {
	L().WithOptions(zap.AddCallerSkip(1)).Fatal(msg, fields...)
	os.Exit(1)
}
