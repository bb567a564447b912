// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package corelog provides the structured logger used across the
// redundancy core. It carries the same With/Info/Warn/Error/Debug method
// set the rest of the Lux stack expects from a logger, backed by
// go.uber.org/zap instead of a no-op stub.
package corelog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a structured, leveled logger with peer-id-friendly key/value
// fields.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	Fatal(msg string, kv ...interface{})
	With(kv ...interface{}) Logger
}

type zapLogger struct {
	l *zap.SugaredLogger
}

// New returns a production-configured console logger at the given level
// (one of "debug", "info", "warn", "error").
func New(level string, name string) Logger {
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	base, err := cfg.Build()
	if err != nil {
		base = zap.NewNop()
	}
	return &zapLogger{l: base.Sugar().Named(name)}
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() Logger {
	return &zapLogger{l: zap.NewNop().Sugar()}
}

func (z *zapLogger) Debug(msg string, kv ...interface{}) { z.l.Debugw(msg, kv...) }
func (z *zapLogger) Info(msg string, kv ...interface{})  { z.l.Infow(msg, kv...) }
func (z *zapLogger) Warn(msg string, kv ...interface{})  { z.l.Warnw(msg, kv...) }
func (z *zapLogger) Error(msg string, kv ...interface{}) { z.l.Errorw(msg, kv...) }
func (z *zapLogger) Fatal(msg string, kv ...interface{}) { z.l.Fatalw(msg, kv...) }

func (z *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{l: z.l.With(kv...)}
}
