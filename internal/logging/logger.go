// Package logging provides the structured logger shared by every
// long-lived component of the voice pipeline.
package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logging surface used throughout this module.
// Every long-lived component holds one, set at construction.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalf(template string, args ...interface{})
	// Benchmark logs the duration of an operation at debug level.
	Benchmark(name string, start time.Time)
	// With returns a child logger with the given key/value pairs
	// attached to every subsequent entry.
	With(keysAndValues ...interface{}) Logger
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// Config controls log level, output destination, and rotation.
type Config struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    bool
}

// New builds a Logger backed by zap. When cfg.FilePath is set, output is
// rotated through lumberjack; console output is additionally enabled
// when cfg.Console is true or no file path is configured.
func New(cfg Config) (Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var cores []zapcore.Core
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}
	if cfg.Console || cfg.FilePath == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}

	core := zapcore.NewTee(cores...)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &zapLogger{sugar: base.Sugar()}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (l *zapLogger) Debug(args ...interface{})                       { l.sugar.Debug(args...) }
func (l *zapLogger) Debugf(template string, args ...interface{})     { l.sugar.Debugf(template, args...) }
func (l *zapLogger) Debugw(msg string, kv ...interface{})            { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Info(args ...interface{})                        { l.sugar.Info(args...) }
func (l *zapLogger) Infof(template string, args ...interface{})      { l.sugar.Infof(template, args...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})             { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warn(args ...interface{})                        { l.sugar.Warn(args...) }
func (l *zapLogger) Warnf(template string, args ...interface{})      { l.sugar.Warnf(template, args...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})             { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Error(args ...interface{})                       { l.sugar.Error(args...) }
func (l *zapLogger) Errorf(template string, args ...interface{})     { l.sugar.Errorf(template, args...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{})            { l.sugar.Errorw(msg, kv...) }
func (l *zapLogger) Fatalf(template string, args ...interface{})     { l.sugar.Fatalf(template, args...) }

func (l *zapLogger) Benchmark(name string, start time.Time) {
	l.sugar.Debugw("benchmark", "op", name, "elapsed", time.Since(start).String())
}

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(kv...)}
}
