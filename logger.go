package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel defines severity for logger output.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogLevelError:
		return zapcore.ErrorLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger provides leveled logging backed by zap.
type Logger struct {
	level LogLevel
	sugar *zap.SugaredLogger
}

// NewLogger creates a logger with desired level and prefix.
func NewLogger(level LogLevel, prefix string) *Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		level.zapLevel(),
	)
	return &Logger{
		level: level,
		sugar: zap.New(core).Named(prefix).Sugar(),
	}
}

// Level returns the current logging level.
func (l *Logger) Level() LogLevel {
	if l == nil {
		return LogLevelError
	}
	return l.level
}

// Debugf prints debug messages.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || l.level < LogLevelDebug {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Infof prints info messages.
func (l *Logger) Infof(format string, args ...any) {
	if l == nil || l.level < LogLevelInfo {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warnf prints warning messages.
func (l *Logger) Warnf(format string, args ...any) {
	if l == nil || l.level < LogLevelWarn {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Errorf prints error messages.
func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() {
	if l == nil {
		return
	}
	_ = l.sugar.Sync()
}

var defaultLogger = NewLogger(LogLevelInfo, "OSSIM")

// GetLogger returns the global logger.
func GetLogger() *Logger {
	return defaultLogger
}

// SetLogger replaces the global logger (primarily for tests).
func SetLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLogger = l
}
