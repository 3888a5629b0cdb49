// Package logger holds the process-wide zap logger. Until Init is called it
// discards everything, so library code and tests can log unconditionally.
package logger

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.Logger]

func init() {
	current.Store(zap.NewNop())
}

// Init replaces the process logger. format is "json" or "console"; outputPath
// is "stdout", "stderr" or a file that is appended to.
func Init(level, format, outputPath string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	sink, err := openSink(outputPath)
	if err != nil {
		return err
	}

	core := zapcore.NewCore(newEncoder(format), sink, lvl)
	current.Store(zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	))
	return nil
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.MillisDurationEncoder

	if format == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func openSink(path string) (zapcore.WriteSyncer, error) {
	switch path {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.AddSync(f), nil
}

// GetLogger returns the current logger for components that take a *zap.Logger.
func GetLogger() *zap.Logger {
	return current.Load().WithOptions(zap.AddCallerSkip(-1))
}

// Named returns a child logger tagged with a component name.
func Named(component string) *zap.Logger {
	return GetLogger().Named(component)
}

func Debug(msg string, fields ...zap.Field) { current.Load().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { current.Load().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { current.Load().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { current.Load().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { current.Load().Fatal(msg, fields...) }

func Sync() {
	_ = current.Load().Sync()
}
