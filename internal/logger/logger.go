package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.Logger

// ParseLevel maps LOG_LEVEL to a zap level.
// Valid levels: debug, info, warn, error, fatal, panic; anything else is info.
func ParseLevel(logLevel string) zapcore.Level {
	logLevel = strings.ToLower(strings.TrimSpace(logLevel))
	if logLevel == "" {
		return zapcore.InfoLevel
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// New builds a logger: structured JSON in production, colored console
// output at debug level
func New(logLevel string) (*zap.Logger, error) {
	level := ParseLevel(logLevel)

	if level == zapcore.DebugLevel {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return config.Build()
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"
	return config.Build()
}

// Init builds the process-wide logger
func Init(logLevel string) error {
	l, err := New(logLevel)
	if err != nil {
		return err
	}
	Logger = l.With(zap.String("service", "spoilage"))
	return nil
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
