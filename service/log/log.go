package log

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var defaultLogger *zap.Logger

func init() {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if l, err := zapcore.ParseLevel(lvl); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(l)
		}
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewExample()
	}
	defaultLogger = logger
}

// Logger returns the logger attached to ctx, or the default logger
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return l
		}
	}
	return defaultLogger
}

// With returns a context whose logger always adds the field key=value
func With(ctx context.Context, key string, value interface{}) context.Context {
	return WithLogger(ctx, Logger(ctx).With(zap.Any(key, value)))
}

// WithLogger attaches the logger to the context
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Fatal logs the message with the default logger and exits
func Fatal(msg string, fields ...zap.Field) {
	defaultLogger.Fatal(msg, fields...)
}
