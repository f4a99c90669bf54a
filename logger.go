package possync

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/huykn/pos-sync/types"
)

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() Logger { return types.NewNoOpLogger() }

// NewConsoleLogger creates a new console logger.
func NewConsoleLogger(prefix string) Logger { return types.NewConsoleLogger(prefix) }

type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger. Logger args are key/value pairs.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z *zapLogger) Debug(msg string, args ...any) { z.s.Debugw(msg, args...) }
func (z *zapLogger) Info(msg string, args ...any)  { z.s.Infow(msg, args...) }
func (z *zapLogger) Warn(msg string, args ...any)  { z.s.Warnw(msg, args...) }
func (z *zapLogger) Error(msg string, args ...any) { z.s.Errorw(msg, args...) }

// BuildZap builds a zap logger at level ("debug", "info", "warn", "error").
// json selects the production JSON encoder; otherwise a colored console
// encoder is used.
func BuildZap(level string, json bool) (*zap.Logger, error) {
	var cfg zap.Config
	if json {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.DisableStacktrace = true
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	return cfg.Build()
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
