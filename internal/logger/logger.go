// Package logger builds the zap logger shared by the service and the CLI.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// FieldTenant is the structured log field key for the tenant identifier.
	FieldTenant = "tenant_id"
	// FieldRun is the structured log field key for the generation run identifier.
	FieldRun = "run_id"
	// FieldBatch is the structured log field key for a batch index.
	FieldBatch = "batch"
)

func New(json bool, debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	encoding := "console"

	if json {
		encoding = "json"
	}

	if debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "msg",

			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.RFC3339TimeEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,

			EncodeDuration: zapcore.StringDurationEncoder,
		},
	}

	return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// ForTenant attaches the tenant field, and the run field when runID is set.
func ForTenant(l *zap.Logger, tenantID, runID string) *zap.Logger {
	fields := []zap.Field{zap.String(FieldTenant, tenantID)}
	if runID != "" {
		fields = append(fields, zap.String(FieldRun, runID))
	}
	return OrNop(l).With(fields...)
}
