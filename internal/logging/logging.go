// Package logging builds the single *zap.Logger every other component is
// handed at construction time. There is no global/package-level logger and
// no context-carried fields: callers pass the logger down explicitly and
// attach their own static fields with Named/With, the same shape the room
// manager and game driver already expect.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a console-encoded logger. verbose gates the level the same
// way the reference server's --verbose flag gated its log.Printf calls:
// InfoLevel when set, WarnLevel (quiet) otherwise. Errors are always logged
// regardless of verbosity.
func New(verbose bool) (*zap.Logger, error) {
	level := zap.WarnLevel
	if verbose {
		level = zap.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return cfg.Build()
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}
