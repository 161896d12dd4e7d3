// Package serverlog wires the process-wide zap logger and the per-connection
// fields attached to every log line it emits.
//
// The event loop and state machine never reach for a package-global logger;
// per §9's "bundle into a server context" note, a *zap.SugaredLogger is
// constructed once in cmd/filed and threaded explicitly into the event loop,
// which hands it to each connection record it creates.
package serverlog

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Encoding matches the teacher's terse
// call-site style (short keys, no stack traces on info/warn).
func New() (*zap.SugaredLogger, error) {
	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zap.InfoLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// ConnID mints a per-connection id stamped on every log line for that
// connection. Ids make interleaved per-connection logs attributable even
// though §5 guarantees no ordering across connections.
func ConnID() string {
	return uuid.NewString()
}

// Fields returns the common leading fields for a connection log line.
func Fields(connID string, fd int, phase string) []interface{} {
	return []interface{}{"conn", connID, "fd", fd, "phase", phase}
}
