package utils

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewLogger returns a zap logger. When debug is true, uses development config
// (human-readable, debug level); otherwise uses production config (JSON, info level).
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// WithRun tags every entry of base with a fresh run id and the command name, so
// the lines of one invocation can be grouped. The id is returned as well.
func WithRun(base *zap.Logger, command string) (*zap.Logger, string) {
	id := uuid.NewString()
	if base == nil {
		base = zap.NewNop()
	}
	return base.With(zap.String("run_id", id), zap.String("command", command)), id
}
