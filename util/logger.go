// Package util - process-level helpers.
package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ModeRelease selects JSON production logging; anything else gets the development
// console encoder with coloured levels.
const ModeRelease = "release"

// NewLogger builds a zap logger for the given mode.
//
// Arguments:
//   - mode: ModeRelease or any other value for development output.
//
// Returns:
//   - *zap.Logger: The configured logger. Callers should defer Sync.
//   - error: An error if the zap configuration fails to build.
func NewLogger(mode string) (*zap.Logger, error) {
	var config zap.Config
	if mode == ModeRelease {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return config.Build()
}
