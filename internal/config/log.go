package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogOptions controls how NewLogger builds the process logger.
type LogOptions struct {
	Verbose bool
	// File redirects log output away from stderr. Empty means stderr.
	File string
	// Quiet discards everything unless File is set. Used by the TUI, which
	// owns the terminal.
	Quiet bool
}

// NewLogger builds the process-wide zap logger and installs it as the global
// logger so Debugf reaches it. The returned func flushes buffered entries.
func NewLogger(opts LogOptions) (*zap.Logger, func(), error) {
	if opts.Quiet && opts.File == "" {
		log := zap.NewNop()
		restore := zap.ReplaceGlobals(log)
		return log, restore, nil
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts.Verbose {
		cfg.Level.SetLevel(zap.DebugLevel)
	}
	if opts.File != "" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	restore := zap.ReplaceGlobals(log)
	return log, func() {
		_ = log.Sync()
		restore()
	}, nil
}
