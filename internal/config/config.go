package config

import "go.uber.org/zap"

// Verbose enables debug output when true
var Verbose bool

// Debugf logs debug messages through the global logger when Verbose is true
func Debugf(format string, args ...any) {
	if Verbose {
		zap.S().Debugf(format, args...)
	}
}
