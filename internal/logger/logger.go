// Package logger provides the service's zerolog constructor.
package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a logger tagged with the service name. The level comes from
// MEMORYD_LOG_LEVEL (read directly because the logger must exist before
// configuration is loaded); unknown or empty values fall back to info.
func New(serviceName string) zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("MEMORYD_LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil && parsed != zerolog.NoLevel {
			level = parsed
		}
	}
	return zerolog.New(os.Stdout).Level(level).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}
