package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a JSON logger, or a console logger in development. An unknown level
// falls back to info.
func New(service string, development bool, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if development {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	return logger.Level(lvl).With().Timestamp().Str("service", service).Logger()
}
