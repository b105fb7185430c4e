// Package logger builds the structured zerolog logger shared by every component.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level   string    // trace, debug, info, warn, error
	Pretty  bool      // human readable console output instead of JSON
	Service string    // attached to every entry when set
	Output  io.Writer // defaults to stdout
}

// New creates the process logger and installs it as the zerolog global so
// code logging through zerolog/log ends up in the same stream.
func New(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With().Timestamp().Caller()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	l := ctx.Logger()

	log.Logger = l
	return l
}

// ParseLevel maps a level name to a zerolog level. Unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}
