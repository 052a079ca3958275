// Package logging configures the process-wide zerolog logger used by every
// component of the mirror.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects level and destinations for the global logger.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// File, when set, receives the full JSON log in append mode.
	File string
	// Pretty renders the console output for humans instead of JSON.
	Pretty bool
}

// Setup installs the global logger. Console output goes to stderr so it
// never mixes with command output meant for piping.
func Setup(cfg Config) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stderr
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}
	writers := []io.Writer{console}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	out := writers[0]
	if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// Component returns a logger tagged with the originating component.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
