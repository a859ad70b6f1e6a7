package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config selects log level and destination.
type Config struct {
	Level string `yaml:"level"`
	// File receives logs when set. Interactive mode needs it because the
	// terminal belongs to the UI.
	File string `yaml:"file"`
	// Console switches stderr output to zerolog's human-readable writer.
	Console bool `yaml:"console"`
}

// New builds the application logger. The returned closer releases the log
// file, if any.
func New(cfg Config, fallback io.Writer) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	var w io.Writer = fallback
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), nopCloser{}, err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	} else if cfg.Console {
		w = zerolog.ConsoleWriter{Out: fallback, TimeFormat: time.Kitchen}
	}
	if w == nil {
		w = io.Discard
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Str("app", "docqa").Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
