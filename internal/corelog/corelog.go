// Package corelog builds the operational loggers of the node binaries.
package corelog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Unit names used across the node.
const (
	UnitHost    = "HOST"
	UnitSession = "SESS"
	UnitRedial  = "DIAL"
	UnitConsole = "CONS"
	UnitNode    = "NODE"

	// UnitProtocol tags protocol events mirrored to the operational log.
	UnitProtocol = "PLOG"
)

// Config for logging.
type Config struct {
	// Level is a zerolog level name ("trace" through "disabled").
	Level string

	// JSON switches stdout output from the console writer to JSON lines.
	JSON bool

	// DisableConsole suppresses stdout output.
	DisableConsole bool

	// File enables a rolling log file at this path.
	File string

	// MaxSizeMB is the size at which the file is rolled.
	MaxSizeMB int

	// MaxBackups is how many rolled files are kept.
	MaxBackups int

	// MaxAgeDays is how long rolled files are kept.
	MaxAgeDays int

	// Out replaces stdout, mainly for tests.
	Out io.Writer
}

// Backend hands out unit loggers that share one output.
type Backend struct {
	root    zerolog.Logger
	level   zerolog.Level
	rolling *lumberjack.Logger
}

// New creates a backend from cfg.
func New(cfg Config) (*Backend, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	var writers []io.Writer
	if !cfg.DisableConsole {
		if cfg.JSON {
			writers = append(writers, out)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        out,
				TimeFormat: time.RFC3339,
				PartsOrder: []string{
					zerolog.TimestampFieldName,
					zerolog.LevelFieldName,
					"unit",
					zerolog.MessageFieldName,
				},
				FieldsExclude: []string{"unit"},
			})
		}
	}

	b := &Backend{level: level}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		b.rolling = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		writers = append(writers, b.rolling)
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}

	b.root = zerolog.New(w).Level(level).With().Timestamp().Logger()
	b.root.Trace().
		Bool("json", cfg.JSON).
		Str("file", cfg.File).
		Int("maxSizeMB", cfg.MaxSizeMB).
		Int("maxBackups", cfg.MaxBackups).
		Int("maxAgeDays", cfg.MaxAgeDays).
		Msg("logging configured")
	return b, nil
}

// Unit returns a logger tagged with unit.
func (b *Backend) Unit(unit string) zerolog.Logger {
	return b.root.With().Str("unit", unit).Logger()
}

// Level returns the configured level.
func (b *Backend) Level() zerolog.Level {
	return b.level
}

// Close flushes and closes the rolling file, if any.
func (b *Backend) Close() error {
	if b.rolling == nil {
		return nil
	}
	return b.rolling.Close()
}

// Disabled is a logger that drops everything.
var Disabled = zerolog.Nop()
