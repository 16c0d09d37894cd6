// Package astlog builds the zerolog logger astool uses everywhere. It
// mirrors the teacher's console-for-humans / JSON-for-files split rather
// than inventing a new logging mechanism.
package astlog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where logs go and how verbose they are.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// FilePath, if set, also writes JSON lines to this path with rotation.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
}

// New builds the global logger for a run of the CLI.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	var writer zerolog.LevelWriter
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxOr(cfg.MaxSizeMB, 100),
			MaxBackups: maxOr(cfg.MaxBackups, 3),
		}
		writer = zerolog.MultiLevelWriter(console, rotator)
	} else {
		writer = zerolog.MultiLevelWriter(console)
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func maxOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
