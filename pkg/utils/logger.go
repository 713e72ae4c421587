// Package utils provides shared helpers used across the application.
package utils

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

// InitLogger installs the process-wide logger. Safe to call more than once.
func InitLogger() {
	loggerOnce.Do(func() {
		level := slog.LevelInfo
		if os.Getenv("SPARKY_DEBUG") != "" {
			level = slog.LevelDebug
		}

		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		}))
		slog.SetDefault(logger)
	})
}

// GetLogger returns the process-wide logger, initializing it if needed.
func GetLogger() *slog.Logger {
	InitLogger()
	return logger
}
