// Package logging provides the colorized default logger used by the
// example binaries. Library code takes a *slog.Logger via its Config
// instead of using this package directly.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a tinted stderr logger at the given level with source
// locations attached.
func New(level slog.Level) *slog.Logger {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		AddSource:  true,
	})
	return slog.New(handler)
}

// Default is a convenience for New(slog.LevelInfo).
func Default() *slog.Logger {
	return New(slog.LevelInfo)
}
