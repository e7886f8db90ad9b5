// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/chaz8081/gostt-notes/internal/config"
)

// DebugFlag reports whether verbose logging is switched on.
type DebugFlag interface {
	EnableDebugLogging() bool
}

// Setup installs a text slog handler as the default logger. Output always
// goes to stderr; when cfg.LogFile is set it is also written to a rotated
// file. The debug flag, when on, overrides cfg.LogLevel. The returned
// closer flushes and closes the file, if any.
func Setup(cfg *config.Config, debug DebugFlag) (io.Closer, error) {
	level := config.ParseLogLevel(cfg.LogLevel)
	if debug != nil && debug.EnableDebugLogging() {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
			return nil, err
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotator)
		closer = rotator
	}

	slog.SetDefault(New(out, level))
	return closer, nil
}

// New builds a text logger at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
