// Package logger is a printf-style facade over a process-wide slog logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	level  slog.LevelVar
	active atomic.Pointer[slog.Logger]
)

func init() {
	SetOutput(os.Stdout)
}

// SetOutput sends every later log line to w as slog text.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	active.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level})))
}

// FileConfig describes a rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetFileOutput tees log output to stdout and a rotating file. An empty path
// keeps stdout only and returns a nil closer.
func SetFileOutput(cfg FileConfig) (io.Closer, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator, nil
}

// SetLevel takes effect immediately, including on loggers created earlier.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func logf(lvl slog.Level, format string, args []any) {
	l := active.Load()
	if !l.Enabled(context.Background(), lvl) {
		return
	}
	l.Log(context.Background(), lvl, fmt.Sprintf(format, args...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v) }

func Infof(format string, v ...any) { logf(slog.LevelInfo, format, v) }

func Warnf(format string, v ...any) { logf(slog.LevelWarn, format, v) }

func Errorf(format string, v ...any) { logf(slog.LevelError, format, v) }

// InfoBlock logs a multi-line block one line per record.
func InfoBlock(block string) {
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		if line != "" {
			Infof("%s", line)
		}
	}
}
