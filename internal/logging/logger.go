// Package logging configures the process-wide slog handler. Packages take
// their logger from Component so every line carries the emitting component.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	defaultMaxSize    = 10 * 1024 * 1024
	defaultMaxBackups = 3
)

// Config holds logger configuration
type Config struct {
	Level      slog.Level
	OutputFile string    // empty = console only
	MaxSize    int64     // bytes before the file is rotated on open
	MaxBackups int       // rotated files kept as OutputFile.1 .. OutputFile.N
	JSONFormat bool
	AddSource  bool
	Console    io.Writer // defaults to os.Stderr
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Unknown names fall back to info.
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

// Logger is a slog.Logger that owns its log file
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

var (
	global *Logger
	once   sync.Once
)

// Initialize builds the process logger and installs it as slog's default.
// Only the first call has any effect.
func Initialize(cfg Config) error {
	var initErr error
	once.Do(func() {
		logger, err := NewLogger(cfg)
		if err != nil {
			initErr = fmt.Errorf("failed to initialize logger: %w", err)
			return
		}
		global = logger
		slog.SetDefault(logger.Logger)
	})
	return initErr
}

// NewLogger writes to the console and, when OutputFile is set, to that file
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = defaultMaxBackups
	}

	out := cfg.Console
	if out == nil {
		out = os.Stderr
	}

	l := &Logger{}
	if cfg.OutputFile != "" {
		file, err := openLogFile(cfg.OutputFile, cfg.MaxSize, cfg.MaxBackups)
		if err != nil {
			return nil, err
		}
		l.file = file
		out = io.MultiWriter(out, file)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	if cfg.JSONFormat {
		l.Logger = slog.New(slog.NewJSONHandler(out, opts))
	} else {
		l.Logger = slog.New(slog.NewTextHandler(out, opts))
	}
	return l, nil
}

func openLogFile(path string, maxSize int64, maxBackups int) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	if err := rotate(path, maxSize, maxBackups); err != nil {
		return nil, fmt.Errorf("failed to rotate logs: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return file, nil
}

// rotate moves path to path.1, shifting older backups up, once path reaches maxSize
func rotate(path string, maxSize int64, maxBackups int) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	for i := maxBackups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, fmt.Sprintf("%s.%d", path, i+1))
		}
	}
	return os.Rename(path, path+".1")
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Component returns the default logger tagged with a component name.
// Call it after Initialize; loggers taken earlier keep the previous handler.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// Close closes the process logger installed by Initialize
func Close() error {
	if global == nil {
		return nil
	}
	return global.Close()
}
