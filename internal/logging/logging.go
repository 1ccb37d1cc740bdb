// Package logging configures the process slog logger. Console output goes to a
// writer chosen by the caller so it stays apart from diagnostic text on stdout.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/skobkin/slipmux/internal/config"
)

type Manager struct {
	mu      sync.Mutex
	console io.Writer
	level   slog.LevelVar
	root    *slog.Logger
	file    *os.File
}

// NewManager logs at info level to console, or to stderr when console is nil.
func NewManager(console io.Writer) *Manager {
	if console == nil {
		console = os.Stderr
	}
	m := &Manager{console: console}
	m.level.Set(slog.LevelInfo)
	m.root = slog.New(slog.NewTextHandler(console, &slog.HandlerOptions{Level: &m.level}))

	return m
}

// Configure rebuilds the handler for cfg and installs it as the slog default.
// Loggers handed out earlier keep their output but follow the new level.
func (m *Manager) Configure(cfg config.LoggingConfig, filePath string) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeFileLocked()
	out := m.console
	if cfg.LogToFile {
		file, err := openLogFile(filePath)
		if err != nil {
			return err
		}
		m.file = file
		out = &teeWriter{console: m.console, file: file}
	}

	m.level.Set(level)
	m.root = slog.New(newHandler(cfg.Format, out, &m.level))
	slog.SetDefault(m.root)

	return nil
}

func (m *Manager) Level() slog.Level {
	return m.level.Level()
}

func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.root.With("component", component)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil

	return err
}

func (m *Manager) closeFileLocked() {
	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}
}

func openLogFile(path string) (*os.File, error) {
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return file, nil
}

// ParseLevel accepts slog level names with optional offsets ("info+2"), plus
// "warning" and the empty string for info.
func ParseLevel(raw string) (slog.Level, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("unsupported log level %q: %w", raw, err)
	}

	return level, nil
}

func newHandler(format string, w io.Writer, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

// teeWriter copies records to the console and the log file. A record counts as
// written when either side took it.
type teeWriter struct {
	console io.Writer
	file    io.Writer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	_, fileErr := w.file.Write(p)
	_, consoleErr := w.console.Write(p)
	if fileErr != nil && consoleErr != nil {
		return 0, fmt.Errorf("write log: %w", consoleErr)
	}

	return len(p), nil
}
