// Package logging builds the node's slog loggers from the logging section of
// the config file.
//
// Every line carries a component attribute. Protocol lines also carry the
// sys/sub category pair, see Tagged.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/skobkin/sensornet/internal/config"
)

// Manager holds the active root logger and the log file it may write to.
// The level lives in a LevelVar so SetLevel reaches loggers handed out
// earlier.
type Manager struct {
	level slog.LevelVar

	mu   sync.RWMutex
	root *slog.Logger
	file *os.File
}

// NewManager starts with info-level text output on stdout.
func NewManager() *Manager {
	m := &Manager{}
	m.root = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &m.level}))

	return m
}

// Configure replaces the root logger and installs it as the slog default.
// With LogToFile set, lines go to stdout and to logPath; losing one of the
// two does not silence the other.
func (m *Manager) Configure(cfg config.LoggingConfig, logPath string) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.closeFileLocked(); err != nil {
		return fmt.Errorf("close previous log file: %w", err)
	}

	out := io.Writer(os.Stdout)
	if cfg.LogToFile {
		// #nosec G304 -- logPath comes from the resolved data directory.
		f, err := os.OpenFile(filepath.Clean(logPath), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		m.file = f
		out = newFanoutWriter(os.Stdout, f)
	}

	h, err := newHandler(cfg.Format, out, &m.level)
	if err != nil {
		_ = m.closeFileLocked()

		return err
	}
	m.level.Set(level.Level())
	m.root = slog.New(h)
	slog.SetDefault(m.root)

	return nil
}

// SetLevel changes the threshold of every logger this manager produced.
func (m *Manager) SetLevel(raw string) error {
	level, err := parseLevel(raw)
	if err != nil {
		return err
	}
	m.level.Set(level.Level())

	return nil
}

func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.root.With("component", component)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closeFileLocked()
}

func (m *Manager) closeFileLocked() error {
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil

	return err
}

// Tagged adds the protocol category pair, e.g. sys=MCO sub=REG.
func Tagged(logger *slog.Logger, sys, sub string) *slog.Logger {
	return logger.With("sys", sys, "sub", sub)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newHandler(format string, w io.Writer, level slog.Leveler) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}
}

var levels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func parseLevel(raw string) (slog.Leveler, error) {
	level, ok := levels[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return nil, fmt.Errorf("logging: unknown level %q", raw)
	}

	return level, nil
}

// fanoutWriter copies each line to all destinations. A write succeeds when
// at least one destination took the whole line.
type fanoutWriter []io.Writer

func newFanoutWriter(dsts ...io.Writer) io.Writer {
	w := make(fanoutWriter, 0, len(dsts))
	for _, d := range dsts {
		if d != nil {
			w = append(w, d)
		}
	}

	return w
}

func (w fanoutWriter) Write(p []byte) (int, error) {
	var (
		errs []error
		ok   bool
	)
	for _, dst := range w {
		n, err := dst.Write(p)
		switch {
		case err != nil:
			errs = append(errs, err)
		case n < len(p):
			errs = append(errs, io.ErrShortWrite)
		default:
			ok = true
		}
	}
	if ok || len(errs) == 0 {
		return len(p), nil
	}

	return 0, errors.Join(errs...)
}
