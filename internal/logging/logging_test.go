package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skobkin/sensornet/internal/config"
)

func TestFanoutWriter_ContinuesWhenOneDestinationFails(t *testing.T) {
	var dst bytes.Buffer
	w := newFanoutWriter(errorWriter{err: errors.New("broken stdout")}, &dst)

	n, err := w.Write([]byte("test"))
	if err != nil {
		t.Fatalf("write returned error: %v", err)
	}
	if n != len("test") {
		t.Fatalf("unexpected bytes written: got %d, want %d", n, len("test"))
	}
	if got := dst.String(); got != "test" {
		t.Fatalf("unexpected destination contents: got %q", got)
	}
}

func TestManagerConfigure_LogFileStillReceivesLogsWhenStdoutFails(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	origStdout := os.Stdout
	t.Cleanup(func() { os.Stdout = origStdout })

	brokenStdout, err := os.CreateTemp(t.TempDir(), "broken-stdout-*")
	if err != nil {
		t.Fatalf("create broken stdout: %v", err)
	}
	if err := brokenStdout.Close(); err != nil {
		t.Fatalf("close broken stdout: %v", err)
	}
	os.Stdout = brokenStdout

	logPath := filepath.Join(t.TempDir(), "app.log")
	m := NewManager()
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Configure(config.LoggingConfig{Level: "debug", LogToFile: true}, logPath); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	slog.Info("file must receive this message")

	if err := m.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}

	cleanLogPath := filepath.Clean(logPath)
	// #nosec G304 -- logPath is created from t.TempDir() in this test.
	raw, err := os.ReadFile(cleanLogPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(raw, []byte("file must receive this message")) {
		t.Fatalf("log file does not contain test message, contents: %q", string(raw))
	}
}

type errorWriter struct {
	err error
}

func (w errorWriter) Write(_ []byte) (int, error) {
	return 0, w.err
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: " warning ", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseLevel(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseLevel(%q): %v", tt.in, err)
		}
		if got.Level() != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got.Level(), tt.want)
		}
	}
}

func TestManagerConfigure_RejectsUnknownFormat(t *testing.T) {
	m := NewManager()
	if err := m.Configure(config.LoggingConfig{Level: "info", Format: "xml"}, ""); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestTaggedAddsCategory(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	Tagged(logger, "MCO", "REG").Info("registration request")

	out := buf.String()
	if !strings.Contains(out, "sys=MCO") || !strings.Contains(out, "sub=REG") {
		t.Fatalf("missing category attributes: %q", out)
	}
}

func TestSetLevelReachesExistingLoggers(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	logPath := filepath.Join(t.TempDir(), "node.log")
	m := NewManager()
	t.Cleanup(func() { _ = m.Close() })
	if err := m.Configure(config.LoggingConfig{Level: "warn", Format: "json", LogToFile: true}, logPath); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	logger := m.Logger("transport")
	logger.Debug("hidden before")
	if err := m.SetLevel("debug"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	logger.Debug("shown after")
	if err := m.SetLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}

	// #nosec G304 -- logPath is created from t.TempDir() in this test.
	raw, err := os.ReadFile(filepath.Clean(logPath))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(raw)
	if strings.Contains(out, "hidden before") {
		t.Fatalf("debug line leaked at warn level: %q", out)
	}
	if !strings.Contains(out, `"msg":"shown after"`) || !strings.Contains(out, `"component":"transport"`) {
		t.Fatalf("json line missing after level change: %q", out)
	}
}

func TestFanoutWriter_FailsWhenEveryDestinationFails(t *testing.T) {
	w := newFanoutWriter(errorWriter{err: errors.New("a")}, errorWriter{err: errors.New("b")})
	if _, err := w.Write([]byte("x")); err == nil {
		t.Fatalf("expected error when no destination accepted the write")
	}
}
