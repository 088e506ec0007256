package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppConfigFillMissingDefaults(t *testing.T) {
	cfg := AppConfig{}
	cfg.FillMissingDefaults()

	if cfg.Link.Kind != LinkLoopback {
		t.Fatalf("expected default link %q, got %q", LinkLoopback, cfg.Link.Kind)
	}
	if cfg.Link.SerialBaud != DefaultSerialBaud {
		t.Fatalf("expected default serial baud %d, got %d", DefaultSerialBaud, cfg.Link.SerialBaud)
	}
	if cfg.CAN.Slots != DefaultSlots || cfg.CAN.SlotSize != DefaultSlotSize {
		t.Fatalf("unexpected can defaults: %+v", cfg.CAN)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Logging.Level)
	}
	if cfg.Node.LockAnnounceInterval.Std() != 30*time.Minute {
		t.Fatalf("expected 30m lock announce interval, got %s", cfg.Node.LockAnnounceInterval.Std())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Node.ID != AutoNodeID {
		t.Fatalf("expected auto node id, got %d", cfg.Node.ID)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		raw  string
	}{
		{
			name: "json",
			file: "node.json",
			raw:  `{"node": {"id": 5, "parent": 0, "smart_sleep_wait": "750ms"}, "link": {"kind": "ip", "host": "10.0.0.2"}}`,
		},
		{
			name: "yaml",
			file: "node.yaml",
			raw: `node:
  id: 5
  parent: 0
  smart_sleep_wait: 750ms
link:
  kind: ip
  host: 10.0.0.2
`,
		},
		{
			name: "toml",
			file: "node.toml",
			raw: `[node]
id = 5
parent = 0
smart_sleep_wait = "750ms"

[link]
kind = "ip"
host = "10.0.0.2"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.raw), 0o600); err != nil {
				t.Fatalf("write config fixture: %v", err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("load config: %v", err)
			}
			if cfg.Node.ID != 5 {
				t.Fatalf("expected node id 5, got %d", cfg.Node.ID)
			}
			if cfg.Node.SmartSleepWait.Std() != 750*time.Millisecond {
				t.Fatalf("expected 750ms smart sleep wait, got %s", cfg.Node.SmartSleepWait.Std())
			}
			if cfg.Link.Kind != LinkIP || cfg.Link.Host != "10.0.0.2" {
				t.Fatalf("unexpected link config: %+v", cfg.Link)
			}
			if cfg.Link.Port != DefaultIPPort {
				t.Fatalf("expected default port to survive partial config, got %d", cfg.Link.Port)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("validate: %v", err)
			}
		})
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "node.ini")); err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*AppConfig) {}},
		{name: "serial without port", mutate: func(c *AppConfig) { c.Link.Kind = LinkSerial }, wantErr: true},
		{name: "ip without host", mutate: func(c *AppConfig) { c.Link.Kind = LinkIP }, wantErr: true},
		{name: "unknown link", mutate: func(c *AppConfig) { c.Link.Kind = "bluetooth" }, wantErr: true},
		{name: "node with gateway id", mutate: func(c *AppConfig) { c.Node.ID = 0 }, wantErr: true},
		{name: "gateway with node id", mutate: func(c *AppConfig) { c.Node.Gateway = true; c.Node.ID = 3 }, wantErr: true},
		{name: "gateway", mutate: func(c *AppConfig) { c.Node.Gateway = true; c.Node.ID = 0 }},
		{name: "tiny slots", mutate: func(c *AppConfig) { c.CAN.SlotSize = 4 }, wantErr: true},
		{name: "largest slots", mutate: func(c *AppConfig) { c.CAN.SlotSize = MaxSlotSize }},
		{name: "slots beyond sixteen frames", mutate: func(c *AppConfig) { c.CAN.SlotSize = MaxSlotSize + 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"node.json", "node.yaml", "node.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := Default()
			cfg.Node.ID = 12
			cfg.Node.Parent = 4
			cfg.Node.RegistrationRetry = Duration(2 * time.Second)
			cfg.Link.Kind = LinkSerial
			cfg.Link.SerialPort = "/dev/ttyACM0"

			if err := Save(path, cfg); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got != cfg {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Fatalf("temp file left behind: %v", err)
			}
		})
	}
}
