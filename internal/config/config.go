package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LinkKind identifies which CAN link backend should be used.
type LinkKind string

const (
	LinkLoopback LinkKind = "loopback"
	LinkSerial   LinkKind = "serial"
	LinkIP       LinkKind = "ip"

	DefaultSerialBaud = 115200
	DefaultIPPort     = 20100
	DefaultBitrate    = 125000

	DefaultSlots    = 8
	DefaultSlotSize = 32
	DefaultRxQueue  = 64

	// MaxSlotSize is the longest message 16 eight-byte CAN frames carry.
	MaxSlotSize = 128

	// AutoNodeID leaves the node id to the persisted value.
	AutoNodeID = 255
)

// Duration is a time.Duration written as a Go duration string ("1m30s") in
// every supported file format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(raw []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(raw), err)
	}
	*d = Duration(parsed)

	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// NodeConfig describes the local node's role and protocol timing.
type NodeConfig struct {
	ID                   uint8    `json:"id" yaml:"id" toml:"id"`
	Parent               uint8    `json:"parent" yaml:"parent" toml:"parent"`
	Gateway              bool     `json:"gateway" yaml:"gateway" toml:"gateway"`
	Repeater             bool     `json:"repeater" yaml:"repeater" toml:"repeater"`
	SketchName           string   `json:"sketch_name" yaml:"sketch_name" toml:"sketch_name"`
	SketchVersion        string   `json:"sketch_version" yaml:"sketch_version" toml:"sketch_version"`
	SmartSleepWait       Duration `json:"smart_sleep_wait" yaml:"smart_sleep_wait" toml:"smart_sleep_wait"`
	RegistrationRetry    Duration `json:"registration_retry" yaml:"registration_retry" toml:"registration_retry"`
	LockAnnounceInterval Duration `json:"lock_announce_interval" yaml:"lock_announce_interval" toml:"lock_announce_interval"`
	HeartbeatInterval    Duration `json:"heartbeat_interval" yaml:"heartbeat_interval" toml:"heartbeat_interval"`
}

// LinkConfig contains link-specific connection parameters.
type LinkConfig struct {
	Kind       LinkKind `json:"kind" yaml:"kind" toml:"kind"`
	SerialPort string   `json:"serial_port" yaml:"serial_port" toml:"serial_port"`
	SerialBaud int      `json:"serial_baud" yaml:"serial_baud" toml:"serial_baud"`
	Host       string   `json:"host" yaml:"host" toml:"host"`
	Port       int      `json:"port" yaml:"port" toml:"port"`
	Bitrate    int      `json:"bitrate" yaml:"bitrate" toml:"bitrate"`
}

// CANConfig sizes the driver's receive path.
type CANConfig struct {
	Slots    int `json:"slots" yaml:"slots" toml:"slots"`
	SlotSize int `json:"slot_size" yaml:"slot_size" toml:"slot_size"`
	RxQueue  int `json:"rx_queue" yaml:"rx_queue" toml:"rx_queue"`
}

// StorageConfig selects where node state is persisted.
type StorageConfig struct {
	DBPath   string `json:"db_path" yaml:"db_path" toml:"db_path"`
	Volatile bool   `json:"volatile" yaml:"volatile" toml:"volatile"`
}

// CaptureConfig enables a pcap tap of every CAN frame.
type CaptureConfig struct {
	PcapPath string `json:"pcap_path" yaml:"pcap_path" toml:"pcap_path"`
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level" yaml:"level" toml:"level"`
	Format    string `json:"format" yaml:"format" toml:"format"`
	LogToFile bool   `json:"log_to_file" yaml:"log_to_file" toml:"log_to_file"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Node    NodeConfig    `json:"node" yaml:"node" toml:"node"`
	Link    LinkConfig    `json:"link" yaml:"link" toml:"link"`
	CAN     CANConfig     `json:"can" yaml:"can" toml:"can"`
	Storage StorageConfig `json:"storage" yaml:"storage" toml:"storage"`
	Capture CaptureConfig `json:"capture" yaml:"capture" toml:"capture"`
	Logging LoggingConfig `json:"logging" yaml:"logging" toml:"logging"`
}

func Default() AppConfig {
	return AppConfig{
		Node: NodeConfig{
			ID:                   AutoNodeID,
			Parent:               AutoNodeID,
			SmartSleepWait:       Duration(500 * time.Millisecond),
			RegistrationRetry:    Duration(5 * time.Second),
			LockAnnounceInterval: Duration(30 * time.Minute),
			HeartbeatInterval:    0,
		},
		Link: LinkConfig{
			Kind:       LinkLoopback,
			SerialBaud: DefaultSerialBaud,
			Port:       DefaultIPPort,
			Bitrate:    DefaultBitrate,
		},
		CAN: CANConfig{
			Slots:    DefaultSlots,
			SlotSize: DefaultSlotSize,
			RxQueue:  DefaultRxQueue,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			LogToFile: false,
		},
	}
}

type format int

const (
	formatJSON format = iota
	formatYAML
	formatTOML
)

func formatFor(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", "":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".toml":
		return formatTOML, nil
	default:
		return 0, fmt.Errorf("unsupported config file extension: %q", filepath.Ext(path))
	}
}

// Load reads path, choosing the decoder by file extension. A missing file
// yields the defaults.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	f, err := formatFor(path)
	if err != nil {
		return AppConfig{}, err
	}

	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path comes from the command line or the user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	switch f {
	case formatYAML:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decode config yaml: %w", err)
		}
	case formatTOML:
		if _, err := toml.Decode(string(raw), &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decode config toml: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decode config json: %w", err)
		}
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	def := Default()
	if c.Link.Kind == "" {
		c.Link.Kind = def.Link.Kind
	}
	if c.Link.SerialBaud <= 0 {
		c.Link.SerialBaud = def.Link.SerialBaud
	}
	if c.Link.Port <= 0 {
		c.Link.Port = def.Link.Port
	}
	if c.Link.Bitrate <= 0 {
		c.Link.Bitrate = def.Link.Bitrate
	}
	if c.CAN.Slots <= 0 {
		c.CAN.Slots = def.CAN.Slots
	}
	if c.CAN.SlotSize <= 0 {
		c.CAN.SlotSize = def.CAN.SlotSize
	}
	if c.CAN.RxQueue <= 0 {
		c.CAN.RxQueue = def.CAN.RxQueue
	}
	if c.Node.SmartSleepWait <= 0 {
		c.Node.SmartSleepWait = def.Node.SmartSleepWait
	}
	if c.Node.RegistrationRetry <= 0 {
		c.Node.RegistrationRetry = def.Node.RegistrationRetry
	}
	if c.Node.LockAnnounceInterval <= 0 {
		c.Node.LockAnnounceInterval = def.Node.LockAnnounceInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Node.Gateway {
		c.Node.ID = 0
	}
}

func (c AppConfig) Validate() error {
	switch c.Link.Kind {
	case LinkLoopback:
	case LinkSerial:
		if strings.TrimSpace(c.Link.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Link.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	case LinkIP:
		if strings.TrimSpace(c.Link.Host) == "" {
			return errors.New("ip host is required")
		}
		if c.Link.Port <= 0 || c.Link.Port > 65535 {
			return fmt.Errorf("ip port out of range: %d", c.Link.Port)
		}
	default:
		return fmt.Errorf("unknown link kind: %s", c.Link.Kind)
	}

	if c.Node.Gateway && c.Node.ID != 0 {
		return errors.New("gateway must use node id 0")
	}
	if !c.Node.Gateway && c.Node.ID == 0 {
		return errors.New("node id 0 is reserved for the gateway")
	}
	if c.CAN.SlotSize < 8 {
		return fmt.Errorf("can slot size too small: %d", c.CAN.SlotSize)
	}
	if c.CAN.SlotSize > MaxSlotSize {
		return fmt.Errorf("can slot size too large: %d > %d", c.CAN.SlotSize, MaxSlotSize)
	}
	if c.CAN.Slots > 64 {
		return fmt.Errorf("too many can slots: %d", c.CAN.Slots)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f, err := formatFor(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var raw []byte
	switch f {
	case formatYAML:
		raw, err = yaml.Marshal(cfg)
	case formatTOML:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		raw = buf.Bytes()
	default:
		raw, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
