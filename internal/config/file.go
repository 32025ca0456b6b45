package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vitaminmoo/esplink/internal/util"
)

// Defaults for the ESP32 sketch this tool was written against.
const (
	DefaultTargetName         = "ESP32_Bluetooth"
	DefaultServiceUUID        = "12345678-1234-5678-1234-56789abcdef0"
	DefaultCharacteristicUUID = "87654321-4321-6789-4321-abcdef012345"

	DefaultScanTimeout        = 10 * time.Second
	DefaultConnectTimeout     = 10 * time.Second
	DefaultTransferSize       = 512
	DefaultNotificationBuffer = 16
)

// Driver names accepted in the driver field.
const (
	DriverTinyGo = "tinygo"
	DriverGoBLE  = "goble"
)

// Target identifies the peripheral and its endpoint pair.
type Target struct {
	Name           string `yaml:"name"`
	Service        string `yaml:"service"`
	Characteristic string `yaml:"characteristic"`
	// Address skips discovery when set (MAC on Linux, UUID on macOS).
	Address string `yaml:"address,omitempty"`
}

// QuickCommand is a canned payload bound to a key in the TUI and a word in
// the console.
type QuickCommand struct {
	Key     string `yaml:"key"`
	Label   string `yaml:"label"`
	Payload string `yaml:"payload"`
}

// Reconnect bounds the backoff used by listen --reconnect.
type Reconnect struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// Config is the on-disk configuration. Zero fields fall back to defaults.
type Config struct {
	Driver             string         `yaml:"driver"`
	Target             Target         `yaml:"target"`
	ScanTimeout        time.Duration  `yaml:"scan_timeout"`
	ConnectTimeout     time.Duration  `yaml:"connect_timeout"`
	TransferSize       int            `yaml:"transfer_size"`
	WriteWithResponse  bool           `yaml:"write_with_response"`
	NotificationBuffer int            `yaml:"notification_buffer"`
	LogFile            string         `yaml:"log_file,omitempty"`
	QuickCommands      []QuickCommand `yaml:"quick_commands"`
	Reconnect          Reconnect      `yaml:"reconnect"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Driver: DriverTinyGo,
		Target: Target{
			Name:           DefaultTargetName,
			Service:        DefaultServiceUUID,
			Characteristic: DefaultCharacteristicUUID,
		},
		ScanTimeout:        DefaultScanTimeout,
		ConnectTimeout:     DefaultConnectTimeout,
		TransferSize:       DefaultTransferSize,
		WriteWithResponse:  true,
		NotificationBuffer: DefaultNotificationBuffer,
		QuickCommands: []QuickCommand{
			{Key: "f", Label: "Forward", Payload: "FORWARD"},
		},
		Reconnect: Reconnect{
			Initial: time.Second,
			Max:     30 * time.Second,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/esplink/config.yaml (or the platform
// equivalent).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config dir: %w", err)
	}
	return filepath.Join(dir, "esplink", "config.yaml"), nil
}

// Load reads path on top of the defaults. An empty path means DefaultPath,
// where a missing file is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return Defaults(), nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	Debugf("Loaded config from %s", path)
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// reservedKeys are bound by the TUI itself.
var reservedKeys = map[string]bool{
	"c": true, "d": true, "i": true, "x": true, "q": true,
	"j": true, "k": true, "?": true, "tab": true, "enter": true, "esc": true,
}

// Validate normalises UUIDs in place and rejects unusable values.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Driver) {
	case DriverTinyGo, DriverGoBLE:
		c.Driver = strings.ToLower(c.Driver)
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q (want %s or %s)", c.Driver, DriverTinyGo, DriverGoBLE))
	}

	if c.Target.Name == "" && c.Target.Address == "" {
		errs = append(errs, errors.New("target needs a name or an address"))
	}
	if svc, err := util.NormalizeUUID(c.Target.Service); err != nil {
		errs = append(errs, fmt.Errorf("target.service: %w", err))
	} else {
		c.Target.Service = svc
	}
	if char, err := util.NormalizeUUID(c.Target.Characteristic); err != nil {
		errs = append(errs, fmt.Errorf("target.characteristic: %w", err))
	} else {
		c.Target.Characteristic = char
	}

	if c.ScanTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scan_timeout must be positive, got %s", c.ScanTimeout))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout))
	}
	if c.TransferSize < 23 || c.TransferSize > 517 {
		errs = append(errs, fmt.Errorf("transfer_size must be within 23..517, got %d", c.TransferSize))
	}
	if c.NotificationBuffer <= 0 {
		errs = append(errs, fmt.Errorf("notification_buffer must be positive, got %d", c.NotificationBuffer))
	}

	seen := make(map[string]bool)
	for i, qc := range c.QuickCommands {
		if qc.Payload == "" {
			errs = append(errs, fmt.Errorf("quick_commands[%d]: empty payload", i))
		}
		if qc.Key != "" {
			if reservedKeys[qc.Key] {
				errs = append(errs, fmt.Errorf("quick_commands[%d]: key %q is reserved", i, qc.Key))
			}
			if seen[qc.Key] {
				errs = append(errs, fmt.Errorf("quick_commands[%d]: key %q bound twice", i, qc.Key))
			}
			seen[qc.Key] = true
		}
	}

	return errors.Join(errs...)
}

// QuickCommand looks a quick command up by key or case-insensitive label.
func (c *Config) QuickCommand(name string) (QuickCommand, bool) {
	for _, qc := range c.QuickCommands {
		if qc.Key == name || strings.EqualFold(qc.Label, name) {
			return qc, true
		}
	}
	return QuickCommand{}, false
}

// YAML renders the configuration as it would be written to disk.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}
