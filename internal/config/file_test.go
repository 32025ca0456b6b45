package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultTargetName, cfg.Target.Name)
	assert.Equal(t, DefaultServiceUUID, cfg.Target.Service)
	assert.True(t, cfg.WriteWithResponse)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
driver: GoBLE
target:
  name: Thermostat
  service: 180A
scan_timeout: 3s
quick_commands:
  - key: "1"
    label: Lights
    payload: LED ON
`))
	require.NoError(t, err)

	assert.Equal(t, DriverGoBLE, cfg.Driver)
	assert.Equal(t, "Thermostat", cfg.Target.Name)
	assert.Equal(t, "0000180a-0000-1000-8000-00805f9b34fb", cfg.Target.Service)
	assert.Equal(t, DefaultCharacteristicUUID, cfg.Target.Characteristic)
	assert.Equal(t, 3*time.Second, cfg.ScanTimeout)
	assert.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout)
	require.Len(t, cfg.QuickCommands, 1)

	qc, ok := cfg.QuickCommand("lights")
	require.True(t, ok)
	assert.Equal(t, "LED ON", qc.Payload)
	_, ok = cfg.QuickCommand("1")
	assert.True(t, ok)
	_, ok = cfg.QuickCommand("f")
	assert.False(t, ok)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("targte:\n  name: x\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.Driver = "bluez" }, `unknown driver "bluez"`},
		{"no target", func(c *Config) { c.Target.Name = "" }, "target needs a name or an address"},
		{"bad service", func(c *Config) { c.Target.Service = "nope" }, "target.service"},
		{"bad characteristic", func(c *Config) { c.Target.Characteristic = "" }, "target.characteristic"},
		{"scan timeout", func(c *Config) { c.ScanTimeout = 0 }, "scan_timeout must be positive"},
		{"connect timeout", func(c *Config) { c.ConnectTimeout = -time.Second }, "connect_timeout must be positive"},
		{"transfer size", func(c *Config) { c.TransferSize = 20 }, "transfer_size must be within 23..517"},
		{"buffer", func(c *Config) { c.NotificationBuffer = 0 }, "notification_buffer must be positive"},
		{"empty payload", func(c *Config) { c.QuickCommands[0].Payload = "" }, "empty payload"},
		{"reserved key", func(c *Config) { c.QuickCommands[0].Key = "q" }, `key "q" is reserved`},
		{"duplicate key", func(c *Config) {
			c.QuickCommands = append(c.QuickCommands, QuickCommand{Key: "f", Label: "Again", Payload: "X"})
		}, `key "f" bound twice`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAddressOnlyTarget(t *testing.T) {
	cfg := Defaults()
	cfg.Target.Name = ""
	cfg.Target.Address = "AA:BB:CC:DD:EE:FF"
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err, "an explicit path must exist")

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transfer_size: 247\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 247, cfg.TransferSize)

	require.NoError(t, os.WriteFile(path, []byte("transfer_size: 9000\n"), 0o644))
	_, err = Load(path)
	require.ErrorContains(t, err, path)
}

func TestLoadDefaultPathMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.Target.Address = "AA:BB:CC:DD:EE:FF"
	data, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "scan_timeout: 10s")

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
