package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/bleserial"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device    DeviceConfig   `yaml:"device"`
	Terminal  TerminalConfig `yaml:"terminal"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // "text" or "json"
}

// DeviceConfig selects the BLE UART bridge.
type DeviceConfig struct {
	Address     string        `yaml:"address"`
	BaudRate    uint32        `yaml:"baud_rate"` // 0 keeps the device setting
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// TerminalConfig holds interactive terminal settings.
type TerminalConfig struct {
	HexMode           bool   `yaml:"hex_mode"`
	ClearOnDisconnect bool   `yaml:"clear_on_disconnect"`
	LineEnding        string `yaml:"line_ending"` // "none", "cr", "lf" or "crlf"
	Output            string `yaml:"output"`      // "text" or "json"
}

// MQTTConfig holds the broker bridge settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "bleuart")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ReadTimeout: bleserial.DefaultOptions().ReadTimeout,
		},
		Terminal: TerminalConfig{
			LineEnding: "lf",
			Output:     "text",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "bleuart",
			TopicPrefix: "bleuart",
			QoS:         1,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Device.Address != "" {
		cfg.Device.Address = strings.ToUpper(strings.TrimSpace(cfg.Device.Address))
	}

	return cfg, nil
}

// Validate checks the config for invalid values. An empty device address is
// allowed here; front ends that need one check it themselves.
func (c *Config) Validate() error {
	if c.Device.Address != "" {
		if _, err := bleserial.CanonicalAddress(c.Device.Address); err != nil {
			return fmt.Errorf("device.address: %w", err)
		}
	}

	if c.Device.ReadTimeout <= 0 {
		return errors.New("device.read_timeout must be > 0")
	}

	switch c.Terminal.LineEnding {
	case "none", "cr", "lf", "crlf":
	default:
		return fmt.Errorf("terminal.line_ending must be none, cr, lf, or crlf, got %q", c.Terminal.LineEnding)
	}

	switch c.Terminal.Output {
	case "text", "json":
	default:
		return fmt.Errorf("terminal.output must be \"text\" or \"json\", got %q", c.Terminal.Output)
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.broker must not be empty when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" {
			return errors.New("mqtt.topic_prefix must not be empty when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1, or 2, got %d", c.MQTT.QoS)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// ParseLogLevel converts log_level to a slog.Level. Unknown values map to info.
func (c *Config) ParseLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
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

const defaultHeader = "# bleuart configuration\n# Generated on first run. Edit and restart to apply.\n\n"

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the written path, or "" if a file was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
