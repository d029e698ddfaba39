package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 64 * 1024

// Storage backends.
const (
	BackendStorm  = "storm"  // bbolt file through storm
	BackendMemory = "memory" // volatile, for bench runs
)

// PinsConfig holds the BCM pin numbers.
type PinsConfig struct {
	Forward int `yaml:"forward" env:"MIRROR_PIN_FORWARD"` // H-bridge line 1, HIGH opens
	Reverse int `yaml:"reverse" env:"MIRROR_PIN_REVERSE"` // H-bridge line 2, HIGH closes
	Button  int `yaml:"button" env:"MIRROR_PIN_BUTTON"`   // input, HIGH = held
}

// TimingConfig holds the fixed delays, all in milliseconds.
type TimingConfig struct {
	StepDelayMs int `yaml:"step_delay_ms" env:"MIRROR_STEP_DELAY_MS"` // pacing per movement step
	BootDelayMs int `yaml:"boot_delay_ms" env:"MIRROR_BOOT_DELAY_MS"` // settle before touching storage
	IdleDelayMs int `yaml:"idle_delay_ms" env:"MIRROR_IDLE_DELAY_MS"` // gap between loop iterations
}

// StorageConfig describes where the position byte lives.
type StorageConfig struct {
	Backend  string `yaml:"backend" env:"MIRROR_STORAGE_BACKEND"` // "storm" or "memory"
	Path     string `yaml:"path" env:"MIRROR_STORAGE_PATH"`       // storm file
	Capacity int    `yaml:"capacity" env:"MIRROR_STORAGE_CAPACITY"`
	Address  int    `yaml:"address" env:"MIRROR_STORAGE_ADDRESS"` // byte holding the position
}

// SerialConfig is the optional diagnostic serial line.
type SerialConfig struct {
	Device string `yaml:"device" env:"MIRROR_SERIAL_DEVICE"` // empty = disabled
	Baud   int    `yaml:"baud" env:"MIRROR_SERIAL_BAUD"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	MaxPosition int  `yaml:"max_position" env:"MIRROR_MAX_POSITION"` // fully open, 1-255
	DebugLevel  int  `yaml:"debug_level" env:"MIRROR_DEBUG_LEVEL"`   // 0=off, 1=info, 2=live, 3=verbose, 4=trace
	MockGPIO    bool `yaml:"mock_gpio" env:"MIRROR_MOCK_GPIO"`       // true=bench, false=real Raspberry Pi
	WebPort     int  `yaml:"web_port" env:"MIRROR_WEB_PORT"`         // read-only status server, 0 = off
}

// Config aggregates all application configuration.
type Config struct {
	Pins     PinsConfig     `yaml:"pins"`
	Timing   TimingConfig   `yaml:"timing"`
	Storage  StorageConfig  `yaml:"storage"`
	Serial   SerialConfig   `yaml:"serial"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Pins: PinsConfig{Forward: 17, Reverse: 27, Button: 22},
		Timing: TimingConfig{
			StepDelayMs: 25,
			BootDelayMs: 1000,
			IdleDelayMs: 100,
		},
		Storage: StorageConfig{
			Backend:  BackendStorm,
			Path:     filepath.Join("data", "mirror.db"),
			Capacity: 64,
			Address:  1,
		},
		Serial:   SerialConfig{Baud: 115200},
		Defaults: DefaultsConfig{MaxPosition: 255, DebugLevel: 1},
	}
}

// ValidateConfigPath accepts only .yaml files inside a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	if !filepath.IsAbs(clean) && (clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator))) {
		return fmt.Errorf("config path escapes working directory: %s", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file over the defaults, applies MIRROR_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and fills zero values with defaults.
func (c *Config) Validate() error {
	def := Default()

	if c.Pins.Forward == c.Pins.Reverse {
		return fmt.Errorf("pins.forward and pins.reverse must differ, both %d", c.Pins.Forward)
	}
	if c.Pins.Button == c.Pins.Forward || c.Pins.Button == c.Pins.Reverse {
		return fmt.Errorf("pins.button %d overlaps an H-bridge pin", c.Pins.Button)
	}
	for name, pin := range map[string]int{"forward": c.Pins.Forward, "reverse": c.Pins.Reverse, "button": c.Pins.Button} {
		if pin < 0 || pin > 27 {
			return fmt.Errorf("pins.%s must be a BCM pin 0-27, got %d", name, pin)
		}
	}

	if c.Timing.StepDelayMs < 0 || c.Timing.BootDelayMs < 0 || c.Timing.IdleDelayMs < 0 {
		return errors.New("timing delays must be >= 0")
	}

	if c.Defaults.MaxPosition == 0 {
		c.Defaults.MaxPosition = def.Defaults.MaxPosition
	}
	if c.Defaults.MaxPosition < 1 || c.Defaults.MaxPosition > 255 {
		return fmt.Errorf("max_position must be between 1 and 255, got %d", c.Defaults.MaxPosition)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Defaults.WebPort < 0 || c.Defaults.WebPort > 65535 {
		return fmt.Errorf("web_port must be 0-65535, got %d", c.Defaults.WebPort)
	}

	switch c.Storage.Backend {
	case "":
		c.Storage.Backend = def.Storage.Backend
	case BackendStorm, BackendMemory:
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendStorm && c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
	if c.Storage.Capacity <= 0 {
		c.Storage.Capacity = def.Storage.Capacity
	}
	if c.Storage.Address < 0 || c.Storage.Address >= c.Storage.Capacity {
		return fmt.Errorf("storage.address %d outside capacity %d", c.Storage.Address, c.Storage.Capacity)
	}

	if c.Serial.Baud <= 0 {
		c.Serial.Baud = def.Serial.Baud
	}
	return nil
}

// StepDelay returns the pacing between movement steps.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Timing.StepDelayMs) * time.Millisecond
}

// BootDelay returns the settle time before storage init.
func (c *Config) BootDelay() time.Duration {
	return time.Duration(c.Timing.BootDelayMs) * time.Millisecond
}

// IdleDelay returns the gap between control loop iterations.
func (c *Config) IdleDelay() time.Duration {
	return time.Duration(c.Timing.IdleDelayMs) * time.Millisecond
}
