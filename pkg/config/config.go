package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by the CLI.
const (
	OutputTree = "tree"
	OutputJSON = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel      string        `yaml:"log_level" json:"log_level" default:"info"`
	ProfilePath   string        `yaml:"profile" json:"profile"`
	ScanTimeout   time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	DeviceTimeout time.Duration `yaml:"device_timeout" json:"device_timeout" default:"30s"`
	OutputFormat  string        `yaml:"output_format" json:"output_format" default:"tree"`
	// RandSeed makes simulated RSSI jitter reproducible; 0 seeds from the clock.
	RandSeed int64 `yaml:"rand_seed" json:"rand_seed"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file. Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}

	// zero values written explicitly in the file fall back to defaults too
	defaults.SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	switch c.OutputFormat {
	case OutputTree, OutputJSON:
	default:
		return fmt.Errorf("invalid output format: %s (must be %s or %s)", c.OutputFormat, OutputTree, OutputJSON)
	}
	if c.ScanTimeout < 0 || c.DeviceTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
