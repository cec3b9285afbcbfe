// Package config holds application configuration for the btlink CLI.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/btlink/internal/platform"
)

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"info"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"12s"`
	PairTimeout    time.Duration `yaml:"pair_timeout" default:"30s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	ServiceUUID    string        `yaml:"service_uuid"`
	OutputFormat   string        `yaml:"output_format" default:"table"` // table, plain
	TTYSymlink     string        `yaml:"tty_symlink"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	c.ServiceUUID = platform.SPPUUID
	return c
}

// Load reads a YAML config file over the defaults. A missing file is an
// error; use DefaultConfig when no file is expected.
func Load(path string) (*Config, error) {
	c := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if c.ServiceUUID == "" {
		c.ServiceUUID = platform.SPPUUID
	}

	return c, nil
}

// UnmarshalYAML decodes the config, accepting human-friendly duration
// strings ("12s", "1m30s") for the timeout fields.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		LogLevel       string `yaml:"log_level"`
		ScanTimeout    string `yaml:"scan_timeout"`
		PairTimeout    string `yaml:"pair_timeout"`
		ConnectTimeout string `yaml:"connect_timeout"`
		ServiceUUID    string `yaml:"service_uuid"`
		OutputFormat   string `yaml:"output_format"`
		TTYSymlink     string `yaml:"tty_symlink"`
	}

	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}

	if r.LogLevel != "" {
		c.LogLevel = r.LogLevel
	}
	if r.ServiceUUID != "" {
		c.ServiceUUID = r.ServiceUUID
	}
	if r.OutputFormat != "" {
		c.OutputFormat = r.OutputFormat
	}
	if r.TTYSymlink != "" {
		c.TTYSymlink = r.TTYSymlink
	}

	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{r.ScanTimeout, &c.ScanTimeout},
		{r.PairTimeout, &c.PairTimeout},
		{r.ConnectTimeout, &c.ConnectTimeout},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
