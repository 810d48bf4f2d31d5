package config

import (
	"fmt"
	"time"

	"github.com/pithecene-io/multiflash/types"
)

// Config represents a multiflash.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Family  string        `yaml:"family"`
	Backend string        `yaml:"backend"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Sim     SimConfig     `yaml:"sim"`
	Journal JournalConfig `yaml:"journal"`
	Adapter AdapterConfig `yaml:"adapter"`
	Log     LogConfig     `yaml:"log"`
	Report  string        `yaml:"report"`
}

// BridgeConfig locates the vendor-library helper process.
type BridgeConfig struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args,omitempty"`
	// StopTimeout bounds how long a helper may take to exit after close.
	StopTimeout Duration `yaml:"stop_timeout,omitempty"`
}

// SimConfig describes the simulated probes used by the sim backend.
type SimConfig struct {
	Devices   []int  `yaml:"devices"`
	FlashSize uint32 `yaml:"flash_size"`
	Locked    bool   `yaml:"locked"`
}

// JournalConfig holds flash journal defaults.
type JournalConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds completion adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Topic   string            `yaml:"topic,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks enumerated values so that a typo in the file fails
// before any device is touched.
func (c *Config) Validate() error {
	if c.Family != "" {
		if _, err := types.ParseFamily(c.Family); err != nil {
			return fmt.Errorf("family: %w", err)
		}
	}
	if err := oneOf("backend", c.Backend, "bridge", "sim"); err != nil {
		return err
	}
	if err := oneOf("journal.backend", c.Journal.Backend, "fs", "s3"); err != nil {
		return err
	}
	if err := oneOf("adapter.type", c.Adapter.Type, "webhook", "redis", "mqtt"); err != nil {
		return err
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries)
	}
	for _, d := range c.Sim.Devices {
		if d <= 0 {
			return fmt.Errorf("sim.devices: invalid serial number %d", d)
		}
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: invalid value %q (must be one of %v)", field, value, allowed)
}
