package main

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the sdi12ctl YAML file.
type Config struct {
	Port      string `yaml:"port"`
	Baud      int    `yaml:"baud"`
	Bus       string `yaml:"bus"`
	TimeoutMs int    `yaml:"timeout_ms"` // per command, on the device
	NoWake    bool   `yaml:"no_wake"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:      "/dev/ttyACM0",
		Baud:      115200,
		Bus:       "sdi0",
		TimeoutMs: 250,
	}
}

// LoadConfig reads path over the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Printf("[config] no config at %s, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultConfig().Baud
	}
	return cfg, nil
}

// wait is how long the host waits for a reply: the device timeout plus
// link slack.
func (c *Config) wait() time.Duration {
	return time.Duration(c.TimeoutMs)*time.Millisecond + 2*time.Second
}
