// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-smartcard.
//
// go-smartcard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete watcher daemon configuration
type Config struct {
	Watch   WatchConfig   `yaml:"watch"`
	Probe   ProbeConfig   `yaml:"probe"`
	Logging LoggingConfig `yaml:"logging"`
}

// WatchConfig controls reader polling and filtering
type WatchConfig struct {
	// PollInterval is a Go duration string, e.g. "1s" or "500ms"
	PollInterval string `yaml:"poll_interval"`

	// Readers lists reader name prefixes to report; empty reports all
	Readers []string `yaml:"readers"`

	interval time.Duration
}

// ProbeConfig controls what happens when a reader arrives
type ProbeConfig struct {
	// Enabled opens a session on each arriving reader and logs the
	// applet identity
	Enabled bool `yaml:"enabled"`

	// Applet selects which applet to probe: piv or u2f
	Applet string `yaml:"applet"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given:
// poll every second, all readers, no probing, info logging.
func Default() *Config {
	cfg := &Config{
		Watch:   WatchConfig{PollInterval: "1s"},
		Probe:   ProbeConfig{Applet: "piv"},
		Logging: LoggingConfig{Level: "info"},
	}
	if err := cfg.Validate(); err != nil {
		// The defaults above always validate.
		panic(err)
	}
	return cfg
}

// Load reads configuration from a YAML file and applies environment
// variable overrides. Fields the file omits keep their defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if interval := os.Getenv("SCWATCHD_POLL_INTERVAL"); interval != "" {
		if _, err := time.ParseDuration(interval); err != nil {
			log.Printf("Warning: invalid SCWATCHD_POLL_INTERVAL value %q, using %q: %v",
				interval, cfg.Watch.PollInterval, err)
		} else {
			cfg.Watch.PollInterval = interval
		}
	}
	if readers := os.Getenv("SCWATCHD_READERS"); readers != "" {
		var names []string
		for _, name := range strings.Split(readers, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		cfg.Watch.Readers = names
	}
	if level := os.Getenv("SCWATCHD_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if probe := os.Getenv("SCWATCHD_PROBE"); probe != "" {
		enabled, err := strconv.ParseBool(probe)
		if err != nil {
			log.Printf("Warning: invalid SCWATCHD_PROBE value %q, using %t: %v",
				probe, cfg.Probe.Enabled, err)
		} else {
			cfg.Probe.Enabled = enabled
		}
	}
	if applet := os.Getenv("SCWATCHD_PROBE_APPLET"); applet != "" {
		cfg.Probe.Applet = applet
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	interval, err := time.ParseDuration(c.Watch.PollInterval)
	if err != nil {
		return fmt.Errorf("invalid poll_interval %q: %w", c.Watch.PollInterval, err)
	}
	if interval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %q", c.Watch.PollInterval)
	}
	c.Watch.interval = interval

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	switch strings.ToLower(c.Probe.Applet) {
	case "", "piv", "u2f":
	default:
		return fmt.Errorf("invalid probe applet: %s (must be piv or u2f)", c.Probe.Applet)
	}

	return nil
}

// Interval returns the parsed poll interval. Validate must have
// succeeded first.
func (w *WatchConfig) Interval() time.Duration {
	return w.interval
}

// Matches reports whether events for the named reader should be
// handled. An empty reader list matches everything.
func (w *WatchConfig) Matches(name string) bool {
	if len(w.Readers) == 0 {
		return true
	}
	for _, prefix := range w.Readers {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Debug reports whether debug logging is requested
func (c *Config) Debug() bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}
