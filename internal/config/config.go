// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package config loads the agent's optional YAML configuration file and
// watches it for changes. Every field is optional; the zero value means
// "keep the flag default", so a config file only has to name what it
// overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	Spool     SpoolConfig     `yaml:"spool"`
	Intervals IntervalsConfig `yaml:"intervals"`
}

type CollectorConfig struct {
	// Address is the collector's TCP endpoint, host:port.
	Address string `yaml:"address"`
	// FallbackURL is the base URL of the collector's HTTP ingress, used
	// when the TCP endpoint is unreachable. Empty disables the fallback.
	FallbackURL string `yaml:"fallback_url"`
}

type SpoolConfig struct {
	Directory     string `yaml:"directory"`
	QuotaBytes    int64  `yaml:"quota_bytes"`
	RetentionDays int    `yaml:"retention_days"`
}

type IntervalsConfig struct {
	Collection time.Duration `yaml:"collection"`
	Send       time.Duration `yaml:"send"`
}

// Load reads and parses the config file at path. A missing file is not an
// error; it returns the zero Config so every setting falls back to its
// flag default.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Spool.QuotaBytes < 0 {
		return fmt.Errorf("spool.quota_bytes must not be negative, got %d", c.Spool.QuotaBytes)
	}
	if c.Spool.RetentionDays < 0 {
		return fmt.Errorf("spool.retention_days must not be negative, got %d", c.Spool.RetentionDays)
	}
	if c.Intervals.Collection < 0 {
		return fmt.Errorf("intervals.collection must not be negative, got %s", c.Intervals.Collection)
	}
	if c.Intervals.Send < 0 {
		return fmt.Errorf("intervals.send must not be negative, got %s", c.Intervals.Send)
	}
	return nil
}

// Retention converts the configured retention into a duration; zero means
// unset.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Spool.RetentionDays) * 24 * time.Hour
}
