// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the hubhelper YAML configuration.
//
// The config lives at ~/.hubhelper/hubhelper.yaml by default and is
// created with defaults on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk hubhelper configuration.
type Config struct {
	// AccountID identifies the remote platform account being remediated.
	AccountID string `yaml:"account_id"`

	// OutputDir holds execution records and the execution lock.
	OutputDir string `yaml:"output_dir"`

	// LogDir enables JSON file logging when non-empty.
	LogDir string `yaml:"log_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Lock      LockConfig      `yaml:"lock"`
	Remote    RemoteConfig    `yaml:"remote"`
	Retention RetentionConfig `yaml:"retention"`
}

// RateLimitConfig shapes the shared token bucket.
type RateLimitConfig struct {
	MaxTokens      int           `yaml:"max_tokens"`
	RefillInterval time.Duration `yaml:"refill_interval"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
}

// LockConfig shapes the per-account execution lock.
type LockConfig struct {
	// TTL is how long a lock from a crashed process stays valid.
	TTL time.Duration `yaml:"ttl"`
}

// RemoteConfig shapes calls to the remote platform.
//
// The API token is never stored in the config file; it comes from the
// HUBHELPER_API_TOKEN environment variable.
type RemoteConfig struct {
	// BaseURL is the platform API root, e.g. "https://api.hubapi.com".
	BaseURL string `yaml:"base_url"`

	// CallTimeout bounds each API call. Zero disables the timeout.
	CallTimeout time.Duration `yaml:"call_timeout"`

	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// RetentionConfig shapes execution-record cleanup.
type RetentionConfig struct {
	// Days removes records older than this many days. Zero disables.
	Days int `yaml:"days"`

	// MaxSizeMB caps the total size of stored records. Zero disables.
	MaxSizeMB int64 `yaml:"max_size_mb"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		OutputDir: "~/.hubhelper/executions",
		LogLevel:  "info",
		RateLimit: RateLimitConfig{
			MaxTokens:      100,
			RefillInterval: 10 * time.Second,
			MaxConcurrent:  5,
		},
		Lock: LockConfig{
			TTL: time.Hour,
		},
		Remote: RemoteConfig{
			BaseURL:        "https://api.hubapi.com",
			CallTimeout:    30 * time.Second,
			MaxRetries:     3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Retention: RetentionConfig{
			Days:      90,
			MaxSizeMB: 256,
		},
	}
}

// DefaultPath returns ~/.hubhelper/hubhelper.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".hubhelper", "hubhelper.yaml"), nil
}

// Load reads the config at path, creating it with defaults first if it
// does not exist. An empty path means DefaultPath().
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config file: %w", err)
	}

	cfg.OutputDir = expandPath(cfg.OutputDir)
	cfg.LogDir = expandPath(cfg.LogDir)
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
