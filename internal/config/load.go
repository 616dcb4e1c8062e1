// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/feedspine/feedspine/internal/model"
)

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "FEEDSPINE_CONFIG"

// envPrefix namespaces every feedspine environment variable.
const envPrefix = "FEEDSPINE_"

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"feedspine.yaml",
	"feedspine.yml",
	"/etc/feedspine/config.yaml",
	"/etc/feedspine/config.yml",
}

// sections are the top-level config keys an environment variable may
// address. FEEDSPINE_COLLECTOR_BUFFER_CAPACITY maps to
// collector.buffer_capacity.
var sections = []string{
	"database", "collector", "dedup", "checkpoints",
	"resources", "events", "server", "logging",
}

// Load reads configuration from defaults, an optional YAML file, and
// the environment, then validates the result.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path
// skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("%w: load defaults: %v", model.ErrConfig, err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: load %s: %v", model.ErrConfig, path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: load environment: %v", model.ErrConfig, err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", model.ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransform maps FEEDSPINE_SECTION_SOME_KEY to section.some_key.
// Underscores inside the key are preserved; only the section boundary
// becomes a dot. Unrecognized sections are dropped.
func envTransform(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	for _, section := range sections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return ""
}

// findConfigFile returns the first config file that exists, honoring
// the FEEDSPINE_CONFIG override.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
