package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix namespaces triggerd environment variables.
	envPrefix = "TRIGGERD_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// sections are the top-level config keys, used to map environment
// variables onto nested paths.
var sections = []string{"server", "logging", "engine", "learning", "profiles"}

// Load loads configuration from an optional YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (TRIGGERD_ENGINE_MODE, TRIGGERD_SERVER_ADDR, ...)
//  2. YAML config file (if path is non-empty and the file exists)
//  3. Hardcoded defaults
//
// Environment variables are uppercased with underscore separators; the
// first segment selects the section and the remainder is the field name:
//
//	TRIGGERD_ENGINE_RULE_WEIGHT   -> engine.rule_weight
//	TRIGGERD_LEARNING_QUEUE_CAPACITY -> learning.queue_capacity
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil {
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file %s exceeds %d bytes", configPath, maxConfigFileSize)
			}
			content, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envTransform maps TRIGGERD_SECTION_FIELD_NAME to section.field_name.
// Fields with compound names keep their underscores.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range sections {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}
	return s
}
