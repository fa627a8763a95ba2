package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "MNEMO_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// Loader handles configuration loading from various sources.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		k: koanf.New(Delimiter),
	}
}

// Load loads configuration with the following priority (highest wins):
// explicit overrides, environment variables, config file, defaults.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := l.loadFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		l.loadDefaultFiles()
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "mapstructure",
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults loads the default configuration.
func (l *Loader) loadDefaults() error {
	defaults := DefaultConfig()
	return l.k.Load(confmap.Provider(map[string]interface{}{
		"app":        defaults.App,
		"log":        defaults.Log,
		"cache":      defaults.Cache,
		"vector":     defaults.Vector,
		"graph":      defaults.Graph,
		"index":      defaults.Index,
		"embedding":  defaults.Embedding,
		"llm":        defaults.LLM,
		"memory":     defaults.Memory,
		"reflection": defaults.Reflection,
		"retrieval":  defaults.Retrieval,
		"metrics":    defaults.Metrics,
	}, Delimiter), nil)
}

// loadFile loads configuration from a YAML or JSON file.
func (l *Loader) loadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file not found: %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.k.Load(file.Provider(path), yaml.Parser())
	case ".json":
		return l.k.Load(file.Provider(path), json.Parser())
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}
}

// loadDefaultFiles probes the standard config locations.
func (l *Loader) loadDefaultFiles() {
	candidates := []string{
		"mnemo.yaml",
		"mnemo.yml",
		"mnemo.json",
		filepath.Join("config", "mnemo.yaml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = l.loadFile(path)
			return
		}
	}
}

// loadEnv loads configuration from MNEMO_* environment variables.
// MNEMO_CACHE_ADDR maps to cache.addr.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(EnvPrefix, Delimiter, func(s string) string {
		return strings.Replace(
			strings.ToLower(strings.TrimPrefix(s, EnvPrefix)),
			"_", Delimiter, 1,
		)
	}), nil)
}
