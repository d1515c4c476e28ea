package config

import (
	"errors"
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads path, expands environment variables, decodes YAML, fills in
// defaults for anything left unset, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	expanded := ExpandEnv(raw)

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	defaults := Defaults()
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("merge defaults: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, NewLoadError(path, err)
	}

	return &cfg, nil
}
