package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
)

// EnvPrefix is prepended to every environment variable Config reads.
const EnvPrefix = "SHOPMESH_"

// Load builds a Config from Default, the TOML file at path (skipped when path
// is empty) and the environment, in that order of precedence, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	return &cfg, nil
}

// ParseEnv overlays SHOPMESH_* variables onto target. Unset variables leave
// the current value untouched.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseEnvironment overlays the supplied variables instead of the process
// environment. Tests use it to avoid mutating global state.
func ParseEnvironment(target *Config, environ map[string]string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
