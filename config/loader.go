package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/grovetools/relay/errors"
	"github.com/grovetools/relay/pkg/paths"
	"github.com/pelletier/go-toml/v2"
)

// Load reads the configuration from the given TOML file, applies RELAY_*
// environment overrides, and validates the result. A missing file is not an
// error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse "+path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeConfigNotFound, "failed to read "+path)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse environment overrides")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the configuration from the standard location
// (relay.toml in the relay config directory).
func LoadDefault() (*Config, error) {
	return Load(paths.ConfigFilePath())
}
