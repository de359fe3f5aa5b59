package modwire

import (
	"fmt"

	"github.com/GoCodeAlone/modwire/feeders"
)

// EnvPrefix is the prefix of environment variables read into Config.
const EnvPrefix = "MODWIRE"

// Feeder populates a configuration struct from one source.
type Feeder interface {
	Feed(structure interface{}) error
}

// ConfigFeeders provides a default set of configuration feeders for common use cases
var ConfigFeeders = []Feeder{
	feeders.NewEnvFeeder(EnvPrefix),
}

// LoadConfig feeds a new Config from feeders in order, later feeders
// overriding earlier ones, then applies defaults and validates it.
func LoadConfig(sources ...Feeder) (*Config, error) {
	cfg := &Config{}
	for _, f := range sources {
		if err := f.Feed(cfg); err != nil {
			return nil, fmt.Errorf("config feeder %T: %w", f, err)
		}
	}
	if err := ProcessConfigDefaults(cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfigRequired(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads a YAML or TOML file, chosen by extension, with
// MODWIRE_ environment variables taking precedence. An empty path reads the
// environment only.
func LoadConfigFile(path string) (*Config, error) {
	var sources []Feeder
	if path != "" {
		file, err := feeders.ForFile(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, file)
	}
	sources = append(sources, ConfigFeeders...)
	return LoadConfig(sources...)
}
