package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of config.yaml read directly from disk rather
// than through the viper singleton. It is used when the working directory
// has changed since Initialize ran, or when a command needs settings from a
// different plan directory than the one viper loaded.
type LocalConfig struct {
	Actor        string  `yaml:"actor"`
	PlanVersion  string  `yaml:"plan-version"`
	UIExpansion  *bool   `yaml:"ui-expansion"`
	Confidence   float64 `yaml:"confidence-threshold"`
	SemverPolicy string  `yaml:"semver,omitempty"`
}

// LoadLocalConfig reads and parses config.yaml from the given plan
// directory. Returns an empty LocalConfig (not nil) if the file is missing
// or unparseable.
func LoadLocalConfig(planDir string) *LocalConfig {
	configPath := filepath.Join(planDir, "config.yaml")
	data, err := os.ReadFile(configPath) // #nosec G304 - config file path from planDir
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}

	return &cfg
}

// LoadLocalConfigWithEnv reads config.yaml and applies environment variable
// overrides. Environment variables take precedence over file values.
//
// Supported environment variables:
//   - TRELLIS_ACTOR: overrides actor
//   - TRELLIS_CONFIDENCE_THRESHOLD is handled by viper, not here
func LoadLocalConfigWithEnv(planDir string) *LocalConfig {
	cfg := LoadLocalConfig(planDir)

	if envActor := os.Getenv("TRELLIS_ACTOR"); envActor != "" {
		cfg.Actor = envActor
	}

	return cfg
}

// GetLocalActor reads the actor identity from the plan directory's
// config.yaml, honoring TRELLIS_ACTOR first.
func GetLocalActor(planDir string) string {
	return LoadLocalConfigWithEnv(planDir).Actor
}
