// Package config holds the viper-backed runtime configuration for the
// planner. Settings resolve in the usual order: command-line flags bound by
// cmd/tl, then TRELLIS_* environment variables, then the plan directory's
// config.yaml, then the defaults below.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// v is the package-level viper instance. It is nil until Initialize runs.
var v *viper.Viper

// Initialize (re)builds the viper instance: defaults, environment bindings,
// and the plan directory's config.yaml if one can be found. A missing config
// file is not an error; a malformed one is.
func Initialize() error {
	nv := viper.New()
	nv.SetConfigName("config")
	nv.SetConfigType("yaml")

	setDefaults(nv)

	nv.SetEnvPrefix("TRELLIS")
	nv.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	nv.AutomaticEnv()

	if path, err := FindConfigYAMLPath(); err == nil {
		nv.SetConfigFile(path)
		if err := nv.ReadInConfig(); err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
	}

	v = nv
	return nil
}

func setDefaults(nv *viper.Viper) {
	nv.SetDefault("json", false)
	nv.SetDefault("plan-dir", "")
	nv.SetDefault("actor", "")

	// Verification knobs.
	nv.SetDefault("confidence-threshold", 0.80)
	nv.SetDefault("proof-threshold", 0.95)
	nv.SetDefault("question-lead-time", 72*time.Hour)

	// Artifact shard ceilings, bytes.
	nv.SetDefault("pass-budget-bytes", 8192)
	nv.SetDefault("node-budget-bytes", 3072)

	// Expansion controls.
	nv.SetDefault("ui-expansion", true)
	nv.SetDefault("salvage", true)
	nv.SetDefault("max-gaps", 10)
	nv.SetDefault("refactor.max-ops", 25)
	nv.SetDefault("overrides-file", "")

	nv.SetDefault("semver.policy", "minor-on-additive")
	nv.SetDefault("lanes", []string{"client", "server", "data", "infra", "design"})
}

// GetString returns the string value for key, or "" before Initialize.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool returns the boolean value for key, or false before Initialize.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt returns the integer value for key, or 0 before Initialize.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetFloat64 returns the float value for key, or 0 before Initialize.
func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

// GetDuration returns the duration value for key, or 0 before Initialize.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice returns the list value for key, or nil before Initialize.
func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}

// Set overrides a value in the running instance. cmd/tl uses this to push
// resolved global flags (--json, --actor, --plan-dir) into config so the
// rest of the program reads one source.
func Set(key string, value interface{}) {
	if v == nil {
		_ = Initialize()
	}
	v.Set(key, value)
}
