package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// YamlOnlyKeys are configuration keys that live in the plan directory's
// config.yaml rather than being settable per invocation. These are read at
// startup, before any pass runs, so setting them through transient flags
// would silently have no effect.
var YamlOnlyKeys = map[string]bool{
	// Identity and location
	"actor":    true,
	"plan-dir": true,

	// Verification knobs
	"confidence-threshold": true,
	"proof-threshold":      true,
	"question-lead-time":   true,

	// Shard ceilings
	"pass-budget-bytes": true,
	"node-budget-bytes": true,

	// Expansion controls
	"ui-expansion":   true,
	"salvage":        true,
	"overrides-file": true,

	// Policy
	"semver.policy":    true,
	"refactor.max-ops": true,
	"lanes":            true,
}

// IsYamlOnlyKey reports whether key must be stored in config.yaml.
func IsYamlOnlyKey(key string) bool {
	if YamlOnlyKeys[key] {
		return true
	}

	prefixes := []string{"semver.", "refactor.", "weights."}
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}

	return false
}

// SetYamlConfig sets a configuration value in the plan's config.yaml file.
// It handles both adding new keys and updating existing (possibly
// commented-out) keys in place.
func SetYamlConfig(key, value string) error {
	configPath, err := FindConfigYAMLPath()
	if err != nil {
		return err
	}

	content, err := os.ReadFile(configPath) //nolint:gosec // configPath is from FindConfigYAMLPath
	if err != nil {
		return fmt.Errorf("failed to read config.yaml: %w", err)
	}

	newContent := updateYamlKey(string(content), key, value)

	if err := os.WriteFile(configPath, []byte(newContent), 0600); err != nil {
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}

	return nil
}

// GetYamlConfig gets a configuration value from config.yaml via the viper
// instance. Returns empty string if the key is not set.
func GetYamlConfig(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// updateYamlKey updates a key in yaml content, handling commented-out keys.
// An existing key (commented or not) is replaced in place; a missing key is
// appended at the end.
func updateYamlKey(content, key, value string) string {
	newLine := fmt.Sprintf("%s: %s", key, formatYamlValue(value))

	// Matches "key: value" or "# key: value" with optional leading whitespace.
	keyPattern := regexp.MustCompile(`^(\s*)(#\s*)?` + regexp.QuoteMeta(key) + `\s*:`)

	found := false
	var result []string

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if !found && keyPattern.MatchString(line) {
			matches := keyPattern.FindStringSubmatch(line)
			indent := ""
			if len(matches) > 1 {
				indent = matches[1]
			}
			result = append(result, indent+newLine)
			found = true
		} else {
			result = append(result, line)
		}
	}

	if !found {
		if len(result) > 0 && result[len(result)-1] != "" {
			result = append(result, "")
		}
		result = append(result, newLine)
	}

	return strings.Join(result, "\n")
}

// formatYamlValue formats a value appropriately for YAML.
func formatYamlValue(value string) string {
	lower := strings.ToLower(value)
	if lower == "true" || lower == "false" {
		return lower
	}

	if isNumeric(value) || isDuration(value) {
		return value
	}

	if needsQuoting(value) {
		return fmt.Sprintf("%q", value)
	}

	return value
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '-' && i == 0 {
			continue
		}
		if c == '.' {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isDuration(s string) bool {
	if len(s) < 2 {
		return false
	}
	suffix := s[len(s)-1]
	if suffix != 's' && suffix != 'm' && suffix != 'h' {
		return false
	}
	return isNumeric(s[:len(s)-1])
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsAny(s, ":#{}[]&*!|>'\"%@`,") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ")
}
