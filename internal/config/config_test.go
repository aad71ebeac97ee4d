package config

import (
	"os"
	"testing"
	"time"
)

func TestInitialize(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	if v == nil {
		t.Fatal("viper instance is nil after Initialize()")
	}
}

func TestDefaults(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"json", false, func(k string) interface{} { return GetBool(k) }},
		{"plan-dir", "", func(k string) interface{} { return GetString(k) }},
		{"actor", "", func(k string) interface{} { return GetString(k) }},
		{"confidence-threshold", 0.80, func(k string) interface{} { return GetFloat64(k) }},
		{"proof-threshold", 0.95, func(k string) interface{} { return GetFloat64(k) }},
		{"pass-budget-bytes", 8192, func(k string) interface{} { return GetInt(k) }},
		{"node-budget-bytes", 3072, func(k string) interface{} { return GetInt(k) }},
		{"ui-expansion", true, func(k string) interface{} { return GetBool(k) }},
		{"salvage", true, func(k string) interface{} { return GetBool(k) }},
		{"question-lead-time", 72 * time.Hour, func(k string) interface{} { return GetDuration(k) }},
		{"semver.policy", "minor-on-additive", func(k string) interface{} { return GetString(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestEnvironmentBinding(t *testing.T) {
	tests := []struct {
		envVar   string
		key      string
		value    string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"TRELLIS_JSON", "json", "true", true, func(k string) interface{} { return GetBool(k) }},
		{"TRELLIS_ACTOR", "actor", "testuser", "testuser", func(k string) interface{} { return GetString(k) }},
		{"TRELLIS_CONFIDENCE_THRESHOLD", "confidence-threshold", "0.9", 0.9, func(k string) interface{} { return GetFloat64(k) }},
		{"TRELLIS_PASS_BUDGET_BYTES", "pass-budget-bytes", "4096", 4096, func(k string) interface{} { return GetInt(k) }},
		{"TRELLIS_UI_EXPANSION", "ui-expansion", "false", false, func(k string) interface{} { return GetBool(k) }},
		{"TRELLIS_QUESTION_LEAD_TIME", "question-lead-time", "24h", 24 * time.Hour, func(k string) interface{} { return GetDuration(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			oldValue := os.Getenv(tt.envVar)
			_ = os.Setenv(tt.envVar, tt.value)
			defer os.Setenv(tt.envVar, oldValue)

			if err := Initialize(); err != nil {
				t.Fatalf("Initialize() returned error: %v", err)
			}

			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) with %s=%s = %v, want %v", tt.key, tt.envVar, tt.value, got, tt.expected)
			}
		})
	}
}

func TestSetOverridesDefault(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	Set("actor", "cli-flag-user")
	if got := GetString("actor"); got != "cli-flag-user" {
		t.Errorf("GetString(actor) after Set = %q, want cli-flag-user", got)
	}
}
