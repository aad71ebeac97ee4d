package config

import (
	"strings"
	"testing"
)

func TestIsYamlOnlyKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"actor", true},
		{"confidence-threshold", true},
		{"semver.policy", true},
		{"semver.allow-major", true},
		{"weights.p2", true},
		{"json", false},
		{"feature", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := IsYamlOnlyKey(tt.key); got != tt.want {
				t.Errorf("IsYamlOnlyKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestUpdateYamlKey(t *testing.T) {
	tests := []struct {
		name    string
		content string
		key     string
		value   string
		want    string
	}{
		{
			name:    "update existing key",
			content: "actor: old\nsalvage: true",
			key:     "actor",
			value:   "new",
			want:    "actor: new\nsalvage: true",
		},
		{
			name:    "uncomment commented key",
			content: "# confidence-threshold: 0.8\nactor: x",
			key:     "confidence-threshold",
			value:   "0.9",
			want:    "confidence-threshold: 0.9\nactor: x",
		},
		{
			name:    "append missing key",
			content: "actor: x",
			key:     "salvage",
			value:   "false",
			want:    "actor: x\n\nsalvage: false",
		},
		{
			name:    "preserve indentation",
			content: "semver:\n  policy: strict",
			key:     "policy",
			value:   "minor-on-additive",
			want:    "semver:\n  policy: minor-on-additive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := updateYamlKey(tt.content, tt.key, tt.value)
			if got != tt.want {
				t.Errorf("updateYamlKey() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestFormatYamlValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"true", "true"},
		{"FALSE", "false"},
		{"8192", "8192"},
		{"0.95", "0.95"},
		{"72h", "72h"},
		{"minor-on-additive", "minor-on-additive"},
		{"value: with colon", `"value: with colon"`},
		{"", `""`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := formatYamlValue(tt.in); got != tt.want {
				t.Errorf("formatYamlValue(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUpdateYamlKeyDoesNotTouchOtherKeys(t *testing.T) {
	content := "actor: a\nmax-gaps: 10\n# note about actors\n"
	got := updateYamlKey(content, "actor", "b")
	if !strings.Contains(got, "max-gaps: 10") {
		t.Error("unrelated key lost")
	}
	if !strings.Contains(got, "# note about actors") {
		t.Error("comment lost")
	}
}
