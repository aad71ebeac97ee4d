package idgen

import (
	"strings"
	"testing"
)

func TestEncodeBase36(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		length int
	}{
		{"two bytes three chars", []byte{0xab, 0xcd}, 3},
		{"four bytes six chars", []byte{0x01, 0x02, 0x03, 0x04}, 6},
		{"zero bytes pad", []byte{0x00}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeBase36(tt.data, tt.length)
			if len(got) != tt.length {
				t.Errorf("length = %d, want %d", len(got), tt.length)
			}
			for _, c := range got {
				if !strings.ContainsRune(base36Alphabet, c) {
					t.Errorf("invalid character %q in %q", c, got)
				}
			}
		})
	}
}

func TestHashSuffixDeterministic(t *testing.T) {
	a := HashSuffix("token refresh under quota", 4)
	b := HashSuffix("token refresh under quota", 4)
	if a != b {
		t.Errorf("same content produced %q and %q", a, b)
	}
	c := HashSuffix("token refresh over quota", 4)
	if a == c {
		t.Error("different content should produce different suffixes")
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in       string
		maxWords int
		want     string
	}{
		{"The user can edit their profile", 3, "user-can-edit"},
		{"Search returns results, fast!", 0, "search-returns-results-fast"},
		{"a the of", 3, "node"},
		{"", 3, "node"},
	}
	for _, tt := range tests {
		if got := Slug(tt.in, tt.maxWords); got != tt.want {
			t.Errorf("Slug(%q, %d) = %q, want %q", tt.in, tt.maxWords, got, tt.want)
		}
	}
}

func TestChild(t *testing.T) {
	got := Child("ix", "change:profile-edit", "token-fresh")
	if got != "ix:profile-edit:token-fresh" {
		t.Errorf("Child = %q", got)
	}
	got = Child("change", "req:profile-edit", "")
	if got != "change:profile-edit" {
		t.Errorf("Child without discriminator = %q", got)
	}
}

func TestVersionRoundTrip(t *testing.T) {
	v2 := Version("change:profile-edit", 2)
	if v2 != "change:profile-edit@v2" {
		t.Fatalf("Version = %q", v2)
	}
	base, n := ParseVersion(v2)
	if base != "change:profile-edit" || n != 2 {
		t.Errorf("ParseVersion = %q, %d", base, n)
	}
	// Bumping an already-versioned id replaces the suffix.
	v3 := Version(v2, 3)
	if v3 != "change:profile-edit@v3" {
		t.Errorf("Version bump = %q", v3)
	}
	base, n = ParseVersion("req:plain")
	if base != "req:plain" || n != 1 {
		t.Errorf("unversioned ParseVersion = %q, %d", base, n)
	}
}
