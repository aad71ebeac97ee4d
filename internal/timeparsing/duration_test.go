package timeparsing

import (
	"testing"
	"time"
)

func TestParseCompactDuration(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{input: "+6h", want: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)},
		{input: "+2d", want: time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)},
		{input: "+1w", want: time.Date(2026, 3, 17, 9, 0, 0, 0, time.UTC)},
		{input: "+3m", want: time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)},
		{input: "+1y", want: time.Date(2027, 3, 10, 9, 0, 0, 0, time.UTC)},
		{input: "-1d", want: time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)},
		{input: "-6h", want: time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)},

		// No sign means forward.
		{input: "2d", want: time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)},
		{input: "36h", want: time.Date(2026, 3, 11, 21, 0, 0, 0, time.UTC)},

		{input: "2d+", wantErr: true},
		{input: "++1d", wantErr: true},
		{input: "1x", wantErr: true},
		{input: "", wantErr: true},
		{input: "6", wantErr: true},
		{input: "d", wantErr: true},
		{input: "+ 6h", wantErr: true},
		{input: "2026-03-10", wantErr: true},
		{input: "tomorrow", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCompactDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsCompactDuration(t *testing.T) {
	valid := []string{"+6h", "-1d", "+2w", "3m", "1y", "+24h"}
	for _, s := range valid {
		if !IsCompactDuration(s) {
			t.Errorf("IsCompactDuration(%q) = false, want true", s)
		}
	}
	invalid := []string{"", "tomorrow", "2026-03-10", "6h+", "++1d", "1x"}
	for _, s := range invalid {
		if IsCompactDuration(s) {
			t.Errorf("IsCompactDuration(%q) = true, want false", s)
		}
	}
}

func TestParseCompactDurationCalendarArithmetic(t *testing.T) {
	// Day and larger units go through AddDate: leap days land where the
	// standard library puts them.
	feb28 := time.Date(2028, 2, 28, 12, 0, 0, 0, time.UTC)
	got, err := ParseCompactDuration("+1d", feb28)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2028, 2, 29, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Feb 28, 2028 + 1d = %v, want %v", got, want)
	}
}

func TestParseCompactDurationPreservesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("timezone America/New_York not available")
	}

	now := time.Date(2026, 6, 15, 12, 0, 0, 0, loc)
	got, err := ParseCompactDuration("+1d", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Location() != loc {
		t.Errorf("location not preserved: got %v, want %v", got.Location(), loc)
	}
}
