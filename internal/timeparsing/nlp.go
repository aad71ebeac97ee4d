package timeparsing

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// nlpParser is shared; when.Parser is stateless after rule registration.
var nlpParser = newNLPParser()

func newNLPParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseNaturalLanguage parses English relative date expressions like
// "tomorrow", "next monday at 2pm", "in 3 days", "3 days ago" relative to
// now. Returns an error when no date expression is recognized in the input.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	r, err := nlpParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("no date expression recognized in %q", s)
	}

	return r.Time, nil
}

// ParseRelativeTime is the layered entry point used for --due flags.
// Layers are tried in order:
//  1. compact duration (+6h, -1d, +2w)
//  2. natural language (tomorrow, next monday at 2pm, in 3 days)
//  3. date-only (2025-02-01, midnight local)
//  4. RFC3339 (2025-03-15T14:30:00Z)
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}

	// Absolute formats before NLP: "2025-01-20" should never be guessed at
	// by the natural language rules.
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	if t, err := ParseNaturalLanguage(s, now); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized time expression: %q (try +2d, \"next friday\", or 2025-02-01)", s)
}
