package timeparse

import (
	"regexp"
	"strings"
	"time"
)

// loosePatterns mirror Parse's anchored constructs but may match
// anywhere inside a longer phrase, in the same priority order as
// Parse's switch (more specific first) so Extract and Parse agree on
// what a given substring means.
var loosePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\byesterday\b`),
	regexp.MustCompile(`(?i)\btoday\b`),
	regexp.MustCompile(`(?i)\btomorrow\b`),
	regexp.MustCompile(`(?i)\b(?:\d+)\s*(?:minute|hour|day|week|month|year)s?\s+ago\b`),
	regexp.MustCompile(`(?i)\b(?:last|this|next)\s+(?:week|month|year)\b`),
	regexp.MustCompile(`(?i)\b(?:(?:last|this|next)\s+)?(?:spring|summer|fall|autumn|winter)\b`),
	regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)(?:\s+\d{4})?\b`),
	regexp.MustCompile(`(?i)\b(?:(?:last|this)\s+)?(?:sunday|monday|tuesday|wednesday|thursday|friday|saturday)\b`),
}

var multiSpace = regexp.MustCompile(`\s+`)

// Extract locates the first recognized time construct anywhere inside
// phrase, per spec §4.C6's recall() splitting rule ("what did we
// decide last week about databases"). It returns the resolved range,
// the remaining text with the time fragment removed, and ok=false if
// nothing recognizable was found (recall then treats the whole phrase
// as a plain phrase, per Parse).
func Extract(phrase string, now time.Time) (rng Range, residual string, ok bool) {
	for _, p := range loosePatterns {
		loc := p.FindStringIndex(phrase)
		if loc == nil {
			continue
		}
		fragment := strings.TrimSpace(phrase[loc[0]:loc[1]])
		r, err := Parse(fragment, now)
		if err != nil {
			continue
		}
		residual = multiSpace.ReplaceAllString(strings.TrimSpace(phrase[:loc[0]]+" "+phrase[loc[1]:]), " ")
		return r, residual, true
	}
	return Range{}, phrase, false
}
