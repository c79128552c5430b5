// Package timeparse converts natural-language time phrases into
// half-open UTC instant ranges (spec §4.C5). Parsing is deterministic
// given an injected reference instant, never the wall clock directly,
// so tests can pin "now" the way the teacher's temporal resolver takes
// a sessionDate parameter rather than calling time.Now() itself.
package timeparse

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
)

// Range is a half-open UTC instant interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

var dayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var monthNames = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// northernSeasons maps the fixed, documented Northern-hemisphere
// season convention (spec §4.C5) to [startMonth, endMonthExclusive).
// "Winter" wraps the year boundary and is handled separately.
var northernSeasons = map[string][2]time.Month{
	"spring": {time.March, time.June},
	"summer": {time.June, time.September},
	"fall":   {time.September, time.December},
	"autumn": {time.September, time.December},
}

var (
	reToday     = regexp.MustCompile(`(?i)^today$`)
	reYesterday = regexp.MustCompile(`(?i)^yesterday$`)
	reTomorrow  = regexp.MustCompile(`(?i)^tomorrow$`)
	reUnit      = regexp.MustCompile(`(?i)^(last|this|next)\s+(week|month|year)$`)
	reAgo       = regexp.MustCompile(`(?i)^(\d+)\s*(minute|hour|day|week|month|year)s?\s+ago$`)
	reMonth     = regexp.MustCompile(`(?i)^(january|february|march|april|may|june|july|august|september|october|november|december)(?:\s+(\d{4}))?$`)
	reWeekday   = regexp.MustCompile(`(?i)^(?:(last|this)\s+)?(sunday|monday|tuesday|wednesday|thursday|friday|saturday)$`)
	reSeason    = regexp.MustCompile(`(?i)^(?:(last|this|next)\s+)?(spring|summer|fall|autumn|winter)$`)
)

// Parse converts phrase into a half-open range relative to now.
// Returns memerr.Invalid ("InvalidTimeExpression" per spec §4.C5) for
// anything not in the recognized construct set, and for any phrase
// that would resolve into the future — the parser never guesses.
func Parse(phrase string, now time.Time) (Range, error) {
	now = now.UTC()
	p := strings.TrimSpace(phrase)

	switch {
	case reToday.MatchString(p):
		return dayRange(now), nil

	case reYesterday.MatchString(p):
		return dayRange(now.AddDate(0, 0, -1)), nil

	case reTomorrow.MatchString(p):
		return Range{}, invalidTimeExpression(phrase, "future phrases are rejected for recall")

	case reUnit.MatchString(p):
		m := reUnit.FindStringSubmatch(p)
		return unitRange(now, strings.ToLower(m[1]), strings.ToLower(m[2]), phrase)

	case reAgo.MatchString(p):
		m := reAgo.FindStringSubmatch(p)
		return agoRange(now, m, phrase)

	case reMonth.MatchString(p):
		m := reMonth.FindStringSubmatch(p)
		return monthRange(now, m, phrase)

	case reWeekday.MatchString(p):
		m := reWeekday.FindStringSubmatch(p)
		return weekdayRange(now, m, phrase)

	case reSeason.MatchString(p):
		m := reSeason.FindStringSubmatch(p)
		return seasonRange(now, m, phrase)
	}

	return Range{}, invalidTimeExpression(phrase, "unrecognized construct")
}

// ParseCompound splits "<phrase1> and <phrase2>" into its constituent
// ranges (spec §4.C5's compound construct); a plain phrase with no
// "and" returns a single-element slice.
func ParseCompound(phrase string, now time.Time) ([]Range, error) {
	parts := splitAnd(phrase)
	ranges := make([]Range, 0, len(parts))
	for _, part := range parts {
		r, err := Parse(part, now)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func splitAnd(phrase string) []string {
	re := regexp.MustCompile(`(?i)\s+and\s+`)
	parts := re.Split(phrase, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{phrase}
	}
	return out
}

func invalidTimeExpression(phrase, reason string) error {
	return memerr.New(memerr.Invalid, "InvalidTimeExpression: %q (%s)", phrase, reason)
}

func dayRange(at time.Time) Range {
	start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	return Range{Start: start, End: start.AddDate(0, 0, 1)}
}

// weekStart returns the Monday 00:00 UTC on or before at, per spec
// §4.C5's explicit week-boundary rule.
func weekStart(at time.Time) time.Time {
	day := dayRange(at).Start
	offset := (int(day.Weekday()) + 6) % 7 // days since Monday
	return day.AddDate(0, 0, -offset)
}

func unitRange(now time.Time, rel, unit string, phrase string) (Range, error) {
	if rel == "next" {
		return Range{}, invalidTimeExpression(phrase, "future phrases are rejected for recall")
	}

	var start time.Time
	var advance func(time.Time) time.Time

	switch unit {
	case "week":
		thisWeek := weekStart(now)
		start = thisWeek
		if rel == "last" {
			start = thisWeek.AddDate(0, 0, -7)
		}
		advance = func(t time.Time) time.Time { return t.AddDate(0, 0, 7) }
	case "month":
		thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		start = thisMonth
		if rel == "last" {
			start = thisMonth.AddDate(0, -1, 0)
		}
		advance = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	case "year":
		thisYear := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		start = thisYear
		if rel == "last" {
			start = thisYear.AddDate(-1, 0, 0)
		}
		advance = func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }
	default:
		return Range{}, invalidTimeExpression(phrase, "unknown unit")
	}

	return Range{Start: start, End: advance(start)}, nil
}

func agoRange(now time.Time, m []string, phrase string) (Range, error) {
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return Range{}, invalidTimeExpression(phrase, "count must be a positive integer")
	}
	unit := strings.ToLower(m[2])

	var point time.Time
	var window time.Duration
	switch unit {
	case "minute":
		point = now.Add(-time.Duration(n) * time.Minute)
		window = time.Minute
	case "hour":
		point = now.Add(-time.Duration(n) * time.Hour)
		window = time.Hour
	case "day":
		point = now.AddDate(0, 0, -n)
		window = 24 * time.Hour
	case "week":
		point = now.AddDate(0, 0, -7*n)
		window = 7 * 24 * time.Hour
	case "month":
		point = now.AddDate(0, -n, 0)
		return monthWindow(point), nil
	case "year":
		point = now.AddDate(-n, 0, 0)
		return Range{
			Start: time.Date(point.Year(), time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(point.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC),
		}, nil
	default:
		return Range{}, invalidTimeExpression(phrase, "unknown unit")
	}

	start := point.Add(-window / 2)
	return Range{Start: start, End: start.Add(window)}, nil
}

func monthWindow(point time.Time) Range {
	start := time.Date(point.Year(), point.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Range{Start: start, End: start.AddDate(0, 1, 0)}
}

func monthRange(now time.Time, m []string, phrase string) (Range, error) {
	month := monthNames[strings.ToLower(m[1])]
	year := now.Year()
	if m[2] != "" {
		y, err := strconv.Atoi(m[2])
		if err != nil {
			return Range{}, invalidTimeExpression(phrase, "bad year")
		}
		year = y
	} else {
		candidate := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		if candidate.After(time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)) {
			year--
		}
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	if start.After(now) {
		return Range{}, invalidTimeExpression(phrase, "future phrases are rejected for recall")
	}
	return Range{Start: start, End: end}, nil
}

func weekdayRange(now time.Time, m []string, phrase string) (Range, error) {
	rel := strings.ToLower(m[1])
	target := dayNames[strings.ToLower(m[2])]

	today := dayRange(now).Start
	daysBack := (int(today.Weekday()) - int(target) + 7) % 7
	if rel == "last" && daysBack == 0 {
		daysBack = 7
	}
	resolved := today.AddDate(0, 0, -daysBack)
	return Range{Start: resolved, End: resolved.AddDate(0, 0, 1)}, nil
}

// seasonRange resolves "last/this/<bare> <season>" to the most recent
// past-or-current occurrence of that season's window, or, for "last",
// the occurrence before that. Northern-hemisphere boundaries are a
// fixed convention (spec §4.C5), not configurable.
func seasonRange(now time.Time, m []string, phrase string) (Range, error) {
	rel := strings.ToLower(m[1])
	if rel == "next" {
		return Range{}, invalidTimeExpression(phrase, "future phrases are rejected for recall")
	}
	season := strings.ToLower(m[2])

	windows := []Range{
		seasonWindow(now.Year()+1, season),
		seasonWindow(now.Year(), season),
		seasonWindow(now.Year()-1, season),
		seasonWindow(now.Year()-2, season),
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start.After(windows[j].Start) })

	var past []Range
	for _, w := range windows {
		if !w.Start.After(now) {
			past = append(past, w)
		}
	}
	if len(past) == 0 {
		return Range{}, invalidTimeExpression(phrase, "no past occurrence found")
	}

	current := past[0]
	inSeason := now.Before(current.End)
	if rel == "last" && inSeason {
		if len(past) < 2 {
			return Range{}, invalidTimeExpression(phrase, "no prior occurrence found")
		}
		return past[1], nil
	}
	return current, nil
}

// seasonWindow returns the [start, end) window for season anchored at
// year (winter's start falls in year and runs into year+1).
func seasonWindow(year int, season string) Range {
	if season == "winter" {
		start := time.Date(year, time.December, 1, 0, 0, 0, 0, time.UTC)
		return Range{Start: start, End: start.AddDate(0, 3, 0)}
	}
	bounds := northernSeasons[season]
	start := time.Date(year, bounds[0], 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, bounds[1], 1, 0, 0, 0, 0, time.UTC)
	return Range{Start: start, End: end}
}
