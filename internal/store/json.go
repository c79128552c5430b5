package store

import (
	"encoding/json"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
)

func encodeTags(tags []string) (string, error) {
	b, err := json.Marshal(tags)
	if err != nil {
		return "", memerr.Wrap(memerr.Invalid, err, "encoding tags")
	}
	return string(b), nil
}

func decodeTags(s string) ([]string, error) {
	var tags []string
	if s == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, memerr.Wrap(memerr.Corruption, err, "decoding tags_json")
	}
	return tags, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", memerr.Wrap(memerr.Invalid, err, "encoding metadata")
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	m := map[string]any{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, memerr.Wrap(memerr.Corruption, err, "decoding metadata_json")
	}
	return m, nil
}

// mergeTags returns the union of a and b, preserving a's order then
// appending new tags from b (order is not significant per spec §3,
// but deterministic output makes tests easier to write).
func mergeTags(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range a {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// mergeMetadata shallow-merges b into a, with b winning on key
// collision, per spec §4.C3's store() dedup rule.
func mergeMetadata(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
