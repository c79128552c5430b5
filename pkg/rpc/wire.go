package rpc

import (
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// WireMemory is the wire representation of a memory.Memory. RowID and
// the raw embedding are internal identity/storage details and never
// cross the interface boundary (spec §3: ContentHash is the public
// identity).
type WireMemory struct {
	ContentHash    string         `json:"content_hash"`
	Content        string         `json:"content"`
	Tags           []string       `json:"tags"`
	MemoryType     string         `json:"memory_type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	RelevanceScore float64        `json:"relevance_score"`
	Archived       bool           `json:"archived"`
}

func toWireMemory(m *memory.Memory) WireMemory {
	return WireMemory{
		ContentHash:    m.ContentHash,
		Content:        m.Content,
		Tags:           m.Tags,
		MemoryType:     string(m.MemoryType),
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		LastAccessedAt: m.LastAccessedAt,
		RelevanceScore: m.RelevanceScore,
		Archived:       m.Archived,
	}
}

// WireMatch is a scored search result.
type WireMatch struct {
	Memory WireMemory `json:"memory"`
	Score  float64    `json:"score"`
}

func toWireMatches(matches []store.Match) []WireMatch {
	out := make([]WireMatch, len(matches))
	for i, m := range matches {
		out[i] = WireMatch{Memory: toWireMemory(m.Memory), Score: m.Score}
	}
	return out
}

// WireFilter is the wire form of store.Filter. A zero value matches
// every live memory (spec §4.C6's shared predicate surface).
type WireFilter struct {
	Tags     []string       `json:"tags,omitempty"`
	TagMode  string         `json:"tag_mode,omitempty"` // "ANY" (default) or "ALL"
	Types    []string       `json:"types,omitempty"`
	Since    *time.Time     `json:"since,omitempty"`
	Until    *time.Time     `json:"until,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Archived *bool          `json:"archived,omitempty"`
}

func (f WireFilter) toStoreFilter() store.Filter {
	sf := store.Filter{
		Tags:     f.Tags,
		TagMode:  store.TagAny,
		Metadata: f.Metadata,
		Archived: f.Archived,
	}
	if f.TagMode == string(store.TagAll) {
		sf.TagMode = store.TagAll
	}
	for _, t := range f.Types {
		sf.Types = append(sf.Types, memory.MemoryType(t))
	}
	if f.Since != nil {
		sf.Since = *f.Since
	}
	if f.Until != nil {
		sf.Until = *f.Until
	}
	return sf
}
