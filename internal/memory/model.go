// Package memory defines the primary record types of the store:
// Memory, Association, Cluster, and CompressedSummary, plus the
// content-hashing rule that gives every memory its stable identity.
package memory

import (
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
)

// MemoryType classifies a memory. Anything outside the fixed set is
// carried as Other with the free-form suffix preserved.
type MemoryType string

const (
	TypeNote       MemoryType = "note"
	TypeDecision   MemoryType = "decision"
	TypeTask       MemoryType = "task"
	TypeReference  MemoryType = "reference"
	TypeSession    MemoryType = "session"
	TypeCompressed MemoryType = "compressed"
)

// IsOther reports whether t is a free-form "other:<string>" type.
func (t MemoryType) IsOther() bool {
	return len(t) > 6 && t[:6] == "other:"
}

// RetentionClass controls the decay time constant applied during
// consolidation's daily pass.
type RetentionClass string

const (
	RetentionCritical  RetentionClass = "critical"
	RetentionReference RetentionClass = "reference"
	RetentionStandard  RetentionClass = "standard"
	RetentionTemporary RetentionClass = "temporary"
)

const (
	MaxTagLen     = 128
	MaxTagsPerRow = 64
)

// Reserved metadata keys, documented in spec §3.
const (
	MetaHostname         = "hostname"
	MetaSourceMachine    = "source_machine"
	MetaConsolidatedFrom = "consolidated_from"
	MetaClusterID        = "cluster_id"
	MetaRetentionClass   = "retention_class"
)

// Memory is the primary record. RowID is the synthetic integer key
// shared with the embeddings table; it is assigned by the store on
// insert and is never exposed at the wire boundary (ContentHash is).
type Memory struct {
	RowID          int64
	ContentHash    string
	Content        string
	Tags           []string
	MemoryType     MemoryType
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
	Embedding      []float32
	RelevanceScore float64
	Archived       bool
}

// RetentionClassOf reads the retention_class metadata key, defaulting
// to standard per spec §3.
func (m *Memory) RetentionClassOf() RetentionClass {
	if v, ok := m.Metadata[MetaRetentionClass]; ok {
		if s, ok := v.(string); ok && s != "" {
			return RetentionClass(s)
		}
	}
	return RetentionStandard
}

// HasTag reports whether t is present, case-sensitively.
func (m *Memory) HasTag(t string) bool {
	for _, tag := range m.Tags {
		if tag == t {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants from spec §3 that don't
// require a database round trip (tag length/count, non-empty content).
func (m *Memory) Validate() error {
	if m.Content == "" {
		return memerr.New(memerr.Invalid, "content must not be empty")
	}
	if len(m.Tags) > MaxTagsPerRow {
		return memerr.New(memerr.Invalid, "too many tags: %d > %d", len(m.Tags), MaxTagsPerRow)
	}
	for _, t := range m.Tags {
		if len(t) > MaxTagLen {
			return memerr.New(memerr.Invalid, "tag %q exceeds max length %d", t, MaxTagLen)
		}
		for _, r := range t {
			if r == ',' {
				return memerr.New(memerr.Invalid, "tag %q must not contain a comma", t)
			}
		}
	}
	if m.MemoryType == "" {
		m.MemoryType = TypeNote
	}
	return nil
}

// Association is a directed edge discovered during the weekly
// consolidation pass.
type Association struct {
	ID           string
	AHash        string
	BHash        string
	Similarity   float64
	DiscoveredAt time.Time
	Kind         AssociationKind
}

type AssociationKind string

const (
	AssociationCreative AssociationKind = "creative"
	AssociationSemantic AssociationKind = "semantic"
)

// Cluster is a density-based grouping of embeddings produced by the
// monthly consolidation pass.
type Cluster struct {
	ID            string
	Members       []string // content hashes
	Centroid      []float32
	CreatedAt     time.Time
	LastRebuiltAt time.Time
	Superseded    bool
}
