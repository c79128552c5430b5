package store

import (
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Filter narrows a query across recall, tag search, and iteration, per
// spec §4.C6's shared predicate surface. A zero Filter matches
// everything live.
type Filter struct {
	Tags      []string
	TagMode   TagMode
	Types     []memory.MemoryType
	Since     time.Time // zero means unbounded
	Until     time.Time // zero means unbounded
	Metadata  map[string]any
	Archived  *bool // nil means "live only"
}

func (f Filter) includeArchived() bool {
	return f.Archived != nil && *f.Archived
}

// matchesRow reports whether a row's loaded fields satisfy f, for the
// predicates that aren't pushed down into SQL (memory_type set,
// metadata equality) and so are checked in Go after the row is loaded.
func (f Filter) matchesRow(m *memory.Memory) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if m.MemoryType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for k, v := range f.Metadata {
		if got, ok := m.Metadata[k]; !ok || got != v {
			return false
		}
	}
	return true
}
