package store

import (
	"context"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Match is one result of a KNN query: the memory plus its similarity
// score normalized to [0,1] per spec §4.C3.
type Match struct {
	Memory *memory.Memory
	Score  float64
}

// KNN returns the top k live memories by cosine similarity to query,
// restricted to rows matching f. Scanning is brute force over the
// process-local ANN cache (see ann.go); filtering happens before
// ranking so k always returns the k best matches among eligible rows,
// never k best-overall then filtered down.
func (s *Store) KNN(ctx context.Context, query []float32, k int, f Filter) ([]Match, error) {
	if len(query) != s.cfg.Dimension {
		return nil, memerr.New(memerr.Invalid, "query vector dimension %d does not match store dimension %d", len(query), s.cfg.Dimension)
	}
	if k <= 0 {
		return nil, memerr.New(memerr.Invalid, "k must be positive")
	}

	var tagRowIDs map[int64]bool
	if len(f.Tags) > 0 {
		var err error
		tagRowIDs, err = rowIDsForTags(ctx, s.db, f.Tags, f.TagMode)
		if err != nil {
			return nil, err
		}
	}

	eligible := make(map[int64]*memory.Memory)
	err := s.Iter(ctx, Filter{Since: f.Since, Until: f.Until, Types: f.Types, Metadata: f.Metadata, Archived: f.Archived}, func(m *memory.Memory) bool {
		if tagRowIDs != nil && !tagRowIDs[m.RowID] {
			return true
		}
		eligible[m.RowID] = m
		return true
	})
	if err != nil {
		return nil, err
	}

	scored := s.ann.scan(query, k, func(rowID int64) bool {
		_, ok := eligible[rowID]
		return ok
	})

	out := make([]Match, 0, len(scored))
	for _, sc := range scored {
		out = append(out, Match{Memory: eligible[sc.rowID], Score: NormalizedScore(sc.score)})
	}
	return out, nil
}
