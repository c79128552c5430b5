package consolidation

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// ForgetStats summarizes a quarterly/yearly controlled-forgetting pass.
type ForgetStats struct {
	Considered int
	Archived   int
}

// RunForgetting implements spec §4.C8's controlled forgetting: a
// memory is archived iff its relevance_score has decayed below the
// threshold, it has been inactive past the inactivity window, its
// retention class isn't critical, and it isn't a live summary's
// consolidated_from parent. Archival is soft (Store.Archive) and
// never calls delete.
func (e *Engine) RunForgetting(ctx context.Context) (ForgetStats, error) {
	var stats ForgetStats

	cutoff := e.now().Add(-time.Duration(e.cfg.ForgetInactivityDays) * 24 * time.Hour)

	var eligible []*memory.Memory
	err := e.store.Iter(ctx, store.Filter{}, func(m *memory.Memory) bool {
		stats.Considered++
		if m.RelevanceScore >= e.cfg.ForgetThreshold {
			return true
		}
		if !m.LastAccessedAt.Before(cutoff) {
			return true
		}
		if m.RetentionClassOf() == memory.RetentionCritical {
			return true
		}
		eligible = append(eligible, m)
		return true
	})
	if err != nil {
		return stats, err
	}

	for _, m := range eligible {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		isParent, err := e.store.HasLiveSummaryConsolidatedFrom(ctx, m.ContentHash)
		if err != nil {
			return stats, err
		}
		if isParent {
			continue
		}
		if err := e.store.Archive(ctx, m.ContentHash); err != nil {
			return stats, err
		}
		stats.Archived++
	}

	return stats, nil
}
