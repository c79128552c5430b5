package consolidation

import (
	"context"
	"math"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// DecayStats summarizes a daily decay pass.
type DecayStats struct {
	Scored int
}

// RunDecay recomputes relevance_score for every live memory (spec
// §4.C8's daily pass):
//
//	relevance_score = base(type) * exp(-age_days/tau(class)) * (1+access_bonus)
func (e *Engine) RunDecay(ctx context.Context) (DecayStats, error) {
	var stats DecayStats

	now := e.now()
	accessWindow := now.Add(-30 * 24 * time.Hour)
	accessCounts, err := e.store.AccessCountsSince(ctx, accessWindow)
	if err != nil {
		return stats, err
	}

	scores := make(map[int64]float64)
	err = e.store.Iter(ctx, store.Filter{}, func(m *memory.Memory) bool {
		ageDays := now.Sub(m.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		tau := e.tau(m.RetentionClassOf())
		base := baseByType(m.MemoryType)
		bonus := accessBonus(accessCounts[m.RowID])

		score := base * math.Exp(-ageDays/tau) * (1 + bonus)
		scores[m.RowID] = clamp01(score)
		stats.Scored++
		return true
	})
	if err != nil {
		return stats, err
	}

	if err := e.store.UpdateRelevanceScores(ctx, scores); err != nil {
		return stats, err
	}
	return stats, nil
}

func baseByType(t memory.MemoryType) float64 {
	if t == memory.TypeCompressed {
		return 0.7
	}
	return 1.0
}

func accessBonus(accesses int) float64 {
	bonus := math.Log10(1+float64(accesses)) / 2
	if bonus > 0.5 {
		bonus = 0.5
	}
	return bonus
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
