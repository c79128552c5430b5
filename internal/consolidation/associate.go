package consolidation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// AssociationStats summarizes a weekly association-discovery pass.
type AssociationStats struct {
	Sampled  int
	Creative int
	Semantic int
}

// RunAssociationDiscovery implements spec §4.C8's weekly pass: for a
// capped sample of recently modified live memories, rank each against
// an ANN-bounded candidate pool and emit Association rows for pairs
// whose similarity falls in the creative or semantic band, skipping
// pairs already linked.
func (e *Engine) RunAssociationDiscovery(ctx context.Context) (AssociationStats, error) {
	var stats AssociationStats

	since := e.now().Add(-30 * 24 * time.Hour)
	sample, err := e.store.LiveMemoriesModifiedSince(ctx, since, e.cfg.AssociationSampleCap)
	if err != nil {
		return stats, err
	}
	stats.Sampled = len(sample)

	for _, a := range sample {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if len(a.Embedding) == 0 {
			continue
		}
		matches, err := e.store.KNN(ctx, a.Embedding, e.cfg.AssociationCandidatePoolCap, store.Filter{})
		if err != nil {
			return stats, err
		}
		for _, match := range matches {
			b := match.Memory
			if b.ContentHash == a.ContentHash {
				continue
			}
			sim := rawCosine(match.Score)
			kind, ok := associationKind(sim, e.cfg.AssociationWindow)
			if !ok {
				continue
			}

			exists, err := e.store.AssociationExists(ctx, a.ContentHash, b.ContentHash)
			if err != nil {
				return stats, err
			}
			if exists {
				continue
			}

			assoc := &memory.Association{
				ID:           uuid.NewString(),
				AHash:        a.ContentHash,
				BHash:        b.ContentHash,
				Similarity:   sim,
				DiscoveredAt: e.now(),
				Kind:         kind,
			}
			if err := e.store.InsertAssociation(ctx, assoc); err != nil {
				return stats, err
			}
			if kind == memory.AssociationCreative {
				stats.Creative++
			} else {
				stats.Semantic++
			}
		}
	}

	return stats, nil
}

// rawCosine recovers the raw cosine similarity in [-1,1] from the
// store's client-facing normalized score in [0,1].
func rawCosine(normalized float64) float64 {
	return 2*normalized - 1
}

// associationKind classifies sim per spec §4.C8: semantic wins the
// 0.7 boundary so a pair is never double-counted.
func associationKind(sim float64, window [2]float64) (memory.AssociationKind, bool) {
	if sim >= window[1] {
		return memory.AssociationSemantic, true
	}
	if sim >= window[0] {
		return memory.AssociationCreative, true
	}
	return "", false
}
