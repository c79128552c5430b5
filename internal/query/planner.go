// Package query implements the planner that dispatches the service's
// five public read operations (spec §4.C6): retrieve, recall,
// search_by_tag, exact_match, debug_retrieve.
package query

import (
	"context"
	"sort"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/embedclient"
	"github.com/fyrsmithlabs/memoryd/internal/memerr"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/internal/timeparse"
)

const defaultMaxK = 100

// Planner dispatches query operations against a store and embedder.
type Planner struct {
	store    *store.Store
	embedder embedclient.Embedder
	maxK     int
	now      func() time.Time // overridable reference instant, for testability
}

// New builds a Planner. maxK caps every operation's k (spec §4.C6,
// "all operations cap k at a configured maximum, default 100"); 0
// selects the default.
func New(s *store.Store, embedder embedclient.Embedder, maxK int) *Planner {
	if maxK <= 0 {
		maxK = defaultMaxK
	}
	return &Planner{store: s, embedder: embedder, maxK: maxK, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the reference instant used by Recall, for
// deterministic tests.
func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

func (p *Planner) capK(k int) int {
	if k <= 0 || k > p.maxK {
		return p.maxK
	}
	return k
}

// Retrieve runs semantic k-NN search over query_text (spec's
// retrieve()).
func (p *Planner) Retrieve(ctx context.Context, queryText string, k int, minScore *float64, filter store.Filter) ([]store.Match, error) {
	vec, err := p.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	matches, err := p.store.KNN(ctx, vec, p.capK(k), filter)
	if err != nil {
		return nil, err
	}
	return applyMinScore(matches, minScore), nil
}

// Recall is spec's recall(): parse phrase for a time fragment; if
// non-time words remain, embed the residual and filter knn by the
// resolved range; otherwise return the most recent memories in range,
// ordered by created_at descending.
func (p *Planner) Recall(ctx context.Context, phrase string, k int, filter store.Filter) ([]store.Match, error) {
	rng, residual, ok := timeparse.Extract(phrase, p.now())
	if !ok {
		return nil, memerr.New(memerr.Invalid, "InvalidTimeExpression: %q", phrase)
	}

	filter.Since = rng.Start
	filter.Until = rng.End
	k = p.capK(k)

	if residual == "" {
		var out []store.Match
		err := p.store.Iter(ctx, filter, func(m *memory.Memory) bool {
			out = append(out, store.Match{Memory: m, Score: 1})
			return true
		})
		if err != nil {
			return nil, err
		}
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Memory.CreatedAt.After(out[j].Memory.CreatedAt)
		})
		if len(out) > k {
			out = out[:k]
		}
		return out, nil
	}

	vec, err := p.embedder.Embed(ctx, residual)
	if err != nil {
		return nil, err
	}
	return p.store.KNN(ctx, vec, k, filter)
}

// SearchByTag is spec's search_by_tag(): pure tag lookup, ordered by
// updated_at descending.
func (p *Planner) SearchByTag(ctx context.Context, tags []string, mode store.TagMode, filter store.Filter) ([]*memory.Memory, error) {
	if mode == "" {
		mode = store.TagAny
	}
	filter.Tags = tags
	filter.TagMode = mode

	var out []*memory.Memory
	err := p.store.Iter(ctx, filter, func(m *memory.Memory) bool {
		out = append(out, m)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// ExactMatch is spec's exact_match(): hashes text and looks it up
// directly, bypassing embedding entirely.
func (p *Planner) ExactMatch(ctx context.Context, text string) (*memory.Memory, error) {
	hash, err := memory.ContentHash(text)
	if err != nil {
		return nil, err
	}
	return p.store.ExactMatch(ctx, hash)
}

// DebugResult is debug_retrieve's output: the same ranking as
// Retrieve plus the raw query embedding prefix for diagnosis.
type DebugResult struct {
	Matches       []store.Match
	EmbeddingHead []float32 // first 8 components of the query embedding
}

// DebugRetrieve is spec's debug_retrieve(): same as retrieve but
// surfaces raw cosine scores and the query embedding's head.
func (p *Planner) DebugRetrieve(ctx context.Context, queryText string, k int) (DebugResult, error) {
	vec, err := p.embedder.Embed(ctx, queryText)
	if err != nil {
		return DebugResult{}, err
	}
	matches, err := p.store.KNN(ctx, vec, p.capK(k), store.Filter{})
	if err != nil {
		return DebugResult{}, err
	}
	head := vec
	if len(head) > 8 {
		head = head[:8]
	}
	return DebugResult{Matches: matches, EmbeddingHead: head}, nil
}

func applyMinScore(matches []store.Match, minScore *float64) []store.Match {
	if minScore == nil {
		return matches
	}
	out := matches[:0]
	for _, m := range matches {
		if m.Score >= *minScore {
			out = append(out, m)
		}
	}
	return out
}
