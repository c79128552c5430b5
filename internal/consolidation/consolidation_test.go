package consolidation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// fixedEmbedder returns one of a small set of fixed vectors keyed by
// content prefix, so tests can control which memories cluster
// together deterministically.
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (f fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func newTestEngine(t *testing.T, embedder fixedEmbedder) (*Engine, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), store.Config{
		Path:      filepath.Join(dir, "memory.db"),
		Dimension: 3,
	}, embedder, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, nil, nil, Config{}), s
}

func TestRunDecay_ScoresEveryLiveMemory(t *testing.T) {
	e, s := newTestEngine(t, fixedEmbedder{})
	ctx := context.Background()

	_, _, err := s.Store(ctx, store.Input{Content: "critical one", Metadata: map[string]any{memory.MetaRetentionClass: "critical"}})
	require.NoError(t, err)
	_, _, err = s.Store(ctx, store.Input{Content: "temporary one", Metadata: map[string]any{memory.MetaRetentionClass: "temporary"}})
	require.NoError(t, err)

	fixedNow := time.Now().Add(40 * 24 * time.Hour) // well past temporary's 7-day tau
	e.WithClock(func() time.Time { return fixedNow })

	stats, err := e.RunDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scored)

	critical, err := s.GetByHash(ctx, hashOf(t, ctx, s, "critical one"))
	require.NoError(t, err)
	temporary, err := s.GetByHash(ctx, hashOf(t, ctx, s, "temporary one"))
	require.NoError(t, err)

	assert.Greater(t, critical.RelevanceScore, temporary.RelevanceScore)
}

func hashOf(t *testing.T, ctx context.Context, s *store.Store, content string) string {
	t.Helper()
	hash, err := memory.ContentHash(content)
	require.NoError(t, err)
	_, err = s.GetByHash(ctx, hash)
	require.NoError(t, err)
	return hash
}

func TestRunAssociationDiscovery_EmitsCreativeAndSemantic(t *testing.T) {
	embedder := fixedEmbedder{vectors: map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0.9, 0.1, 0}, // high cosine similarity -> semantic
		"gamma": {0.5, 0.5, 0}, // moderate similarity -> creative band candidate
	}}
	e, s := newTestEngine(t, embedder)
	ctx := context.Background()

	for content := range embedder.vectors {
		_, _, err := s.Store(ctx, store.Input{Content: content})
		require.NoError(t, err)
	}

	stats, err := e.RunAssociationDiscovery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Sampled)
	assert.GreaterOrEqual(t, stats.Semantic+stats.Creative, 1)
}

func TestRunClusteringAndCompression_ProducesSummary(t *testing.T) {
	vectors := map[string][]float32{}
	for i := 0; i < 6; i++ {
		vectors[contentFor(i)] = []float32{1, 0, 0}
	}
	embedder := fixedEmbedder{vectors: vectors}
	e, s := newTestEngine(t, embedder)
	e.cfg.ClusterMinSize = 5
	e.cfg.ClusterTargetNeighborhood = 3
	ctx := context.Background()

	for content := range vectors {
		_, _, err := s.Store(ctx, store.Input{Content: content})
		require.NoError(t, err)
	}

	clusterStats, err := e.RunClustering(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, clusterStats.Clusters, 1)

	compressStats, err := e.RunCompression(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, compressStats.Summarized, 1)

	var sawCompressed bool
	err = s.Iter(ctx, store.Filter{Types: []memory.MemoryType{memory.TypeCompressed}}, func(m *memory.Memory) bool {
		sawCompressed = true
		assert.Contains(t, m.Content, "[cluster")
		return true
	})
	require.NoError(t, err)
	assert.True(t, sawCompressed)
}

func contentFor(i int) string {
	return "clustered memory " + string(rune('a'+i))
}

func TestRunForgetting_ArchivesLowRelevanceInactiveMemories(t *testing.T) {
	e, s := newTestEngine(t, fixedEmbedder{})
	ctx := context.Background()

	hash, _, err := s.Store(ctx, store.Input{Content: "stale note"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateRelevanceScores(ctx, map[int64]float64{mustRowID(t, ctx, s, hash): 0.01}))

	farFuture := time.Now().Add(200 * 24 * time.Hour)
	e.WithClock(func() time.Time { return farFuture })

	stats, err := e.RunForgetting(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived)

	_, err = s.GetByHash(ctx, hash)
	assert.Error(t, err)
}

func mustRowID(t *testing.T, ctx context.Context, s *store.Store, hash string) int64 {
	t.Helper()
	m, err := s.GetByHash(ctx, hash)
	require.NoError(t, err)
	return m.RowID
}

func TestRunHorizon_PublishesConsolidationRunEvent(t *testing.T) {
	e, _ := newTestEngine(t, fixedEmbedder{})
	ctx := context.Background()

	state, counts, err := e.RunHorizon(ctx, HorizonDaily)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
	assert.Contains(t, counts, "scored")
}
