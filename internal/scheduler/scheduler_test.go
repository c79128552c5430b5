package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), store.Config{
		Path:      filepath.Join(dir, "memory.db"),
		Dimension: 3,
	}, stubEmbedder{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	engine := consolidation.New(s, nil, nil, consolidation.Config{})
	return New(s, engine, nil), s
}

func TestStart_CatchesUpHorizonNeverRun(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, sch.Start(ctx))
	defer sch.Stop()

	_, ok, err := s.LastRun(ctx, string(consolidation.HorizonDaily))
	require.NoError(t, err)
	assert.True(t, ok, "daily horizon should have been caught up at startup")
}

func TestStart_SkipsCatchUpWhenRecentlyRun(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	recent := time.Now().UTC()
	require.NoError(t, s.RecordRun(ctx, string(consolidation.HorizonYearly), recent))

	require.NoError(t, sch.Start(ctx))
	defer sch.Stop()

	lastRun, ok, err := s.LastRun(ctx, string(consolidation.HorizonYearly))
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, recent, lastRun, time.Second,
		"a horizon recorded moments ago should not be re-run by the catch-up check")
}

func TestRunHorizon_SkipsReentrantRun(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	lock := sch.locks[consolidation.HorizonDaily]
	lock.Lock()
	sch.runHorizon(ctx, consolidation.HorizonDaily)
	lock.Unlock()

	_, ok, err := s.LastRun(ctx, string(consolidation.HorizonDaily))
	require.NoError(t, err)
	assert.False(t, ok, "a run skipped due to re-entrancy must not record schedule state")
}
