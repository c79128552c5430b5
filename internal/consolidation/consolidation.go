// Package consolidation implements the autonomous consolidation engine
// (spec §4.C8): scheduled passes that age memories by exponential
// decay, discover associations, cluster embeddings, compress clusters
// into summaries, and archive memories that have fallen below the
// relevance floor — without ever calling delete.
package consolidation

import (
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/changebus"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"go.uber.org/zap"
)

// Config tunes every pass, surfaced at the wire boundary as the
// options table in spec §6.
type Config struct {
	RetentionDays               map[memory.RetentionClass]int
	AssociationWindow           [2]float64
	AssociationSampleCap        int
	AssociationCandidatePoolCap int
	ClusterMinSize              int
	ClusterTargetNeighborhood   int
	ForgetThreshold             float64
	ForgetInactivityDays        int
}

func (c Config) withDefaults() Config {
	if c.RetentionDays == nil {
		c.RetentionDays = map[memory.RetentionClass]int{
			memory.RetentionCritical:  365,
			memory.RetentionReference: 180,
			memory.RetentionStandard:  30,
			memory.RetentionTemporary: 7,
		}
	}
	if c.AssociationWindow == ([2]float64{}) {
		c.AssociationWindow = [2]float64{0.3, 0.7}
	}
	if c.AssociationSampleCap <= 0 {
		c.AssociationSampleCap = 2000
	}
	if c.AssociationCandidatePoolCap <= 0 {
		c.AssociationCandidatePoolCap = 500
	}
	if c.ClusterMinSize <= 0 {
		c.ClusterMinSize = 5
	}
	if c.ClusterTargetNeighborhood <= 0 {
		c.ClusterTargetNeighborhood = 8
	}
	if c.ForgetThreshold <= 0 {
		c.ForgetThreshold = 0.1
	}
	if c.ForgetInactivityDays <= 0 {
		c.ForgetInactivityDays = 90
	}
	return c
}

// Engine runs the consolidation passes against a store.
type Engine struct {
	store  *store.Store
	bus    *changebus.Bus
	logger *zap.Logger
	cfg    Config
	now    func() time.Time
}

// New builds an Engine. bus may be nil if consolidation events aren't
// needed by the caller (e.g. a one-shot CLI repair run).
func New(s *store.Store, bus *changebus.Bus, logger *zap.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: s, bus: bus, logger: logger, cfg: cfg.withDefaults(), now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the reference instant, for deterministic tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) tau(class memory.RetentionClass) float64 {
	if days, ok := e.cfg.RetentionDays[class]; ok {
		return float64(days)
	}
	return float64(e.cfg.RetentionDays[memory.RetentionStandard])
}
