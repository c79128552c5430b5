// Package scheduler runs the five consolidation horizons (spec
// §4.C11) on their cron schedules, catching up a missed horizon once
// at startup and serializing re-entrant runs of the same horizon.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

type horizonSpec struct {
	expr   string
	period time.Duration
}

// specs pins each horizon to a standard 5-field cron expression and
// the period used for the missed-window catch-up check.
var specs = map[consolidation.Horizon]horizonSpec{
	consolidation.HorizonDaily:     {"0 3 * * *", 24 * time.Hour},
	consolidation.HorizonWeekly:    {"0 4 * * 0", 7 * 24 * time.Hour},
	consolidation.HorizonMonthly:   {"0 5 1 * *", 30 * 24 * time.Hour},
	consolidation.HorizonQuarterly: {"0 6 1 1,4,7,10 *", 90 * 24 * time.Hour},
	consolidation.HorizonYearly:    {"0 7 1 1 *", 365 * 24 * time.Hour},
}

// Scheduler drives consolidation.Engine.RunHorizon on cron.
type Scheduler struct {
	cron   *cron.Cron
	store  *store.Store
	engine *consolidation.Engine
	logger *zap.Logger
	locks  map[consolidation.Horizon]*sync.Mutex
	now    func() time.Time
	specs  map[consolidation.Horizon]horizonSpec
}

// New builds a Scheduler using the default cron expressions. logger
// may be nil.
func New(s *store.Store, engine *consolidation.Engine, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := make(map[consolidation.Horizon]*sync.Mutex, len(specs))
	for h := range specs {
		locks[h] = &sync.Mutex{}
	}
	return &Scheduler{
		cron:   cron.New(),
		store:  s,
		engine: engine,
		logger: logger,
		locks:  locks,
		now:    func() time.Time { return time.Now().UTC() },
		specs:  specs,
	}
}

// WithClock overrides the reference instant, for deterministic tests.
func (sch *Scheduler) WithClock(now func() time.Time) *Scheduler {
	sch.now = now
	return sch
}

// WithSchedule overrides the cron expression for a single horizon
// (operator-configured via the consolidation.schedule_* settings).
// The missed-window catch-up period is left at its default for that
// horizon.
func (sch *Scheduler) WithSchedule(horizon consolidation.Horizon, expr string) *Scheduler {
	if expr == "" {
		return sch
	}
	spec := sch.specs[horizon]
	spec.expr = expr
	if spec.period == 0 {
		spec.period = specs[horizon].period
	}
	cloned := make(map[consolidation.Horizon]horizonSpec, len(sch.specs))
	for h, s := range sch.specs {
		cloned[h] = s
	}
	cloned[horizon] = spec
	sch.specs = cloned
	return sch
}

// Start registers every horizon's cron entry, running any horizon
// whose period has fully elapsed since its last recorded run (or that
// has never run) once immediately before starting the cron loop.
func (sch *Scheduler) Start(ctx context.Context) error {
	for horizon, spec := range sch.specs {
		lastRun, ok, err := sch.store.LastRun(ctx, string(horizon))
		if err != nil {
			return err
		}
		if !ok || sch.now().Sub(lastRun) > spec.period {
			sch.logger.Info("running missed consolidation horizon at startup",
				zap.String("horizon", string(horizon)))
			sch.runHorizon(ctx, horizon)
		}

		h := horizon
		if err := sch.cron.AddFunc(spec.expr, func() { sch.runHorizon(context.Background(), h) }); err != nil {
			return err
		}
	}

	sch.cron.Start()
	return nil
}

// Stop halts the cron loop. In-flight horizon runs complete on their
// own; Stop does not interrupt them.
func (sch *Scheduler) Stop() {
	sch.cron.Stop()
}

// runHorizon serializes re-entrant runs of the same horizon: if a
// prior run of this horizon is still in flight (cron fired again
// before it finished, or the startup catch-up overlapped a cron
// tick), the new run is skipped rather than queued, since
// consolidation passes are idempotent snapshots of current state
// and a queued rerun adds no information.
func (sch *Scheduler) runHorizon(ctx context.Context, horizon consolidation.Horizon) {
	lock := sch.locks[horizon]
	if !lock.TryLock() {
		sch.logger.Warn("skipping consolidation horizon already in progress",
			zap.String("horizon", string(horizon)))
		return
	}
	defer lock.Unlock()

	_, counts, err := sch.engine.RunHorizon(ctx, horizon)
	if err != nil {
		sch.logger.Error("consolidation horizon failed",
			zap.String("horizon", string(horizon)), zap.Error(err))
		return
	}

	if err := sch.store.RecordRun(ctx, string(horizon), sch.now()); err != nil {
		sch.logger.Error("failed to record schedule state",
			zap.String("horizon", string(horizon)), zap.Error(err))
		return
	}

	fields := make([]zap.Field, 0, len(counts)+1)
	fields = append(fields, zap.String("horizon", string(horizon)))
	for k, v := range counts {
		fields = append(fields, zap.Int(k, v))
	}
	sch.logger.Info("consolidation horizon complete", fields...)
}
