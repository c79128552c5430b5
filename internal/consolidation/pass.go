package consolidation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/changebus"
)

// State is a consolidation pass's position in its state machine
// (spec §4.C8): Idle → Scanning → Computing → Writing → Idle.
type State string

const (
	StateIdle      State = "idle"
	StateScanning  State = "scanning"
	StateComputing State = "computing"
	StateWriting   State = "writing"
)

// Horizon names one of the five scheduled pass types (spec §4.C11).
type Horizon string

const (
	HorizonDaily     Horizon = "daily"
	HorizonWeekly    Horizon = "weekly"
	HorizonMonthly   Horizon = "monthly"
	HorizonQuarterly Horizon = "quarterly"
	HorizonYearly    Horizon = "yearly"
)

// RunHorizon runs the pass associated with horizon, publishing a
// ConsolidationRun event with the outcome. Scanning/Computing errors
// leave the store untouched (no writes were ever attempted, since
// each run* method only writes after loading in memory); Writing
// errors abort cleanly because every write path is already
// transactional. A panic inside a pass is recovered, logged, and
// surfaced as a ConsolidationError event — grounded on the teacher's
// safeRunConsolidation panic-recovery wrapper — so one bad pass never
// takes down the scheduler.
func (e *Engine) RunHorizon(ctx context.Context, horizon Horizon) (state State, counts map[string]int, runErr error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("consolidation pass %s panicked: %v", horizon, r)
			e.logger.Error("consolidation pass panicked, recovering",
				zap.String("horizon", string(horizon)), zap.Any("panic", r))
		}
		status := "ok"
		if runErr != nil {
			status = "failed"
			e.logger.Error("consolidation pass failed",
				zap.String("horizon", string(horizon)), zap.Error(runErr), zap.Duration("duration", time.Since(start)))
		}
		if e.bus != nil {
			e.bus.Publish(changebus.Event{
				Type:   changebus.ConsolidationRun,
				Pass:   string(horizon),
				Counts: counts,
				Status: status,
			})
		}
	}()

	counts = map[string]int{}

	switch horizon {
	case HorizonDaily:
		stats, err := e.RunDecay(ctx)
		if err != nil {
			return StateIdle, counts, err
		}
		counts["scored"] = stats.Scored

	case HorizonWeekly:
		stats, err := e.RunAssociationDiscovery(ctx)
		if err != nil {
			return StateIdle, counts, err
		}
		counts["sampled"] = stats.Sampled
		counts["creative_associations"] = stats.Creative
		counts["semantic_associations"] = stats.Semantic

	case HorizonMonthly:
		clusterStats, err := e.RunClustering(ctx)
		if err != nil {
			return StateIdle, counts, err
		}
		counts["clusters"] = clusterStats.Clusters
		counts["noise_points"] = clusterStats.Noise
		counts["superseded_clusters"] = clusterStats.Superseded

		compressStats, err := e.RunCompression(ctx)
		if err != nil {
			return StateIdle, counts, err
		}
		counts["summarized_clusters"] = compressStats.Summarized

	case HorizonQuarterly, HorizonYearly:
		stats, err := e.RunForgetting(ctx)
		if err != nil {
			return StateIdle, counts, err
		}
		counts["considered"] = stats.Considered
		counts["archived"] = stats.Archived

	default:
		return StateIdle, counts, fmt.Errorf("unknown consolidation horizon %q", horizon)
	}

	return StateIdle, counts, nil
}
