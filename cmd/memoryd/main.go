// Memoryd is a semantic memory daemon: content-addressed storage,
// vector recall, tag search, and autonomous consolidation, served over
// the transport-agnostic request protocol (pkg/rpc) via stdio and,
// optionally, HTTP.
//
// Configuration is loaded from a YAML file layered under environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	memoryd
//
//	# Configure via environment
//	SERVER_HTTP_ENABLED=true STORE_PATH=/var/lib/memoryd/memory.db memoryd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/memoryd/internal/changebus"
	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/embedclient"
	"github.com/fyrsmithlabs/memoryd/internal/health"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/opslog"
	"github.com/fyrsmithlabs/memoryd/internal/query"
	"github.com/fyrsmithlabs/memoryd/internal/scheduler"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/pkg/rpc"
	rpchttp "github.com/fyrsmithlabs/memoryd/pkg/rpc/http"
	"github.com/fyrsmithlabs/memoryd/pkg/rpc/stdio"
	"github.com/fyrsmithlabs/memoryd/pkg/secrets"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  memoryd           Start the memoryd daemon\n")
			fmt.Fprintf(os.Stderr, "  memoryd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("memoryd error: %v", err)
	}

	log.Println("memoryd shutdown complete")
}

func printVersion() {
	fmt.Printf("memoryd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run loads configuration, wires every dependency, starts the
// scheduler and both transports, and blocks until ctx is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize the structured logger
//  3. Initialize infrastructure dependencies (embedder, store, change
//     bus, health checker, ops log)
//  4. Run the startup health check
//  5. Wire the consolidation engine and scheduler
//  6. Wire the dispatcher and start both transports
//  7. Block until ctx is cancelled, then shut down in reverse order
func run(ctx context.Context) error {
	cfg, err := config.LoadWithFile("")
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting memoryd",
		zap.String("store_path", cfg.Store.Path),
		zap.Bool("http_enabled", cfg.Server.HTTPEnabled),
		zap.String("service", cfg.Observability.ServiceName))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	report, err := deps.checker.Check(ctx, true)
	if err != nil {
		return fmt.Errorf("startup health check: %w", err)
	}
	if rerr := deps.opslogw.RecordHealthRepair(report.OK, report.Issues, report.ActionsTaken); rerr != nil {
		logger.Warn("recording startup health check to ops log", zap.Error(rerr))
	}
	if !report.OK {
		logger.Warn("startup health check found issues",
			zap.Strings("issues", report.Issues),
			zap.Strings("actions_taken", report.ActionsTaken))
		if cfg.Health.Strict {
			return fmt.Errorf("startup health check failed and health.strict is set: %v", report.Issues)
		}
	}

	svcs, err := initServices(deps, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}

	stopOpslogBridge := bridgeConsolidationRunsToOpslog(deps.bus, deps.opslogw, logger)
	defer stopOpslogBridge()

	if err := svcs.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer svcs.scheduler.Stop()

	errCh := make(chan error, 2)

	go func() {
		stdioSrv := stdio.New(svcs.dispatcher, os.Stdin, os.Stdout, logger)
		if serr := stdioSrv.Run(ctx); serr != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("stdio transport: %w", serr)
		}
	}()

	if cfg.Server.HTTPEnabled {
		httpSrv := rpchttp.NewServer(cfg.Server, cfg.Observability.ServiceName, svcs.dispatcher)
		go func() {
			if herr := httpSrv.Start(ctx); herr != nil && herr != nethttp.ErrServerClosed {
				errCh <- fmt.Errorf("http transport: %w", herr)
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// initLogger builds the structured logger from the logging package's
// default config, adjusting level and format for whether telemetry
// (and therefore a less chatty, machine-readable format) is enabled.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	logCfg.Fields["service"] = cfg.Observability.ServiceName
	if !cfg.Observability.EnableTelemetry {
		logCfg.Format = "console"
		logCfg.Level = zapcore.DebugLevel
	}

	l, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, err
	}
	return l.Underlying(), nil
}

// dependencies holds the long-lived infrastructure every service is
// built on top of.
type dependencies struct {
	embedder  *embedclient.HTTPEmbedder
	store     *store.Store
	bus       *changebus.Bus
	forwarder *changebus.NATSForwarder
	checker   *health.Checker
	planner   *query.Planner
	opslogw   *opslog.Writer
}

// Close releases every dependency in reverse acquisition order.
func (d *dependencies) Close() {
	if d.opslogw != nil {
		if err := d.opslogw.Close(); err != nil {
			log.Printf("closing ops log: %v", err)
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Printf("closing store: %v", err)
		}
	}
	if d.forwarder != nil {
		d.forwarder.Close()
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	embedder, err := embedclient.New(embedclient.Config{
		BaseURL:    cfg.Embeddings.BaseURL,
		Model:      cfg.Embeddings.Model,
		APIKey:     cfg.Embeddings.APIKey.Value(),
		Dimension:  cfg.Embeddings.Dimension,
		CacheSize:  cfg.Embeddings.CacheSize,
		Timeout:    cfg.Embeddings.Timeout,
		Concurrent: cfg.Embeddings.Concurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("building embedding client: %w", err)
	}

	var forwarder *changebus.NATSForwarder
	var fwd changebus.Forwarder
	if cfg.ChangeBus.NATSURL != "" {
		forwarder, err = changebus.NewNATSForwarder(cfg.ChangeBus.NATSURL, cfg.ChangeBus.SubjectPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting change bus forwarder: %w", err)
		}
		fwd = forwarder
		logger.Info("change events forwarding to nats", zap.String("url", cfg.ChangeBus.NATSURL))
	}
	bus := changebus.New(logger, fwd)

	s, err := store.Open(ctx, store.Config{
		Path:             expandHome(cfg.Store.Path),
		Dimension:        cfg.Store.Dimension,
		MaxTagLen:        cfg.Store.MaxTagLen,
		MaxTagsPerMemory: cfg.Store.MaxTagsPerMemory,
		BusyTimeoutMS:    cfg.Store.BusyTimeoutMS,
		IncludeHostname:  cfg.Store.IncludeHostname,
	}, embedder, bus)
	if err != nil {
		if forwarder != nil {
			forwarder.Close()
		}
		return nil, fmt.Errorf("opening store at %s: %w", cfg.Store.Path, err)
	}

	checker := health.New(s, embedder, logger)
	planner := query.New(s, embedder, cfg.Query.MaxK)

	opslogw, err := opslog.New(expandHome(cfg.OpsLog.Path), cfg.OpsLog.MaxBytes, secrets.RedactOptions{
		UserPath: filepath.Join(filepath.Dir(expandHome(cfg.OpsLog.Path)), "secrets-allowlist.toml"),
	})
	if err != nil {
		_ = s.Close()
		if forwarder != nil {
			forwarder.Close()
		}
		return nil, fmt.Errorf("opening ops log at %s: %w", cfg.OpsLog.Path, err)
	}

	return &dependencies{
		embedder:  embedder,
		store:     s,
		bus:       bus,
		forwarder: forwarder,
		checker:   checker,
		planner:   planner,
		opslogw:   opslogw,
	}, nil
}

// services holds everything built on top of dependencies.
type services struct {
	engine     *consolidation.Engine
	scheduler  *scheduler.Scheduler
	dispatcher *rpc.Dispatcher
}

func initServices(deps *dependencies, cfg *config.Config, logger *zap.Logger) (*services, error) {
	consolidationCfg := consolidation.Config{
		RetentionDays: map[memory.RetentionClass]int{
			memory.RetentionCritical:  cfg.Consolidation.RetentionDaysCritical,
			memory.RetentionReference: cfg.Consolidation.RetentionDaysReference,
			memory.RetentionStandard:  cfg.Consolidation.RetentionDaysStandard,
			memory.RetentionTemporary: cfg.Consolidation.RetentionDaysTemporary,
		},
		AssociationWindow:           [2]float64{cfg.Consolidation.AssociationWindowMin, cfg.Consolidation.AssociationWindowMax},
		AssociationSampleCap:        cfg.Consolidation.AssociationSampleCap,
		AssociationCandidatePoolCap: cfg.Consolidation.AssociationCandidatePoolCap,
		ClusterMinSize:              cfg.Consolidation.ClusterMinSize,
		ClusterTargetNeighborhood:   cfg.Consolidation.ClusterTargetNeighborhood,
		ForgetThreshold:             cfg.Consolidation.ForgetThreshold,
		ForgetInactivityDays:        cfg.Consolidation.ForgetInactivityDays,
	}

	engine := consolidation.New(deps.store, deps.bus, logger, consolidationCfg)

	sched := scheduler.New(deps.store, engine, logger).
		WithSchedule(consolidation.HorizonDaily, cfg.Consolidation.ScheduleDaily).
		WithSchedule(consolidation.HorizonWeekly, cfg.Consolidation.ScheduleWeekly).
		WithSchedule(consolidation.HorizonMonthly, cfg.Consolidation.ScheduleMonthly).
		WithSchedule(consolidation.HorizonQuarterly, cfg.Consolidation.ScheduleQuarterly).
		WithSchedule(consolidation.HorizonYearly, cfg.Consolidation.ScheduleYearly)

	dispatcher := rpc.New(deps.store, deps.planner, deps.checker, logger).WithEngine(engine)

	return &services{engine: engine, scheduler: sched, dispatcher: dispatcher}, nil
}

// bridgeConsolidationRunsToOpslog subscribes to the change bus and
// records every ConsolidationRun event to the ops log, so a
// consolidation pass's outcome is durable even though the scheduler
// itself has no direct opslog dependency. Returns a function that
// unsubscribes.
func bridgeConsolidationRunsToOpslog(bus *changebus.Bus, w *opslog.Writer, logger *zap.Logger) func() {
	events, unsubscribe := bus.Subscribe()
	go func() {
		for ev := range events {
			if ev.Type != changebus.ConsolidationRun {
				continue
			}
			if err := w.RecordConsolidationRun(ev.Pass, ev.Status, ev.Counts); err != nil {
				logger.Warn("recording consolidation run to ops log", zap.Error(err))
			}
		}
	}()
	return unsubscribe
}

// expandHome resolves a leading "~/" against the user's home
// directory, the same convention internal/config.Validate applies
// before checking paths.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
