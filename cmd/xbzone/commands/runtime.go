package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/xbzone/pkg/config"
	"github.com/openfroyo/xbzone/pkg/devices"
	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/exportmask"
	"github.com/openfroyo/xbzone/pkg/placement"
	"github.com/openfroyo/xbzone/pkg/stores"
	"github.com/openfroyo/xbzone/pkg/telemetry"
	"github.com/openfroyo/xbzone/pkg/workflow"
)

// runtime holds what every command needs: configuration, telemetry and the store.
type runtime struct {
	cfg    *config.AppConfig
	tel    *telemetry.Telemetry
	logger zerolog.Logger
	store  *stores.SQLiteStore
}

// newRuntime loads the configuration, starts telemetry and opens the
// store. Telemetry events are recorded in the store.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		return nil, err
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to start telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	store, err := stores.Open(ctx, stores.Config{
		Path:         cfg.Store.Path,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		Logger:       logger,
	})
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// events published during shutdown still reach the store
	tel.Events.Subscribe(store.EventSink(context.WithoutCancel(ctx)), nil)

	return &runtime{cfg: cfg, tel: tel, logger: logger, store: store}, nil
}

// Close flushes telemetry and closes the store.
func (r *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.tel.Shutdown(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to close store")
	}
}

// withTelemetry attaches telemetry to ctx.
func (r *runtime) withTelemetry(ctx context.Context) context.Context {
	return r.tel.WithContext(ctx)
}

// lockService returns the configured step lock backend.
func (r *runtime) lockService() engine.LockService {
	timeouts := r.cfg.LockTimeouts()
	if r.cfg.Locks.Backend == config.LockBackendMemory {
		return workflow.NewLockManager(r.logger, timeouts, r.tel.Metrics)
	}
	return stores.NewLockService(r.store, stores.LockConfig{
		Timeouts: timeouts,
		Lease:    r.cfg.Locks.Lease,
		Metrics:  r.tel.Metrics,
	})
}

// orchestrator returns a masking orchestrator with the XtremIO strategy.
func (r *runtime) orchestrator(directors int) *placement.MaskingOrchestrator {
	o := placement.NewMaskingOrchestrator(r.logger,
		placement.WithMetrics(r.tel.Metrics),
		placement.WithEvents(r.tel.Events))
	o.Register(placement.SystemTypeXtremIO,
		placement.NewXtremIOStrategy(r.logger, directors, r.cfg.Placement.MaxSelectionRounds))
	return o
}

// simulatedOperations are the device operations --fail-on accepts.
var simulatedOperations = []string{
	devices.OpExportGroupCreate,
	devices.OpExportAddVolumes,
	devices.OpExportGroupDelete,
	devices.OpExportRemoveVolumes,
}

// dispatcher builds a workflow dispatcher executing export mask methods
// against the device simulator. Each failOn operation reports a failure.
func (r *runtime) dispatcher(failOn []string) (*workflow.Dispatcher, error) {
	sim := devices.NewSimulator(r.logger)
	for _, op := range failOn {
		if !contains(simulatedOperations, op) {
			return nil, fmt.Errorf("unknown device operation %q (one of %v)", op, simulatedOperations)
		}
		sim.FailOn(op, fmt.Errorf("injected %s failure", op))
	}

	registry := devices.NewRegistry()
	registry.Register(placement.SystemTypeXtremIO, sim)

	tracker := workflow.NewTracker(r.logger, r.store)
	locks := r.lockService()
	d := workflow.NewDispatcher(r.logger, tracker, locks, workflow.Config{
		MaxParallel: r.cfg.Workflow.MaxParallel,
		StepTimeout: r.cfg.Workflow.StepTimeout,
	})
	exportmask.NewMutator(r.logger, r.store, locks, tracker, registry).Register(d)
	return d, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
