package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/telemetry"
)

// Handler executes a step method. Handlers report the outcome through the
// step tracker, possibly after returning. A returned error is recorded as
// a failure unless the step already finished.
type Handler func(ctx context.Context, stepID string, method engine.Method) error

// Config configures a Dispatcher.
type Config struct {
	// MaxParallel is the maximum number of steps executed concurrently.
	MaxParallel int

	// StepTimeout bounds the wait for a step to report completion.
	StepTimeout time.Duration
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallel: 4,
		StepTimeout: 30 * time.Minute,
	}
}

// Dispatcher runs workflows level by level, executing independent steps in
// parallel. Locks acquired by a step are released once the step finishes.
// When a step fails, the rollback methods of the steps that succeeded run in
// reverse completion order.
type Dispatcher struct {
	logger  zerolog.Logger
	tracker *Tracker
	locks   engine.LockService
	config  Config

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(logger zerolog.Logger, tracker *Tracker, locks engine.LockService, cfg Config) *Dispatcher {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultConfig().MaxParallel
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultConfig().StepTimeout
	}
	return &Dispatcher{
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		tracker:  tracker,
		locks:    locks,
		config:   cfg,
		handlers: make(map[string]Handler),
	}
}

// Register binds a method name to its handler.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Tracker returns the tracker steps report to.
func (d *Dispatcher) Tracker() *Tracker {
	return d.tracker
}

func (d *Dispatcher) handler(name string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[name]
	return h, ok
}

// run is the mutable state of one workflow execution.
type run struct {
	workflow *Workflow
	steps    map[string]*Step

	mu        sync.Mutex
	completed []string // succeeded step IDs in completion order
	failed    bool
}

func (r *run) finished(stepID string, status engine.StepStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch status {
	case engine.StepStatusSucceeded:
		r.completed = append(r.completed, stepID)
	case engine.StepStatusFailed:
		r.failed = true
	}
}

func (r *run) hasFailed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Run executes wf and blocks until it and any rollback finish.
// The returned error is non-nil only when the workflow could not be started.
func (d *Dispatcher) Run(ctx context.Context, wf *Workflow) (*Result, error) {
	if wf == nil {
		return nil, engine.NewPermanentError("workflow is nil", nil).WithCode(engine.ErrCodeValidation)
	}
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	for i := range wf.Steps {
		if wf.Steps[i].ID == "" {
			wf.Steps[i].ID = uuid.New().String()
		}
	}

	graph, err := BuildGraph(wf.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow graph: %w", err)
	}

	start := time.Now()
	r := &run{workflow: wf, steps: make(map[string]*Step, len(wf.Steps))}
	for i := range wf.Steps {
		step := &wf.Steps[i]
		r.steps[step.ID] = step
		d.tracker.Register(ctx, step.ID, wf.ID, step.Method.Name, "")
	}

	logger := d.logger.With().Str("workflow_id", wf.ID).Logger()
	logger.Info().Int("steps", len(wf.Steps)).Int("levels", len(graph.Levels)).Msg("Dispatching workflow")

	for level, ids := range graph.Levels {
		if r.hasFailed() {
			d.skip(ctx, ids, "an earlier step failed")
			continue
		}
		if ctx.Err() != nil {
			d.skip(ctx, ids, "workflow cancelled")
			continue
		}
		d.executeLevel(ctx, r, ids)
		logger.Debug().Int("level", level).Msg("Level finished")
	}

	result := &Result{WorkflowID: wf.ID, Status: engine.WorkflowStatusSucceeded}
	for _, step := range wf.Steps {
		rec, _ := d.tracker.Record(step.ID)
		result.Steps = append(result.Steps, rec)
		if rec.Status == engine.StepStatusFailed && result.Err == nil {
			result.Err = d.tracker.Err(step.ID)
		}
	}

	if r.hasFailed() {
		result.Status = engine.WorkflowStatusFailed
		if rollbacks, ok := d.rollback(ctx, r); len(rollbacks) > 0 {
			result.Rollbacks = rollbacks
			if ok {
				result.Status = engine.WorkflowStatusRolledBack
			}
		}
	}
	result.Duration = time.Since(start)

	logger.Info().
		Str("status", string(result.Status)).
		Dur("duration", result.Duration).
		Msg("Workflow finished")

	return result, nil
}

// executeLevel runs the steps of one level through a worker pool.
func (d *Dispatcher) executeLevel(ctx context.Context, r *run, ids []string) {
	workerCount := d.config.MaxParallel
	if len(ids) < workerCount {
		workerCount = len(ids)
	}

	queue := make(chan *Step, len(ids))
	for _, id := range ids {
		queue <- r.steps[id]
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for step := range queue {
				if !d.dependenciesSucceeded(step) {
					d.skip(ctx, []string{step.ID}, "a step it waits for did not succeed")
					continue
				}
				status := d.executeStep(ctx, r.workflow.ID, step.ID, step.Method, "")
				r.finished(step.ID, status)
			}
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) dependenciesSucceeded(step *Step) bool {
	for _, dep := range step.WaitFor {
		if status, _ := d.tracker.Status(dep); status != engine.StepStatusSucceeded {
			return false
		}
	}
	return true
}

func (d *Dispatcher) skip(ctx context.Context, ids []string, reason string) {
	for _, id := range ids {
		d.tracker.StepSkipped(ctx, id, engine.NewPermanentError(reason, nil).
			WithCode(engine.ErrCodeDependencyFailed).
			WithResource(id))
	}
}

// executeStep invokes the handler of m under stepID, waits for the step to
// finish and releases its locks.
func (d *Dispatcher) executeStep(ctx context.Context, workflowID, stepID string, m engine.Method, rollbackOf string) engine.StepStatus {
	if rollbackOf != "" {
		d.tracker.Register(ctx, stepID, workflowID, m.Name, rollbackOf)
	}

	stepCtx := telemetry.WithStepContext(ctx, workflowID, stepID, m.Name)

	var err error
	if h, ok := d.handler(m.Name); ok {
		err = d.invoke(stepCtx, h, stepID, m)
	} else {
		err = engine.NewPermanentError(fmt.Sprintf("no handler registered for method %s", m.Name), nil).
			WithCode(engine.ErrCodeNotFound).
			WithOperation(m.Name)
	}
	if err != nil {
		d.tracker.StepFailed(stepCtx, stepID, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.config.StepTimeout)
	_, waitErr := d.tracker.Wait(waitCtx, stepID)
	cancel()
	if waitErr != nil {
		d.tracker.StepFailed(stepCtx, stepID, engine.NewTransientError("step did not report completion", waitErr).
			WithCode(engine.ErrCodeTimeout).
			WithResource(stepID))
	}

	if relErr := d.locks.ReleaseStepLocks(ctx, stepID); relErr != nil {
		d.logger.Error().Err(relErr).Str("step_id", stepID).Msg("Failed to release step locks")
	}

	status, _ := d.tracker.Status(stepID)
	telemetry.EndStepContext(stepCtx, workflowID, stepID, m.Name, string(status), d.tracker.Err(stepID))
	return status
}

// invoke calls h, turning a panic into a step failure.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, stepID string, m engine.Method) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error().Str("step_id", stepID).Interface("panic", rec).Msg("Step handler panicked")
			err = engine.NewPermanentError(fmt.Sprintf("step handler panicked: %v", rec), nil).
				WithCode(engine.ErrCodeInternal).
				WithOperation(m.Name)
		}
	}()
	return h(ctx, stepID, m)
}

// rollback runs the rollback methods of succeeded steps in reverse completion
// order, each under a fresh step ID. It reports whether every rollback succeeded.
func (d *Dispatcher) rollback(ctx context.Context, r *run) ([]StepRecord, bool) {
	r.mu.Lock()
	completed := append([]string(nil), r.completed...)
	r.mu.Unlock()

	var targets []*Step
	for i := len(completed) - 1; i >= 0; i-- {
		if step := r.steps[completed[i]]; step.Rollback != nil {
			targets = append(targets, step)
		}
	}
	if len(targets) == 0 {
		return nil, false
	}

	d.logger.Warn().Str("workflow_id", r.workflow.ID).Int("steps", len(targets)).Msg("Rolling back workflow")
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		_ = tel.Events.PublishRollbackStarted(r.workflow.ID, len(targets))
	}

	ok := true
	records := make([]StepRecord, 0, len(targets))
	for _, step := range targets {
		rollbackID := uuid.New().String()
		status := d.executeStep(ctx, r.workflow.ID, rollbackID, *step.Rollback, step.ID)
		if status != engine.StepStatusSucceeded {
			ok = false
		}
		rec, _ := d.tracker.Record(rollbackID)
		records = append(records, rec)
	}
	return records, ok
}
