package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/xbzone/pkg/engine"
)

// StepStore persists step records.
type StepStore interface {
	SaveStep(ctx context.Context, rec *StepRecord) error
}

// Tracker is an in-memory StepTracker. Callers can wait for a step to reach
// a terminal state. The first terminal transition of a step wins.
type Tracker struct {
	logger zerolog.Logger
	store  StepStore

	mu      sync.Mutex
	steps   map[string]*StepRecord
	errs    map[string]error
	waiters map[string]chan struct{}
}

// NewTracker creates a tracker. store may be nil.
func NewTracker(logger zerolog.Logger, store StepStore) *Tracker {
	return &Tracker{
		logger:  logger.With().Str("component", "step-tracker").Logger(),
		store:   store,
		steps:   make(map[string]*StepRecord),
		errs:    make(map[string]error),
		waiters: make(map[string]chan struct{}),
	}
}

// Register records a pending step.
func (t *Tracker) Register(ctx context.Context, stepID, workflowID, method, rollbackOf string) {
	t.mu.Lock()
	rec := t.record(stepID)
	rec.WorkflowID = workflowID
	rec.Method = method
	rec.RollbackOf = rollbackOf
	snapshot := *rec
	t.mu.Unlock()

	t.persist(ctx, &snapshot)
}

// StepExecuting implements engine.StepTracker.
func (t *Tracker) StepExecuting(ctx context.Context, stepID string) {
	t.transition(ctx, stepID, engine.StepStatusExecuting, nil)
}

// StepSucceeded implements engine.StepTracker.
func (t *Tracker) StepSucceeded(ctx context.Context, stepID string) {
	t.transition(ctx, stepID, engine.StepStatusSucceeded, nil)
}

// StepFailed implements engine.StepTracker.
func (t *Tracker) StepFailed(ctx context.Context, stepID string, err error) {
	if err == nil {
		err = errors.New("step failed")
	}
	t.transition(ctx, stepID, engine.StepStatusFailed, err)
}

// StepSkipped marks a step that never ran.
func (t *Tracker) StepSkipped(ctx context.Context, stepID string, reason error) {
	t.transition(ctx, stepID, engine.StepStatusSkipped, reason)
}

func (t *Tracker) transition(ctx context.Context, stepID string, status engine.StepStatus, err error) {
	t.mu.Lock()
	rec := t.record(stepID)
	if rec.Status.IsTerminal() {
		t.mu.Unlock()
		t.logger.Warn().
			Str("step_id", stepID).
			Str("current", string(rec.Status)).
			Str("requested", string(status)).
			Msg("Ignoring transition of finished step")
		return
	}

	rec.Status = status
	if err != nil {
		rec.Error = err.Error()
		var engErr *engine.EngineError
		if errors.As(err, &engErr) {
			rec.ErrorCode = engErr.Code
		}
		t.errs[stepID] = err
	}
	if status.IsTerminal() {
		now := time.Now()
		rec.CompletedAt = &now
		close(t.waiter(stepID))
	}
	snapshot := *rec
	t.mu.Unlock()

	t.logger.Debug().Str("step_id", stepID).Str("status", string(status)).Msg("Step transition")
	t.persist(ctx, &snapshot)
}

// record returns the record for stepID, creating it. Callers hold mu.
func (t *Tracker) record(stepID string) *StepRecord {
	rec, ok := t.steps[stepID]
	if !ok {
		rec = &StepRecord{ID: stepID, Status: engine.StepStatusPending, StartedAt: time.Now()}
		t.steps[stepID] = rec
	}
	return rec
}

// waiter returns the channel closed when stepID finishes. Callers hold mu.
func (t *Tracker) waiter(stepID string) chan struct{} {
	ch, ok := t.waiters[stepID]
	if !ok {
		ch = make(chan struct{})
		t.waiters[stepID] = ch
	}
	return ch
}

func (t *Tracker) persist(ctx context.Context, rec *StepRecord) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveStep(ctx, rec); err != nil {
		t.logger.Error().Err(err).Str("step_id", rec.ID).Msg("Failed to persist step")
	}
}

// Wait blocks until stepID reaches a terminal state or ctx is done.
func (t *Tracker) Wait(ctx context.Context, stepID string) (engine.StepStatus, error) {
	t.mu.Lock()
	ch := t.waiter(stepID)
	t.mu.Unlock()

	select {
	case <-ch:
		status, _ := t.Status(stepID)
		return status, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Status returns the current status of stepID.
func (t *Tracker) Status(stepID string) (engine.StepStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.steps[stepID]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

// Record returns a copy of the record of stepID.
func (t *Tracker) Record(stepID string) (StepRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.steps[stepID]
	if !ok {
		return StepRecord{}, false
	}
	return *rec, true
}

// Err returns the error a step failed with, nil if it did not fail.
func (t *Tracker) Err(stepID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errs[stepID]
}

// Steps returns all records ordered by start time.
func (t *Tracker) Steps() []StepRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]StepRecord, 0, len(t.steps))
	for _, rec := range t.steps {
		out = append(out, *rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
