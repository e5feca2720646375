package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/xbzone/pkg/engine"
)

// recorder is a set of handlers that log invocations.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *LockManager, *recorder) {
	t.Helper()

	tracker := NewTracker(zerolog.Nop(), nil)
	locks := newTestLockManager(time.Second)
	d := NewDispatcher(zerolog.Nop(), tracker, locks, Config{MaxParallel: 2, StepTimeout: time.Second})
	rec := &recorder{}

	d.Register("ok", func(ctx context.Context, stepID string, m engine.Method) error {
		var label string
		_ = m.Arg(0, &label)
		rec.add(label)
		tracker.StepExecuting(ctx, stepID)
		tracker.StepSucceeded(ctx, stepID)
		return nil
	})
	d.Register("fail", func(ctx context.Context, stepID string, m engine.Method) error {
		var label string
		_ = m.Arg(0, &label)
		rec.add(label)
		tracker.StepFailed(ctx, stepID, errors.New("boom"))
		return nil
	})
	d.Register("undo", func(ctx context.Context, stepID string, m engine.Method) error {
		var label string
		_ = m.Arg(0, &label)
		rec.add("undo-" + label)
		tracker.StepSucceeded(ctx, stepID)
		return nil
	})
	return d, locks, rec
}

func method(t *testing.T, name, label string) engine.Method {
	t.Helper()
	m, err := engine.NewMethod(name, label)
	require.NoError(t, err)
	return m
}

func methodPtr(t *testing.T, name, label string) *engine.Method {
	m := method(t, name, label)
	return &m
}

func TestDispatcher_RunsInDependencyOrder(t *testing.T) {
	d, _, rec := newTestDispatcher(t)

	wf := &Workflow{ID: "wf"}
	first := wf.AddStep(Step{Method: method(t, "ok", "first")})
	wf.AddStep(Step{Method: method(t, "ok", "second"), WaitFor: []string{first}})

	result, err := d.Run(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, engine.WorkflowStatusSucceeded, result.Status)
	assert.Equal(t, []string{"first", "second"}, rec.snapshot())
	succeeded, failed, skipped := result.Summary()
	assert.Equal(t, 2, succeeded)
	assert.Zero(t, failed)
	assert.Zero(t, skipped)
	assert.NoError(t, result.Err)
}

func TestDispatcher_RollbackInReverseOrder(t *testing.T) {
	d, _, rec := newTestDispatcher(t)

	wf := &Workflow{ID: "wf"}
	a := wf.AddStep(Step{Method: method(t, "ok", "a"), Rollback: methodPtr(t, "undo", "a")})
	b := wf.AddStep(Step{Method: method(t, "ok", "b"), Rollback: methodPtr(t, "undo", "b"), WaitFor: []string{a}})
	c := wf.AddStep(Step{Method: method(t, "fail", "c"), WaitFor: []string{b}})
	wf.AddStep(Step{Method: method(t, "ok", "d"), WaitFor: []string{c}})

	result, err := d.Run(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, engine.WorkflowStatusRolledBack, result.Status)
	assert.Equal(t, []string{"a", "b", "c", "undo-b", "undo-a"}, rec.snapshot())
	require.Error(t, result.Err)

	require.Len(t, result.Rollbacks, 2)
	assert.Equal(t, b, result.Rollbacks[0].RollbackOf)
	assert.Equal(t, a, result.Rollbacks[1].RollbackOf)
	assert.NotEqual(t, b, result.Rollbacks[0].ID)

	_, failed, skipped := result.Summary()
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, skipped)
}

func TestDispatcher_FailureWithoutRollback(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	wf := &Workflow{ID: "wf"}
	wf.AddStep(Step{Method: method(t, "fail", "only")})

	result, err := d.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, engine.WorkflowStatusFailed, result.Status)
	assert.Empty(t, result.Rollbacks)
}

func TestDispatcher_UnknownMethod(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	wf := &Workflow{ID: "wf"}
	wf.AddStep(Step{Method: method(t, "missing", "x")})

	result, err := d.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, engine.WorkflowStatusFailed, result.Status)
	assert.True(t, engine.IsNotFound(result.Err))
}

func TestDispatcher_HandlerErrorAndPanic(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	d.Register("error", func(ctx context.Context, stepID string, m engine.Method) error {
		return engine.NewPermanentError("rejected", nil).WithCode(engine.ErrCodeValidation)
	})
	d.Register("panic", func(ctx context.Context, stepID string, m engine.Method) error {
		panic("handler bug")
	})

	for name, code := range map[string]string{
		"error": engine.ErrCodeValidation,
		"panic": engine.ErrCodeInternal,
	} {
		wf := &Workflow{ID: "wf-" + name}
		wf.AddStep(Step{Method: method(t, name, name)})

		result, err := d.Run(context.Background(), wf)
		require.NoError(t, err)
		assert.Equal(t, engine.WorkflowStatusFailed, result.Status, name)
		assert.True(t, engine.HasCode(result.Err, code), name)
	}
}

func TestDispatcher_StepTimeout(t *testing.T) {
	tracker := NewTracker(zerolog.Nop(), nil)
	d := NewDispatcher(zerolog.Nop(), tracker, newTestLockManager(time.Second),
		Config{MaxParallel: 1, StepTimeout: 20 * time.Millisecond})
	d.Register("silent", func(ctx context.Context, stepID string, m engine.Method) error {
		return nil
	})

	wf := &Workflow{ID: "wf"}
	wf.AddStep(Step{Method: method(t, "silent", "x")})

	result, err := d.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, engine.WorkflowStatusFailed, result.Status)
	assert.True(t, engine.HasCode(result.Err, engine.ErrCodeTimeout))
}

func TestDispatcher_ReleasesLocksAfterStep(t *testing.T) {
	d, locks, _ := newTestDispatcher(t)
	d.Register("locking", func(ctx context.Context, stepID string, m engine.Method) error {
		if err := locks.AcquireStepLocks(ctx, stepID, []string{"h1::a1"}, engine.LockTimeoutVPlexBackendExport); err != nil {
			return err
		}
		d.Tracker().StepSucceeded(ctx, stepID)
		return nil
	})

	wf := &Workflow{ID: "wf"}
	wf.AddStep(Step{Method: method(t, "locking", "one")})
	wf.AddStep(Step{Method: method(t, "locking", "two")})

	result, err := d.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, engine.WorkflowStatusSucceeded, result.Status)

	_, held := locks.Holder("h1::a1")
	assert.False(t, held)
}

func TestDispatcher_InvalidWorkflow(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	_, err := d.Run(context.Background(), nil)
	require.Error(t, err)

	wf := &Workflow{ID: "wf", Steps: []Step{{ID: "a", Method: engine.Method{Name: "ok"}, WaitFor: []string{"ghost"}}}}
	_, err = d.Run(context.Background(), wf)
	require.Error(t, err)
}
