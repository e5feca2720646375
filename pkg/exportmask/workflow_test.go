package exportmask

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/xbzone/pkg/devices"
	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/workflow"
)

func (f *fixture) dispatcher() *workflow.Dispatcher {
	d := workflow.NewDispatcher(zerolog.Nop(), f.tracker, f.locks, workflow.Config{MaxParallel: 2, StepTimeout: time.Second})
	f.mutator.Register(d)
	return d
}

func TestWorkflow_ExportThenRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.dispatcher()

	add, err := AddVolumesStep("array-1", "mask-1", engine.VolumeMap{"v1": 1})
	require.NoError(t, err)
	remove, err := RemoveVolumesStep("array-1", "mask-1", []string{"v1"})
	require.NoError(t, err)

	wf := &workflow.Workflow{ID: "wf"}
	first := wf.AddStep(add)
	remove.WaitFor = []string{first}
	wf.AddStep(remove)

	result, err := d.Run(ctx, wf)
	require.NoError(t, err)
	assert.Equal(t, engine.WorkflowStatusSucceeded, result.Status)

	ops := make([]string, 0)
	for _, c := range f.sim.Calls() {
		ops = append(ops, c.Operation)
	}
	assert.Equal(t, []string{devices.OpExportGroupCreate, devices.OpExportGroupDelete}, ops)
	assert.True(t, f.store.mask("mask-1").Inactive)

	_, held := f.locks.Holder("host-a::array-1")
	assert.False(t, held)
}

func TestWorkflow_RollbackRemovesExportedVolumes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.dispatcher()
	d.Register("zone", func(ctx context.Context, stepID string, _ engine.Method) error {
		f.tracker.StepFailed(ctx, stepID, errors.New("switch rejected zone"))
		return nil
	})

	add, err := AddVolumesStep("array-1", "mask-1", engine.VolumeMap{"v1": 1})
	require.NoError(t, err)
	zone, err := engine.NewMethod("zone")
	require.NoError(t, err)

	wf := &workflow.Workflow{ID: "wf"}
	first := wf.AddStep(add)
	wf.AddStep(workflow.Step{Method: zone, WaitFor: []string{first}})

	result, err := d.Run(ctx, wf)
	require.NoError(t, err)

	assert.Equal(t, engine.WorkflowStatusRolledBack, result.Status)
	require.Len(t, result.Rollbacks, 1)
	assert.Equal(t, first, result.Rollbacks[0].RollbackOf)
	assert.Equal(t, MethodDeleteOrRemoveVolumes, result.Rollbacks[0].Method)
	assert.Equal(t, engine.StepStatusSucceeded, result.Rollbacks[0].Status)

	assert.Equal(t, 1, f.sim.CallCount(devices.OpExportGroupDelete))
	assert.True(t, f.store.mask("mask-1").Inactive)
}

func TestWorkflow_DescriptorsSurviveEncoding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.dispatcher()

	add, err := AddVolumesStep("array-1", "mask-1", engine.VolumeMap{"v1": 7})
	require.NoError(t, err)
	wf := &workflow.Workflow{ID: "wf"}
	wf.AddStep(add)

	var buf bytes.Buffer
	require.NoError(t, workflow.NewEncoder(&buf).EncodeWorkflow(wf))
	decoded, err := workflow.NewDecoder(&buf).DecodeWorkflow()
	require.NoError(t, err)

	result, err := d.Run(ctx, decoded)
	require.NoError(t, err)
	assert.Equal(t, engine.WorkflowStatusSucceeded, result.Status)
	assert.Equal(t, engine.VolumeMap{"v1": 7}, f.store.mask("mask-1").Volumes)
}

func TestWorkflow_BadArguments(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()

	m, err := engine.NewMethod(MethodCreateOrAddVolumes, "array-1")
	require.NoError(t, err)
	wf := &workflow.Workflow{ID: "wf"}
	wf.AddStep(workflow.Step{Method: m})

	result, err := d.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, engine.WorkflowStatusFailed, result.Status)
	assert.True(t, engine.HasCode(result.Err, engine.ErrCodeValidation))
}
