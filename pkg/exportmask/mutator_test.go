package exportmask

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/xbzone/pkg/devices"
	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/workflow"
)

// memoryStore is an engine.ObjectStore keeping copies of its entities.
type memoryStore struct {
	mu         sync.Mutex
	arrays     map[string]engine.StorageSystem
	masks      map[string]engine.ExportMask
	initiators map[string]engine.Initiator
	persists   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		arrays:     make(map[string]engine.StorageSystem),
		masks:      make(map[string]engine.ExportMask),
		initiators: make(map[string]engine.Initiator),
	}
}

func copyMask(m engine.ExportMask) engine.ExportMask {
	out := m
	out.Initiators = append([]string(nil), m.Initiators...)
	out.StoragePorts = append([]string(nil), m.StoragePorts...)
	out.Volumes = make(engine.VolumeMap, len(m.Volumes))
	for k, v := range m.Volumes {
		out.Volumes[k] = v
	}
	if m.ExistingVolumes != nil {
		out.ExistingVolumes = make(engine.VolumeMap, len(m.ExistingVolumes))
		for k, v := range m.ExistingVolumes {
			out.ExistingVolumes[k] = v
		}
	}
	return out
}

func (s *memoryStore) GetStorageSystem(_ context.Context, id string) (*engine.StorageSystem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.arrays[id]
	if !ok {
		return nil, engine.NewNotFoundError("storage system", id)
	}
	return &a, nil
}

func (s *memoryStore) GetExportMask(_ context.Context, id string) (*engine.ExportMask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.masks[id]
	if !ok {
		return nil, engine.NewNotFoundError("export mask", id)
	}
	out := copyMask(m)
	return &out, nil
}

func (s *memoryStore) PersistExportMask(_ context.Context, mask *engine.ExportMask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persists++
	mask.Version++
	s.masks[mask.ID] = copyMask(*mask)
	return nil
}

func (s *memoryStore) GetInitiator(_ context.Context, id string) (*engine.Initiator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ini, ok := s.initiators[id]
	if !ok {
		return nil, engine.NewNotFoundError("initiator", id)
	}
	return &ini, nil
}

func (s *memoryStore) GetStoragePort(_ context.Context, id string) (*engine.StoragePort, error) {
	return nil, engine.NewNotFoundError("storage port", id)
}

func (s *memoryStore) mask(id string) engine.ExportMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMask(s.masks[id])
}

// failingLocks records acquisitions and refuses them all.
type failingLocks struct {
	acquired [][]string
}

func (l *failingLocks) AcquireStepLocks(_ context.Context, stepID string, keys []string, _ engine.LockTimeoutClass) error {
	l.acquired = append(l.acquired, keys)
	return engine.NewLockTimeoutError(stepID, keys, errors.New("held elsewhere"))
}

func (l *failingLocks) ReleaseStepLocks(context.Context, string) error { return nil }

type fixture struct {
	store   *memoryStore
	sim     *devices.Simulator
	tracker *workflow.Tracker
	locks   *workflow.LockManager
	mutator *Mutator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemoryStore()
	store.arrays["array-1"] = engine.StorageSystem{ID: "array-1", SystemType: "xtremio"}
	store.initiators["i1"] = engine.Initiator{ID: "i1", Port: "10000000C9000001", HostName: "host-a"}
	store.initiators["i2"] = engine.Initiator{ID: "i2", Port: "10000000C9000002", HostName: "host-a"}
	store.initiators["i3"] = engine.Initiator{ID: "i3", Port: "10000000C9000003", HostName: "host-b"}
	store.masks["mask-1"] = engine.ExportMask{
		ID:              "mask-1",
		StorageSystemID: "array-1",
		Initiators:      []string{"i1", "i2", "i3"},
		StoragePorts:    []string{"p1", "p2"},
		Volumes:         engine.VolumeMap{},
	}

	sim := devices.NewSimulator(zerolog.Nop())
	registry := devices.NewRegistry()
	registry.Register("xtremio", sim)

	tracker := workflow.NewTracker(zerolog.Nop(), nil)
	locks := workflow.NewLockManager(zerolog.Nop(), map[engine.LockTimeoutClass]time.Duration{
		engine.LockTimeoutVPlexBackendExport: 100 * time.Millisecond,
	}, nil)

	return &fixture{
		store:   store,
		sim:     sim,
		tracker: tracker,
		locks:   locks,
		mutator: NewMutator(zerolog.Nop(), store, locks, tracker, registry),
	}
}

func (f *fixture) completer(t *testing.T, kind CompleterKind, opID string, volumes engine.VolumeMap) *Completer {
	t.Helper()
	c, err := NewCompleter(zerolog.Nop(), f.store, f.tracker, CompleterSpec{
		Kind:         kind,
		ExportMaskID: "mask-1",
		OpID:         opID,
		Volumes:      volumes,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) status(stepID string) engine.StepStatus {
	status, _ := f.tracker.Status(stepID)
	return status
}

func TestCreateOrAddVolumes_CreatesEmptyMask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	volumes := engine.VolumeMap{"v1": 1, "v2": 2}

	err := f.mutator.CreateOrAddVolumes(ctx, "s1", "array-1", "mask-1", volumes,
		f.completer(t, CompleterAddVolumes, "s1", volumes))
	require.NoError(t, err)

	assert.Equal(t, engine.StepStatusSucceeded, f.status("s1"))

	calls := f.sim.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, devices.OpExportGroupCreate, calls[0].Operation)
	assert.Equal(t, []string{"i1", "i2", "i3"}, calls[0].Initiators)
	assert.Equal(t, []string{"p1", "p2"}, calls[0].Targets)
	assert.Equal(t, []string{"v1", "v2"}, calls[0].Volumes)

	mask := f.store.mask("mask-1")
	assert.True(t, mask.Created)
	assert.Equal(t, volumes, mask.Volumes)
}

func TestCreateOrAddVolumes_AddsToExistingMask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.store.masks["mask-1"]
	m.Volumes = engine.VolumeMap{"v1": 1}
	m.Created = true
	f.store.masks["mask-1"] = m

	volumes := engine.VolumeMap{"v2": 2}
	require.NoError(t, f.mutator.CreateOrAddVolumes(ctx, "s1", "array-1", "mask-1", volumes,
		f.completer(t, CompleterAddVolumes, "s1", volumes)))

	assert.Equal(t, 1, f.sim.CallCount(devices.OpExportAddVolumes))
	assert.Zero(t, f.sim.CallCount(devices.OpExportGroupCreate))
	assert.Equal(t, engine.VolumeMap{"v1": 1, "v2": 2}, f.store.mask("mask-1").Volumes)
}

func TestCreateOrAddVolumes_InactiveMask(t *testing.T) {
	for name, setup := range map[string]func(*memoryStore){
		"inactive": func(s *memoryStore) {
			m := s.masks["mask-1"]
			m.Inactive = true
			s.masks["mask-1"] = m
		},
		"missing": func(s *memoryStore) { delete(s.masks, "mask-1") },
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			setup(f.store)

			err := f.mutator.CreateOrAddVolumes(context.Background(), "s1", "array-1", "mask-1",
				engine.VolumeMap{"v1": 1}, f.completer(t, CompleterAddVolumes, "s1", nil))

			require.Error(t, err)
			assert.True(t, engine.IsBackendExportMaskDeleted(err))
			assert.Equal(t, engine.StepStatusFailed, f.status("s1"))
			assert.True(t, engine.IsBackendExportMaskDeleted(f.tracker.Err("s1")))
			assert.Empty(t, f.sim.Calls())

			var engineErr *engine.EngineError
			require.True(t, errors.As(err, &engineErr))
			assert.Equal(t, OpCreateOrAddVolumes, engineErr.Details[engine.DetailOperation])
			assert.Equal(t, "array-1", engineErr.Details[engine.DetailArrayID])
			assert.Equal(t, "mask-1", engineErr.Details[engine.DetailMaskID])
		})
	}
}

func TestDeleteOrRemoveVolumes_DeletesWhenLastVolumeRemoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.store.masks["mask-1"]
	m.Volumes = engine.VolumeMap{"v1": 1}
	f.store.masks["mask-1"] = m

	require.NoError(t, f.mutator.DeleteOrRemoveVolumes(ctx, "s1", "array-1", "mask-1", []string{"v1"},
		f.completer(t, CompleterRemoveVolumes, "s1", engine.VolumeMap{"v1": 0})))

	assert.Equal(t, 1, f.sim.CallCount(devices.OpExportGroupDelete))
	assert.Zero(t, f.sim.CallCount(devices.OpExportRemoveVolumes))
	assert.Equal(t, engine.StepStatusSucceeded, f.status("s1"))
	assert.True(t, f.store.mask("mask-1").Inactive)
}

func TestDeleteOrRemoveVolumes_RemovesSubset(t *testing.T) {
	tests := []struct {
		name     string
		volumes  engine.VolumeMap
		existing engine.VolumeMap
	}{
		{name: "volumes remain", volumes: engine.VolumeMap{"v1": 1, "v2": 2}},
		{name: "out-of-band volumes remain", volumes: engine.VolumeMap{"v1": 1}, existing: engine.VolumeMap{"ext": 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			m := f.store.masks["mask-1"]
			m.Volumes = tt.volumes
			m.ExistingVolumes = tt.existing
			f.store.masks["mask-1"] = m

			require.NoError(t, f.mutator.DeleteOrRemoveVolumes(context.Background(), "s1", "array-1", "mask-1",
				[]string{"v1"}, f.completer(t, CompleterRemoveVolumes, "s1", engine.VolumeMap{"v1": 0})))

			calls := f.sim.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, devices.OpExportRemoveVolumes, calls[0].Operation)
			assert.Equal(t, []string{"v1"}, calls[0].Volumes)

			mask := f.store.mask("mask-1")
			assert.False(t, mask.Inactive)
			assert.NotContains(t, mask.Volumes, "v1")
		})
	}
}

func TestDeleteOrRemoveVolumes_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.store.masks["mask-1"]
	m.Volumes = engine.VolumeMap{"v1": 1}
	f.store.masks["mask-1"] = m

	for _, stepID := range []string{"s1", "s2", "s3"} {
		require.NoError(t, f.mutator.DeleteOrRemoveVolumes(ctx, stepID, "array-1", "mask-1", []string{"v1"},
			f.completer(t, CompleterRemoveVolumes, stepID, engine.VolumeMap{"v1": 0})))
		assert.Equal(t, engine.StepStatusSucceeded, f.status(stepID))
		require.NoError(t, f.locks.ReleaseStepLocks(ctx, stepID))
	}

	assert.Len(t, f.sim.Calls(), 1)
}

func TestDeleteOrRemoveVolumes_GoneMaskSkipsArrayLookup(t *testing.T) {
	for name, array := range map[string]*engine.StorageSystem{
		"no driver": {ID: "array-1", SystemType: "vmax"},
		"no array":  nil,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			delete(f.store.masks, "mask-1")
			delete(f.store.arrays, "array-1")
			if array != nil {
				f.store.arrays["array-1"] = *array
			}

			require.NoError(t, f.mutator.DeleteOrRemoveVolumes(context.Background(), "s1", "array-1", "mask-1",
				[]string{"v1"}, f.completer(t, CompleterRemoveVolumes, "s1", engine.VolumeMap{"v1": 0})))
			assert.Equal(t, engine.StepStatusSucceeded, f.status("s1"))
			assert.Empty(t, f.sim.Calls())
		})
	}
}

func TestDeleteOrRemoveVolumes_RebindsCompleter(t *testing.T) {
	f := newFixture(t)
	m := f.store.masks["mask-1"]
	m.Volumes = engine.VolumeMap{"v1": 1}
	f.store.masks["mask-1"] = m

	c := f.completer(t, CompleterRemoveVolumes, "original-step", engine.VolumeMap{"v1": 0})
	require.NoError(t, f.mutator.DeleteOrRemoveVolumes(context.Background(), "rollback-step", "array-1", "mask-1",
		[]string{"v1"}, c))

	assert.Equal(t, "rollback-step", c.OpID())
	assert.Equal(t, engine.StepStatusSucceeded, f.status("rollback-step"))
	_, tracked := f.tracker.Status("original-step")
	assert.False(t, tracked)
}

func TestMutator_LockPrecedesMutation(t *testing.T) {
	f := newFixture(t)
	locks := &failingLocks{}
	registry := devices.NewRegistry()
	registry.Register("xtremio", f.sim)
	mutator := NewMutator(zerolog.Nop(), f.store, locks, f.tracker, registry)

	err := mutator.CreateOrAddVolumes(context.Background(), "s1", "array-1", "mask-1",
		engine.VolumeMap{"v1": 1}, f.completer(t, CompleterAddVolumes, "s1", nil))

	require.Error(t, err)
	assert.True(t, engine.IsLockTimeout(err))
	assert.Equal(t, engine.StepStatusFailed, f.status("s1"))
	assert.Empty(t, f.sim.Calls())
	assert.Zero(t, f.store.persists)
	assert.Equal(t, [][]string{{"host-a::array-1", "host-b::array-1"}}, locks.acquired)
}

func TestMutator_HoldsLocksUntilReleased(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.mutator.CreateOrAddVolumes(ctx, "s1", "array-1", "mask-1",
		engine.VolumeMap{"v1": 1}, f.completer(t, CompleterAddVolumes, "s1", engine.VolumeMap{"v1": 1})))

	owner, ok := f.locks.Holder("host-a::array-1")
	require.True(t, ok)
	assert.Equal(t, "s1", owner)

	err := f.mutator.CreateOrAddVolumes(ctx, "s2", "array-1", "mask-1",
		engine.VolumeMap{"v2": 2}, f.completer(t, CompleterAddVolumes, "s2", engine.VolumeMap{"v2": 2}))
	assert.True(t, engine.IsLockTimeout(err))
	assert.Equal(t, 1, len(f.sim.Calls()))
}

func TestMutator_WrapsDeviceErrors(t *testing.T) {
	f := newFixture(t)
	f.sim.RejectOn(devices.OpExportGroupCreate, errors.New("array unreachable"))

	err := f.mutator.CreateOrAddVolumes(context.Background(), "s1", "array-1", "mask-1",
		engine.VolumeMap{"v1": 1}, f.completer(t, CompleterAddVolumes, "s1", nil))
	require.Error(t, err)

	var engErr *engine.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, engine.ErrCodeDeviceOperationFailed, engErr.Code)
	assert.Equal(t, OpCreateOrAddVolumes, engErr.Details[engine.DetailOperation])
	assert.Equal(t, "array-1", engErr.Details[engine.DetailArrayID])
	assert.Equal(t, "mask-1", engErr.Details[engine.DetailMaskID])
	assert.Contains(t, err.Error(), "array unreachable")
	assert.Equal(t, engine.StepStatusFailed, f.status("s1"))
}

func TestMutator_WrapsStoreErrors(t *testing.T) {
	f := newFixture(t)

	err := f.mutator.DeleteOrRemoveVolumes(context.Background(), "s1", "missing-array", "mask-1",
		[]string{"v1"}, f.completer(t, CompleterRemoveVolumes, "s1", nil))

	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeDeviceOperationFailed))
	assert.True(t, engine.IsNotFound(err))
	assert.Equal(t, engine.StepStatusFailed, f.status("s1"))
}

func TestMutator_DriverReportsFailure(t *testing.T) {
	f := newFixture(t)
	m := f.store.masks["mask-1"]
	m.Volumes = engine.VolumeMap{"v1": 1}
	f.store.masks["mask-1"] = m
	f.sim.FailOn(devices.OpExportGroupDelete, errors.New("mask in use"))

	c, err := NewCompleter(zerolog.Nop(), f.store, f.tracker, CompleterSpec{
		Kind:         CompleterRemoveVolumes,
		ExportMaskID: "mask-1",
		Volumes:      engine.VolumeMap{"v1": 0},
		RollingBack:  true,
	})
	require.NoError(t, err)

	require.NoError(t, f.mutator.DeleteOrRemoveVolumes(context.Background(), "s1", "array-1", "mask-1",
		[]string{"v1"}, c))

	assert.Equal(t, engine.StepStatusFailed, f.status("s1"))
	assert.Contains(t, f.tracker.Err("s1").Error(), "cleaned up manually")
	assert.False(t, f.store.mask("mask-1").Inactive)
}

func TestLockKeys(t *testing.T) {
	f := newFixture(t)
	f.store.initiators["i4"] = engine.Initiator{ID: "i4", Port: "iqn.1998-01.com.example:host-c"}

	keys, err := LockKeys(context.Background(), f.store, "array-1", []string{"i3", "i1", "gone", "i2", "i4"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"host-a::array-1",
		"host-b::array-1",
		"iqn.1998-01.com.example:host-c::array-1",
	}, keys)
}

func TestCompleterSpec_Validate(t *testing.T) {
	assert.Error(t, CompleterSpec{Kind: "bogus", ExportMaskID: "m"}.Validate())
	assert.Error(t, CompleterSpec{Kind: CompleterAddVolumes}.Validate())
	assert.NoError(t, CompleterSpec{Kind: CompleterRemoveVolumes, ExportMaskID: "m"}.Validate())
}
