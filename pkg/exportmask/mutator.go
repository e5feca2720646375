package exportmask

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/telemetry"
	"github.com/openfroyo/xbzone/pkg/workflow"
)

// Device operation names reported in failures and metrics.
const (
	OpCreateOrAddVolumes    = "create_or_add_volumes"
	OpDeleteOrRemoveVolumes = "delete_or_remove_volumes"
)

// Mutator changes backend export masks as workflow steps. Every call reports
// its outcome to the step tracker, either directly or through the completer
// handed to the device driver. Locks taken by a step are released by the step
// framework when the step finishes.
type Mutator struct {
	logger  zerolog.Logger
	store   engine.ObjectStore
	locks   engine.LockService
	tracker engine.StepTracker
	devices engine.DeviceRegistry
}

// NewMutator creates a mutator.
func NewMutator(logger zerolog.Logger, store engine.ObjectStore, locks engine.LockService,
	tracker engine.StepTracker, devices engine.DeviceRegistry) *Mutator {
	return &Mutator{
		logger:  logger.With().Str("component", "exportmask").Logger(),
		store:   store,
		locks:   locks,
		tracker: tracker,
		devices: devices,
	}
}

// CreateOrAddVolumes exports volumes through the mask, creating the mask on
// the array when it exports nothing yet. A missing or inactive mask fails the
// step with a BackendExportMaskDeleted error. The returned error has already
// been reported to the tracker.
func (m *Mutator) CreateOrAddVolumes(ctx context.Context, stepID, arrayID, maskID string,
	volumes engine.VolumeMap, completer engine.TaskCompleter) (err error) {
	m.tracker.StepExecuting(ctx, stepID)
	defer m.recoverStep(ctx, stepID, OpCreateOrAddVolumes, arrayID, maskID, &err)

	if err = m.createOrAdd(ctx, stepID, arrayID, maskID, volumes, completer); err != nil {
		m.tracker.StepFailed(ctx, stepID, err)
	}
	return err
}

func (m *Mutator) createOrAdd(ctx context.Context, stepID, arrayID, maskID string,
	volumes engine.VolumeMap, completer engine.TaskCompleter) error {
	logger := m.logger.With().Str("step_id", stepID).Str("array_id", arrayID).Str("export_mask_id", maskID).Logger()
	wrap := func(err error) error {
		return engine.NewDeviceOperationError(OpCreateOrAddVolumes, arrayID, maskID, err)
	}

	array, err := m.store.GetStorageSystem(ctx, arrayID)
	if err != nil {
		return wrap(err)
	}
	mask, err := m.loadMask(ctx, maskID)
	if err != nil {
		return wrap(err)
	}
	if mask == nil || mask.Inactive {
		logger.Info().Msg("Export mask deleted or inactive, failing")
		return engine.NewBackendExportMaskDeletedError(OpCreateOrAddVolumes, maskID, arrayID)
	}

	if err := m.lock(ctx, stepID, array.ID, mask); err != nil {
		return err
	}

	device, err := m.devices.Device(array.SystemType)
	if err != nil {
		return wrap(err)
	}

	if !mask.HasAnyVolumes() {
		initiators := make([]engine.Initiator, 0, len(mask.Initiators))
		for _, id := range mask.Initiators {
			ini, err := m.store.GetInitiator(ctx, id)
			if err != nil {
				if engine.IsNotFound(err) {
					continue
				}
				return wrap(err)
			}
			initiators = append(initiators, *ini)
		}
		targets := append([]string(nil), mask.StoragePorts...)

		for id, hlu := range volumes {
			mask.AddVolume(id, hlu)
		}
		if err := m.store.PersistExportMask(ctx, mask); err != nil {
			return wrap(err)
		}

		logger.Info().Int("volumes", len(volumes)).Int("initiators", len(initiators)).Msg("Creating export mask on array")
		err = telemetry.RecordDeviceOperation(ctx, array.ID, "export_group_create", func(ctx context.Context) error {
			return device.ExportGroupCreate(ctx, array, mask, volumes, initiators, targets, completer)
		})
	} else {
		logger.Info().Int("volumes", len(volumes)).Msg("Adding volumes to export mask")
		err = telemetry.RecordDeviceOperation(ctx, array.ID, "export_add_volumes", func(ctx context.Context) error {
			return device.ExportAddVolumes(ctx, array, mask, volumes, completer)
		})
	}
	if err != nil {
		return wrap(err)
	}
	return nil
}

// DeleteOrRemoveVolumes removes volumes from the mask, deleting the mask when
// nothing else is exported through it. A missing or inactive mask succeeds
// without touching the array. The returned error has already been reported
// to the tracker.
func (m *Mutator) DeleteOrRemoveVolumes(ctx context.Context, stepID, arrayID, maskID string,
	volumes []string, completer engine.TaskCompleter) (err error) {
	m.tracker.StepExecuting(ctx, stepID)
	defer m.recoverStep(ctx, stepID, OpDeleteOrRemoveVolumes, arrayID, maskID, &err)

	done, err := m.deleteOrRemove(ctx, stepID, arrayID, maskID, volumes, completer)
	switch {
	case err != nil:
		m.tracker.StepFailed(ctx, stepID, err)
	case done:
		m.tracker.StepSucceeded(ctx, stepID)
	}
	return err
}

// deleteOrRemove returns done when the step finished without a device call.
func (m *Mutator) deleteOrRemove(ctx context.Context, stepID, arrayID, maskID string,
	volumes []string, completer engine.TaskCompleter) (bool, error) {
	logger := m.logger.With().Str("step_id", stepID).Str("array_id", arrayID).Str("export_mask_id", maskID).Logger()
	wrap := func(err error) error {
		return engine.NewDeviceOperationError(OpDeleteOrRemoveVolumes, arrayID, maskID, err)
	}

	mask, err := m.loadMask(ctx, maskID)
	if err != nil {
		return false, wrap(err)
	}
	if mask == nil || mask.Inactive {
		logger.Info().Msg("Export mask inactive, returning success")
		return true, nil
	}

	array, err := m.store.GetStorageSystem(ctx, arrayID)
	if err != nil {
		return false, wrap(err)
	}
	device, err := m.devices.Device(array.SystemType)
	if err != nil {
		return false, wrap(err)
	}

	if err := m.lock(ctx, stepID, array.ID, mask); err != nil {
		return false, err
	}

	if completer.OpID() != stepID {
		completer.SetOpID(stepID)
	}

	remaining := make(map[string]struct{}, len(mask.Volumes))
	for id := range mask.Volumes {
		remaining[id] = struct{}{}
	}
	for _, id := range volumes {
		delete(remaining, id)
	}

	if len(remaining) == 0 && len(mask.ExistingVolumes) == 0 {
		logger.Info().Msg("Deleting export mask from array")
		err = telemetry.RecordDeviceOperation(ctx, array.ID, "export_group_delete", func(ctx context.Context) error {
			return device.ExportGroupDelete(ctx, array, mask, completer)
		})
	} else {
		logger.Info().Int("volumes", len(volumes)).Int("remaining", len(remaining)).Msg("Removing volumes from export mask")
		err = telemetry.RecordDeviceOperation(ctx, array.ID, "export_remove_volumes", func(ctx context.Context) error {
			return device.ExportRemoveVolumes(ctx, array, mask, volumes, completer)
		})
	}
	if err != nil {
		return false, wrap(err)
	}
	return false, nil
}

// loadMask returns nil when the mask does not exist.
func (m *Mutator) loadMask(ctx context.Context, maskID string) (*engine.ExportMask, error) {
	mask, err := m.store.GetExportMask(ctx, maskID)
	if err != nil {
		if engine.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return mask, nil
}

// lock takes the host/array keys of the mask's current initiators for stepID.
func (m *Mutator) lock(ctx context.Context, stepID, arrayID string, mask *engine.ExportMask) error {
	keys, err := LockKeys(ctx, m.store, arrayID, mask.Initiators)
	if err != nil {
		return engine.NewDeviceOperationError("lock", arrayID, mask.ID, err)
	}
	if err := m.locks.AcquireStepLocks(ctx, stepID, keys, engine.LockTimeoutVPlexBackendExport); err != nil {
		if engine.IsLockTimeout(err) {
			return err
		}
		return engine.NewDeviceOperationError("lock", arrayID, mask.ID, err)
	}
	return nil
}

// recoverStep turns a panic inside a mutation into a failed step.
func (m *Mutator) recoverStep(ctx context.Context, stepID, operation, arrayID, maskID string, errp *error) {
	rec := recover()
	if rec == nil {
		return
	}
	m.logger.Error().Str("step_id", stepID).Interface("panic", rec).Msg("Export mask mutation panicked")
	*errp = engine.NewDeviceOperationError(operation, arrayID, maskID, fmt.Errorf("panic: %v", rec))
	m.tracker.StepFailed(ctx, stepID, *errp)
}

// Register binds both entry points to their method names on d. Completers
// are rebuilt from the descriptor and report to d's tracker.
func (m *Mutator) Register(d *workflow.Dispatcher) {
	d.Register(MethodCreateOrAddVolumes, m.handleCreateOrAddVolumes)
	d.Register(MethodDeleteOrRemoveVolumes, m.handleDeleteOrRemoveVolumes)
}

func (m *Mutator) handleCreateOrAddVolumes(ctx context.Context, stepID string, method engine.Method) error {
	var (
		arrayID, maskID string
		volumes         engine.VolumeMap
		spec            CompleterSpec
	)
	if err := decodeArgs(method, &arrayID, &maskID, &volumes, &spec); err != nil {
		return err
	}
	if spec.OpID == "" {
		spec.OpID = stepID
	}
	completer, err := NewCompleter(m.logger, m.store, m.tracker, spec)
	if err != nil {
		return err
	}
	return m.CreateOrAddVolumes(ctx, stepID, arrayID, maskID, volumes, completer)
}

func (m *Mutator) handleDeleteOrRemoveVolumes(ctx context.Context, stepID string, method engine.Method) error {
	var (
		arrayID, maskID string
		volumes         []string
		spec            CompleterSpec
	)
	if err := decodeArgs(method, &arrayID, &maskID, &volumes, &spec); err != nil {
		return err
	}
	if spec.OpID == "" {
		spec.OpID = stepID
	}
	if len(spec.Volumes) == 0 {
		spec.Volumes = volumeSet(volumes)
	}
	completer, err := NewCompleter(m.logger, m.store, m.tracker, spec)
	if err != nil {
		return err
	}
	return m.DeleteOrRemoveVolumes(ctx, stepID, arrayID, maskID, volumes, completer)
}

func decodeArgs(method engine.Method, targets ...interface{}) error {
	if method.NumArgs() != len(targets) {
		return engine.NewPermanentError(
			fmt.Sprintf("method %s expects %d arguments, got %d", method.Name, len(targets), method.NumArgs()), nil).
			WithCode(engine.ErrCodeValidation).
			WithOperation(method.Name)
	}
	for i, target := range targets {
		if err := method.Arg(i, target); err != nil {
			return err
		}
	}
	return nil
}
