package engine

import (
	"context"
)

// ObjectStore reads and persists the entities a mutation step works on.
// Getters return an error satisfying IsNotFound when the entity does not exist.
type ObjectStore interface {
	// GetStorageSystem retrieves an array by ID.
	GetStorageSystem(ctx context.Context, id string) (*StorageSystem, error)

	// GetExportMask retrieves an export mask by ID.
	GetExportMask(ctx context.Context, id string) (*ExportMask, error)

	// PersistExportMask creates or updates an export mask.
	PersistExportMask(ctx context.Context, mask *ExportMask) error

	// GetInitiator retrieves an initiator by ID.
	GetInitiator(ctx context.Context, id string) (*Initiator, error)

	// GetStoragePort retrieves a storage port by ID.
	GetStoragePort(ctx context.Context, id string) (*StoragePort, error)
}

// LockService grants named locks to workflow steps.
//
// AcquireStepLocks blocks until every key is held by stepID or the timeout
// configured for class expires. Locks belong to the step and are released by
// the step framework when the step reaches a terminal state; step handlers
// never call ReleaseStepLocks.
type LockService interface {
	AcquireStepLocks(ctx context.Context, stepID string, keys []string, class LockTimeoutClass) error
	ReleaseStepLocks(ctx context.Context, stepID string) error
}

// StepTracker records workflow step state transitions.
type StepTracker interface {
	StepExecuting(ctx context.Context, stepID string)
	StepSucceeded(ctx context.Context, stepID string)
	StepFailed(ctx context.Context, stepID string, err error)
}

// TaskCompleter is the completion handle passed to device operations.
// Device drivers report the outcome of a call through it rather than a return value.
type TaskCompleter interface {
	// OpID returns the step ID the completer reports to.
	OpID() string

	// SetOpID re-binds the completer to another step, as happens on rollback.
	SetOpID(stepID string)

	// Ready marks the operation successful.
	Ready(ctx context.Context)

	// Error marks the operation failed.
	Error(ctx context.Context, err error)
}

// DeviceDriver issues export operations against a backend array.
//
// Each call is fire-and-report: a nil return only means the request was
// issued, success or failure surfaces through the completer. A non-nil return
// means the request could not be issued at all.
type DeviceDriver interface {
	ExportGroupCreate(ctx context.Context, array *StorageSystem, mask *ExportMask, volumes VolumeMap,
		initiators []Initiator, targets []string, completer TaskCompleter) error

	ExportAddVolumes(ctx context.Context, array *StorageSystem, mask *ExportMask, volumes VolumeMap,
		completer TaskCompleter) error

	ExportGroupDelete(ctx context.Context, array *StorageSystem, mask *ExportMask,
		completer TaskCompleter) error

	ExportRemoveVolumes(ctx context.Context, array *StorageSystem, mask *ExportMask, volumes []string,
		completer TaskCompleter) error
}

// DeviceRegistry resolves the driver for an array type.
type DeviceRegistry interface {
	Device(systemType string) (DeviceDriver, error)
}

// PortAssigner picks one storage port from candidates for an initiator.
// usage counts assignments per port ID across a zoning run and is updated by
// the assigner when it returns a port.
type PortAssigner interface {
	AssignPort(candidates []StoragePort, network Network, initiator Initiator, usage map[string]int) (StoragePort, bool)
}

// IsNotFound returns true if err reports a missing entity.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// NewNotFoundError reports that kind id does not exist.
func NewNotFoundError(kind, id string) *EngineError {
	return NewPermanentError(kind+" not found", nil).
		WithCode(ErrCodeNotFound).
		WithResource(id)
}
