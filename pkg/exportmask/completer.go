package exportmask

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/telemetry"
)

// CompleterKind selects how a completer reflects a driver outcome into the mask.
type CompleterKind string

const (
	// CompleterAddVolumes marks the mask created and merges the exported volumes.
	CompleterAddVolumes CompleterKind = "add_volumes"

	// CompleterRemoveVolumes drops the volumes and deactivates the mask once
	// nothing is exported through it anymore.
	CompleterRemoveVolumes CompleterKind = "remove_volumes"
)

// CompleterSpec is the serializable form of a completer carried by a method descriptor.
type CompleterSpec struct {
	Kind         CompleterKind    `json:"kind"`
	ExportMaskID string           `json:"export_mask_id"`
	OpID         string           `json:"op_id,omitempty"`
	Volumes      engine.VolumeMap `json:"volumes,omitempty"`
	RollingBack  bool             `json:"rolling_back,omitempty"`
}

// Validate checks if the spec can be turned into a completer.
func (s CompleterSpec) Validate() error {
	switch s.Kind {
	case CompleterAddVolumes, CompleterRemoveVolumes:
	default:
		return engine.NewPermanentError(fmt.Sprintf("unknown completer kind %q", s.Kind), nil).
			WithCode(engine.ErrCodeValidation)
	}
	if s.ExportMaskID == "" {
		return engine.NewPermanentError("completer has no export mask", nil).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// Completer reports a device operation outcome to the step tracker after
// updating the export mask document.
type Completer struct {
	logger  zerolog.Logger
	store   engine.ObjectStore
	tracker engine.StepTracker

	mu   sync.Mutex
	spec CompleterSpec
}

// NewCompleter creates a completer from its spec.
func NewCompleter(logger zerolog.Logger, store engine.ObjectStore, tracker engine.StepTracker, spec CompleterSpec) (*Completer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Completer{
		logger:  logger.With().Str("export_mask_id", spec.ExportMaskID).Logger(),
		store:   store,
		tracker: tracker,
		spec:    spec,
	}, nil
}

// OpID implements engine.TaskCompleter.
func (c *Completer) OpID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spec.OpID
}

// SetOpID implements engine.TaskCompleter.
func (c *Completer) SetOpID(stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spec.OpID = stepID
}

// Spec returns the current spec.
func (c *Completer) Spec() CompleterSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spec
}

// Ready implements engine.TaskCompleter.
func (c *Completer) Ready(ctx context.Context) {
	spec := c.Spec()
	if err := c.apply(ctx, spec); err != nil {
		c.Error(ctx, err)
		return
	}
	c.tracker.StepSucceeded(ctx, spec.OpID)
}

// Error implements engine.TaskCompleter.
func (c *Completer) Error(ctx context.Context, err error) {
	spec := c.Spec()
	if spec.RollingBack && spec.Kind == CompleterRemoveVolumes {
		err = fmt.Errorf("%w; rollback could not remove export mask %s, it must be cleaned up manually",
			err, spec.ExportMaskID)
	}
	c.logger.Error().Err(err).Str("step_id", spec.OpID).Msg("Export mask operation failed")
	c.tracker.StepFailed(ctx, spec.OpID, err)
}

func (c *Completer) apply(ctx context.Context, spec CompleterSpec) error {
	mask, err := c.store.GetExportMask(ctx, spec.ExportMaskID)
	if err != nil {
		return fmt.Errorf("failed to load export mask %s: %w", spec.ExportMaskID, err)
	}

	switch spec.Kind {
	case CompleterAddVolumes:
		mask.Created = true
		for id, hlu := range spec.Volumes {
			mask.AddVolume(id, hlu)
		}

	case CompleterRemoveVolumes:
		for id := range spec.Volumes {
			mask.RemoveVolume(id)
		}
		if !mask.HasAnyVolumes() {
			mask.Inactive = true
			if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
				_ = tel.Events.PublishMaskDeleted(mask.ID, mask.StorageSystemID)
			}
		}
	}

	if err := c.store.PersistExportMask(ctx, mask); err != nil {
		return fmt.Errorf("failed to persist export mask %s: %w", mask.ID, err)
	}
	c.logger.Debug().Str("kind", string(spec.Kind)).Bool("inactive", mask.Inactive).Msg("Export mask updated")
	return nil
}
