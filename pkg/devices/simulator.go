package devices

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/xbzone/pkg/engine"
)

// Operation names recorded by the simulator.
const (
	OpExportGroupCreate   = "export_group_create"
	OpExportAddVolumes    = "export_add_volumes"
	OpExportGroupDelete   = "export_group_delete"
	OpExportRemoveVolumes = "export_remove_volumes"
)

// Call is one request received by the simulator.
type Call struct {
	Operation  string   `json:"operation"`
	ArrayID    string   `json:"array_id"`
	MaskID     string   `json:"mask_id"`
	Volumes    []string `json:"volumes,omitempty"`
	Initiators []string `json:"initiators,omitempty"`
	Targets    []string `json:"targets,omitempty"`
}

// Simulator is an engine.DeviceDriver that never talks to an array. Every
// accepted request completes its handle before the call returns.
type Simulator struct {
	logger zerolog.Logger

	mu       sync.Mutex
	calls    []Call
	failures map[string]error // reported through the completer
	rejects  map[string]error // returned from the call
}

// NewSimulator creates a simulator that completes every request successfully.
func NewSimulator(logger zerolog.Logger) *Simulator {
	return &Simulator{
		logger:   logger.With().Str("component", "device-simulator").Logger(),
		failures: make(map[string]error),
		rejects:  make(map[string]error),
	}
}

// FailOn makes operation report err through its completer.
func (s *Simulator) FailOn(operation string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[operation] = err
}

// RejectOn makes operation return err without completing its handle.
func (s *Simulator) RejectOn(operation string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[operation] = err
}

// Reset clears recorded calls and injected failures.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.failures = make(map[string]error)
	s.rejects = make(map[string]error)
}

// Calls returns the recorded requests in arrival order.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times operation was requested.
func (s *Simulator) CallCount(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Operation == operation {
			n++
		}
	}
	return n
}

// ExportGroupCreate implements engine.DeviceDriver.
func (s *Simulator) ExportGroupCreate(ctx context.Context, array *engine.StorageSystem, mask *engine.ExportMask,
	volumes engine.VolumeMap, initiators []engine.Initiator, targets []string, completer engine.TaskCompleter) error {
	ids := make([]string, 0, len(initiators))
	for _, ini := range initiators {
		ids = append(ids, ini.ID)
	}
	return s.handle(ctx, Call{
		Operation:  OpExportGroupCreate,
		ArrayID:    array.ID,
		MaskID:     mask.ID,
		Volumes:    volumes.IDs(),
		Initiators: ids,
		Targets:    append([]string(nil), targets...),
	}, completer)
}

// ExportAddVolumes implements engine.DeviceDriver.
func (s *Simulator) ExportAddVolumes(ctx context.Context, array *engine.StorageSystem, mask *engine.ExportMask,
	volumes engine.VolumeMap, completer engine.TaskCompleter) error {
	return s.handle(ctx, Call{
		Operation: OpExportAddVolumes,
		ArrayID:   array.ID,
		MaskID:    mask.ID,
		Volumes:   volumes.IDs(),
	}, completer)
}

// ExportGroupDelete implements engine.DeviceDriver.
func (s *Simulator) ExportGroupDelete(ctx context.Context, array *engine.StorageSystem, mask *engine.ExportMask,
	completer engine.TaskCompleter) error {
	return s.handle(ctx, Call{
		Operation: OpExportGroupDelete,
		ArrayID:   array.ID,
		MaskID:    mask.ID,
	}, completer)
}

// ExportRemoveVolumes implements engine.DeviceDriver.
func (s *Simulator) ExportRemoveVolumes(ctx context.Context, array *engine.StorageSystem, mask *engine.ExportMask,
	volumes []string, completer engine.TaskCompleter) error {
	sorted := append([]string(nil), volumes...)
	sort.Strings(sorted)
	return s.handle(ctx, Call{
		Operation: OpExportRemoveVolumes,
		ArrayID:   array.ID,
		MaskID:    mask.ID,
		Volumes:   sorted,
	}, completer)
}

func (s *Simulator) handle(ctx context.Context, call Call, completer engine.TaskCompleter) error {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	reject := s.rejects[call.Operation]
	failure := s.failures[call.Operation]
	s.mu.Unlock()

	logger := s.logger.With().
		Str("operation", call.Operation).
		Str("array_id", call.ArrayID).
		Str("export_mask_id", call.MaskID).
		Logger()

	if reject != nil {
		logger.Warn().Err(reject).Msg("Rejecting simulated request")
		return reject
	}
	if failure != nil {
		logger.Warn().Err(failure).Msg("Failing simulated request")
		completer.Error(ctx, failure)
		return nil
	}

	logger.Debug().Strs("volumes", call.Volumes).Msg("Simulated request completed")
	completer.Ready(ctx)
	return nil
}
