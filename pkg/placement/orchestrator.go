package placement

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/telemetry"
)

// SystemTypeXtremIO is the array type served by the enclosure-aware strategy.
const SystemTypeXtremIO = "xtremio"

// Strategy is the selection and zoning pair used for one backend array type.
type Strategy struct {
	Selector PortGroupSelector
	Zoning   ZoningAssigner
}

// PlanRequest holds the inputs of a placement run for one array.
type PlanRequest struct {
	// SystemType selects the strategy.
	SystemType string `json:"system_type"`

	// Candidates maps a network ID to the array ports reachable on it.
	Candidates map[string][]engine.StoragePort `json:"candidates"`

	// Networks describes the networks referenced by candidates and initiators.
	Networks map[string]engine.Network `json:"networks"`

	// Initiators are the front-end initiators by director and network.
	Initiators engine.InitiatorGroup `json:"initiators"`
}

// Plan is the result of a placement run.
type Plan struct {
	SystemType       string           `json:"system_type"`
	PortGroup        engine.PortGroup `json:"port_group,omitempty"`
	EnclosureCount   int              `json:"enclosure_count"`
	DirectorCount    int              `json:"director_count"`
	PathsPerDirector int              `json:"paths_per_director"`
	Zoning           engine.ZoningMap `json:"zoning,omitempty"`
	OrderedNetworks  []string         `json:"ordered_networks"`
	Gaps             []Gap            `json:"gaps,omitempty"`
}

// Feasible reports whether the plan holds a port group.
func (p *Plan) Feasible() bool {
	return len(p.PortGroup) > 0
}

// MaskingOrchestrator runs port group selection and zoning through the
// strategy registered for an array type.
type MaskingOrchestrator struct {
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher

	mu         sync.RWMutex
	strategies map[string]Strategy
}

// Option configures a MaskingOrchestrator.
type Option func(*MaskingOrchestrator)

// WithMetrics records selection and zoning metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *MaskingOrchestrator) { o.metrics = m }
}

// WithEvents publishes assignment gaps.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(o *MaskingOrchestrator) { o.events = ep }
}

// NewMaskingOrchestrator creates an orchestrator with no strategies registered.
func NewMaskingOrchestrator(logger zerolog.Logger, opts ...Option) *MaskingOrchestrator {
	o := &MaskingOrchestrator{
		logger:     logger.With().Str("component", "masking-orchestrator").Logger(),
		strategies: make(map[string]Strategy),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewXtremIOStrategy builds the enclosure-aware strategy.
// directorCount and maxRounds may be zero to derive them from the request.
func NewXtremIOStrategy(logger zerolog.Logger, directorCount, maxRounds int) Strategy {
	selector := NewXtremIOSelector(logger)
	selector.MaxRounds = maxRounds

	zoning := NewDirectorZoningAssigner(logger, nil)
	zoning.DirectorCount = directorCount

	return Strategy{Selector: selector, Zoning: zoning}
}

// Register sets the strategy for systemType, replacing any previous one.
func (o *MaskingOrchestrator) Register(systemType string, s Strategy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.strategies[systemType] = s
}

// SystemTypes returns the registered array types in sorted order.
func (o *MaskingOrchestrator) SystemTypes() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	types := make([]string, 0, len(o.strategies))
	for t := range o.strategies {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (o *MaskingOrchestrator) strategy(systemType string) (Strategy, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	s, ok := o.strategies[systemType]
	if !ok {
		return Strategy{}, engine.NewPermanentError(
			fmt.Sprintf("no masking strategy for array type %q", systemType), nil).
			WithCode(engine.ErrCodeValidation)
	}
	return s, nil
}

// Plan selects a port group for the request and zones the initiators onto it.
// An infeasible selection is not an error: the plan comes back without a
// port group or zoning.
func (o *MaskingOrchestrator) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	s, err := o.strategy(req.SystemType)
	if err != nil {
		return nil, err
	}

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		var span trace.Span
		_, span = tel.Tracer.StartSelectionSpan(ctx, req.SystemType, len(req.Candidates))
		defer span.End()
	}

	selection := s.Selector.SelectPortGroups(req.Candidates, req.Networks)
	plan := &Plan{
		SystemType:      req.SystemType,
		EnclosureCount:  selection.EnclosureCount,
		OrderedNetworks: selection.OrderedNetworks,
	}

	o.metrics.RecordPortGroupSelection(selection.Feasible(), len(firstGroup(selection).Ports()))

	if !selection.Feasible() {
		o.logger.Warn().
			Str("system_type", req.SystemType).
			Int("networks", len(selection.OrderedNetworks)).
			Msg("No port group meets the minimum redundancy")
		return plan, nil
	}
	plan.PortGroup = firstGroup(selection)

	zoning, gaps := o.assign(s.Zoning, plan.PortGroup, req)
	plan.Zoning = zoning
	plan.Gaps = gaps
	plan.DirectorCount = directorCount(s.Zoning, req.Initiators)
	plan.PathsPerDirector = PathsPerDirector(plan.DirectorCount, plan.EnclosureCount)

	for _, director := range req.Initiators.Directors() {
		for _, members := range req.Initiators[director] {
			for _, ini := range members {
				if _, ok := zoning[ini.ID]; ok {
					o.metrics.RecordZoningAssignment(director)
				}
			}
		}
	}

	o.logger.Info().
		Str("system_type", req.SystemType).
		Int("enclosures", plan.EnclosureCount).
		Int("zoned_initiators", len(zoning)).
		Int("gaps", len(gaps)).
		Msg("Placement plan ready")

	return plan, nil
}

// assign runs zoning, collecting gaps reported by assigners that expose them.
func (o *MaskingOrchestrator) assign(z ZoningAssigner, group engine.PortGroup, req PlanRequest) (engine.ZoningMap, []Gap) {
	var gaps []Gap

	if d, ok := z.(*DirectorZoningAssigner); ok {
		// Run against a copy so concurrent plans do not share the callback.
		local := *d
		local.OnGap = func(g Gap) {
			gaps = append(gaps, g)
			o.metrics.RecordZoningGap(g.Network.ID)
			if o.events != nil {
				_ = o.events.PublishAssignmentGap(g.Director, g.Network.ID, g.InitiatorID, g.Reason)
			}
			if d.OnGap != nil {
				d.OnGap(g)
			}
		}
		z = &local
	}

	return z.AssignZoning(group, req.Initiators, req.Networks), gaps
}

// ReadExistingExportMasks returns masks already present on the array for the
// initiators. Backend masks are generated on the first volume and reused, so
// none are discovered.
func (o *MaskingOrchestrator) ReadExistingExportMasks(
	ctx context.Context,
	array *engine.StorageSystem,
	initiators []engine.Initiator,
) (map[string]*engine.ExportMask, error) {
	return map[string]*engine.ExportMask{}, nil
}

// RefreshExportMask reconciles a mask with the array. Masks are owned by
// xbzone, so the stored copy is authoritative.
func (o *MaskingOrchestrator) RefreshExportMask(
	ctx context.Context,
	array *engine.StorageSystem,
	mask *engine.ExportMask,
) (*engine.ExportMask, error) {
	return mask, nil
}

func firstGroup(s *Selection) engine.PortGroup {
	if len(s.PortGroups) == 0 {
		return nil
	}
	return s.PortGroups[0]
}

func directorCount(z ZoningAssigner, initiators engine.InitiatorGroup) int {
	if d, ok := z.(*DirectorZoningAssigner); ok && d.DirectorCount > 0 {
		return d.DirectorCount
	}
	return len(initiators)
}
