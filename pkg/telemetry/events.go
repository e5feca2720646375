package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted by xbzone.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// WorkflowID is the associated workflow, if applicable.
	WorkflowID string `json:"workflow_id,omitempty"`

	// StepID is the associated workflow step, if applicable.
	StepID string `json:"step_id,omitempty"`

	// ResourceID is the associated export mask, array or initiator, if applicable.
	ResourceID string `json:"resource_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeStepStarted     = "step.started"
	EventTypeStepSucceeded   = "step.succeeded"
	EventTypeStepFailed      = "step.failed"
	EventTypeRollbackStarted = "workflow.rollback_started"
	EventTypeAssignmentGap   = "zoning.assignment_gap"
	EventTypeMaskDeleted     = "export_mask.deleted"
	EventTypePolicyViolation = "policy.violation"
	EventTypeDeviceInvoked   = "device.invoked"
	EventTypeError           = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	deliveries  sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher. A disabled publisher drops every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep, nil
}

// Publish stamps event with an id and timestamp and hands it to subscribers.
// Async publishers fail when the buffer is full.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}
	select {
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, dropped %s event", event.Type)
	}
}

func stepEvent(eventType, level, workflowID, stepID, message string, data map[string]interface{}) Event {
	return Event{
		Type:       eventType,
		Source:     "workflow",
		WorkflowID: workflowID,
		StepID:     stepID,
		Message:    message,
		Level:      level,
		Data:       data,
	}
}

func (ep *EventPublisher) PublishStepStarted(workflowID, stepID, operation string) error {
	return ep.Publish(stepEvent(EventTypeStepStarted, EventLevelInfo, workflowID, stepID,
		fmt.Sprintf("Step %s started: %s", stepID, operation),
		map[string]interface{}{"operation": operation}))
}

func (ep *EventPublisher) PublishStepSucceeded(workflowID, stepID string, duration time.Duration) error {
	return ep.Publish(stepEvent(EventTypeStepSucceeded, EventLevelInfo, workflowID, stepID,
		fmt.Sprintf("Step %s succeeded", stepID),
		map[string]interface{}{"duration": duration.Seconds()}))
}

func (ep *EventPublisher) PublishStepFailed(workflowID, stepID, reason string) error {
	return ep.Publish(stepEvent(EventTypeStepFailed, EventLevelError, workflowID, stepID,
		fmt.Sprintf("Step %s failed: %s", stepID, reason),
		map[string]interface{}{"reason": reason}))
}

// PublishRollbackStarted reports that a failed workflow is undoing its completed steps.
func (ep *EventPublisher) PublishRollbackStarted(workflowID string, steps int) error {
	return ep.Publish(stepEvent(EventTypeRollbackStarted, EventLevelWarning, workflowID, "",
		fmt.Sprintf("Rolling back %d steps of workflow %s", steps, workflowID),
		map[string]interface{}{"steps": steps}))
}

// PublishAssignmentGap reports an initiator left without a storage port.
func (ep *EventPublisher) PublishAssignmentGap(director, networkID, initiatorID, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeAssignmentGap,
		Source:     "zoning",
		ResourceID: initiatorID,
		Message:    fmt.Sprintf("Initiator %s on director %s not zoned: %s", initiatorID, director, reason),
		Level:      EventLevelWarning,
		Data:       map[string]interface{}{"director": director, "network": networkID, "reason": reason},
	})
}

// PublishMaskDeleted reports an export mask removed from its array.
func (ep *EventPublisher) PublishMaskDeleted(maskID, arrayID string) error {
	return ep.Publish(Event{
		Type:       EventTypeMaskDeleted,
		Source:     "exportmask",
		ResourceID: maskID,
		Message:    fmt.Sprintf("Export mask %s deleted from array %s", maskID, arrayID),
		Level:      EventLevelInfo,
		Data:       map[string]interface{}{"array_id": arrayID},
	})
}

func (ep *EventPublisher) PublishPolicyViolation(resourceID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypePolicyViolation,
		Source:     "policy",
		ResourceID: resourceID,
		Message:    fmt.Sprintf("Policy %s rejected %s: %s", policyName, resourceID, reason),
		Level:      EventLevelError,
		Data:       map[string]interface{}{"policy": policyName, "reason": reason},
	})
}

// Subscribe registers subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// processEvents delivers buffered events in batches of MaxBatchSize, and
// whatever is pending every FlushInterval. Buffered events are drained on
// shutdown.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var batch []Event
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}
		case <-tick:
			flush()
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		ep.deliveries.Add(1)
		go func(subscriber EventSubscriber) {
			defer ep.deliveries.Done()
			subscriber(event)
		}(entry.subscriber)
	}
}

// Shutdown stops the publisher and returns once every buffered event has
// been handed to its subscribers and every subscriber call has returned.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		ep.deliveries.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

var eventLevels = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := eventLevels[minLevel]
	return func(event Event) bool {
		return eventLevels[event.Level] >= floor
	}
}

// FilterByType passes events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(event Event) bool {
		_, ok := set[event.Type]
		return ok
	}
}

func FilterByWorkflowID(workflowID string) EventFilter {
	return func(event Event) bool { return event.WorkflowID == workflowID }
}

func FilterByResourceID(resourceID string) EventFilter {
	return func(event Event) bool { return event.ResourceID == resourceID }
}
