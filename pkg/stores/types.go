package stores

import (
	"time"
)

// EventLevel represents the severity level of a stored event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Event is an observability event kept in the store
type Event struct {
	ID         int64      `json:"id"`
	EventID    string     `json:"event_id"`
	Type       string     `json:"type"`
	Level      EventLevel `json:"level"`
	WorkflowID string     `json:"workflow_id,omitempty"`
	StepID     string     `json:"step_id,omitempty"`
	ResourceID string     `json:"resource_id,omitempty"`
	Message    string     `json:"message"`
	Details    string     `json:"details"` // JSON blob
	Timestamp  time.Time  `json:"timestamp"`
}

// EventFilter narrows an event listing. Empty fields match everything.
type EventFilter struct {
	WorkflowID string
	Type       string
	Level      EventLevel
}

// StepLock is a named lock held by a workflow step
type StepLock struct {
	Key        string    `json:"key"`
	StepID     string    `json:"step_id"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lease ran out at now.
func (l StepLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
