package engine

import (
	"encoding/json"
	"fmt"
)

// StepStatus represents the state of a single workflow step.
type StepStatus string

const (
	// StepStatusPending indicates the step is queued but not yet dispatched.
	StepStatusPending StepStatus = "pending"

	// StepStatusExecuting indicates the step handler has started.
	StepStatusExecuting StepStatus = "executing"

	// StepStatusSucceeded indicates the step completed successfully.
	StepStatusSucceeded StepStatus = "succeeded"

	// StepStatusFailed indicates the step failed.
	StepStatusFailed StepStatus = "failed"

	// StepStatusSkipped indicates the step never ran because an earlier step failed.
	StepStatusSkipped StepStatus = "skipped"
)

// IsTerminal returns true if the step status represents a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusSucceeded || s == StepStatusFailed || s == StepStatusSkipped
}

// IsActive returns true if the step is pending or executing.
func (s StepStatus) IsActive() bool {
	return s == StepStatusPending || s == StepStatusExecuting
}

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StepStatusPending, StepStatusExecuting, StepStatusSucceeded,
		StepStatusFailed, StepStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = StepStatus(str)
	return s.Validate()
}

// WorkflowStatus represents the overall status of a dispatched workflow.
type WorkflowStatus string

const (
	WorkflowStatusRunning    WorkflowStatus = "running"
	WorkflowStatusSucceeded  WorkflowStatus = "succeeded"
	WorkflowStatusFailed     WorkflowStatus = "failed"
	WorkflowStatusRolledBack WorkflowStatus = "rolled_back"
)

// IsTerminal returns true if the workflow status represents a final state.
func (s WorkflowStatus) IsTerminal() bool {
	return s != WorkflowStatusRunning
}

// LockTimeoutClass selects the configured timeout applied to a lock acquisition.
type LockTimeoutClass string

const (
	// LockTimeoutVPlexBackendExport applies to backend export mask mutation steps.
	LockTimeoutVPlexBackendExport LockTimeoutClass = "vplex_backend_export"

	// LockTimeoutDefault applies when no class is configured.
	LockTimeoutDefault LockTimeoutClass = "default"
)
