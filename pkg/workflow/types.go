package workflow

import (
	"fmt"
	"time"

	"github.com/openfroyo/xbzone/pkg/engine"
)

// Step is one unit of a workflow: a method to execute and, optionally, the
// method that undoes it.
type Step struct {
	// ID identifies the step. Generated at dispatch when empty.
	ID string `json:"id,omitempty"`

	// Description is a human-readable summary of what the step does.
	Description string `json:"description,omitempty"`

	// Method is executed when the step runs.
	Method engine.Method `json:"method"`

	// Rollback is executed under a fresh step ID when a later step fails.
	Rollback *engine.Method `json:"rollback,omitempty"`

	// WaitFor lists the steps that must succeed before this one starts.
	WaitFor []string `json:"wait_for,omitempty"`
}

// Validate checks if the step can be dispatched.
func (s *Step) Validate() error {
	if s.Method.Name == "" {
		return engine.NewPermanentError("step has no method", nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(s.ID)
	}
	for _, dep := range s.WaitFor {
		if dep == s.ID {
			return engine.NewPermanentError(fmt.Sprintf("step %s waits for itself", s.ID), nil).
				WithCode(engine.ErrCodeValidation).
				WithResource(s.ID)
		}
	}
	return nil
}

// Workflow is an ordered set of steps dispatched together.
type Workflow struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Steps       []Step `json:"steps"`
}

// AddStep appends a step and returns its ID.
func (w *Workflow) AddStep(step Step) string {
	if step.ID == "" {
		step.ID = fmt.Sprintf("%s-step-%d", w.ID, len(w.Steps)+1)
	}
	w.Steps = append(w.Steps, step)
	return step.ID
}

// StepRecord is the tracked state of an executed step.
type StepRecord struct {
	ID          string            `json:"id"`
	WorkflowID  string            `json:"workflow_id"`
	Method      string            `json:"method"`
	Status      engine.StepStatus `json:"status"`
	Error       string            `json:"error,omitempty"`
	ErrorCode   string            `json:"error_code,omitempty"`
	RollbackOf  string            `json:"rollback_of,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Result summarizes a dispatched workflow.
type Result struct {
	WorkflowID string                `json:"workflow_id"`
	Status     engine.WorkflowStatus `json:"status"`
	Steps      []StepRecord          `json:"steps"`
	Rollbacks  []StepRecord          `json:"rollbacks,omitempty"`
	Duration   time.Duration         `json:"duration"`

	// Err is the first step failure, nil on success.
	Err error `json:"-"`
}

// Summary counts step outcomes.
func (r *Result) Summary() (succeeded, failed, skipped int) {
	for _, s := range r.Steps {
		switch s.Status {
		case engine.StepStatusSucceeded:
			succeeded++
		case engine.StepStatusFailed:
			failed++
		case engine.StepStatusSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}
