package schema

import (
	"fmt"
	"time"
)

// StepResult records the outcome of one attempted step. It is never mutated after creation.
type StepResult struct {
	Index          int           `json:"index" yaml:"index"`
	Step           Step          `json:"step" yaml:"step"`
	Succeeded      bool          `json:"succeeded" yaml:"succeeded"`
	Error          string        `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorCode      string        `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	ExtractedValue any           `json:"extracted_value,omitempty" yaml:"extracted_value,omitempty"`
	Duration       time.Duration `json:"duration_ns" yaml:"duration_ns"`
	Timestamp      time.Time     `json:"timestamp" yaml:"timestamp"`
}

// AutomationResult is the terminal artifact of one run.
// Succeeded may be true while CompletedSteps < TotalSteps: recoverable step
// failures do not fail the run. Callers needing strict completion compare the counts.
type AutomationResult struct {
	RunID          string         `json:"run_id" yaml:"run_id"`
	Succeeded      bool           `json:"succeeded" yaml:"succeeded"`
	CompletedSteps int            `json:"completed_steps" yaml:"completed_steps"`
	TotalSteps     int            `json:"total_steps" yaml:"total_steps"`
	ExtractedData  map[string]any `json:"extracted_data,omitempty" yaml:"extracted_data,omitempty"`
	Error          string         `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	Duration       time.Duration  `json:"duration_ns" yaml:"duration_ns"`
	StepResults    []StepResult   `json:"step_results" yaml:"step_results"`
}

// Complete reports whether every step succeeded.
func (r *AutomationResult) Complete() bool {
	return r.Succeeded && r.CompletedSteps == r.TotalSteps
}

// Aborted reports whether the run was cancelled.
func (r *AutomationResult) Aborted() bool {
	return r.ErrorCode == ErrCodeAborted || r.ErrorCode == ErrCodeResolutionAborted
}

// ExtractKey returns the extracted-data key for the step at index.
func ExtractKey(index int, kind StepKind) string {
	return fmt.Sprintf("step_%d_%s", index, kind)
}

// ProgressStatus is the coarse status carried by progress events.
type ProgressStatus string

const (
	ProgressRunning   ProgressStatus = "running"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
)

// AutomationProgress is an ephemeral progress event streamed during a run.
type AutomationProgress struct {
	RunID       string         `json:"run_id"`
	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	Status      ProgressStatus `json:"status"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
}

// RunState is the lifecycle state of an execution controller.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
	RunStateAborted   RunState = "aborted"
)
