package models

import (
	"encoding/json"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusPaused   WorkflowStatus = "paused"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// TriggerType identifies what kind of event starts a workflow.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeSignal   TriggerType = "signal"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeWebhook  TriggerType = "webhook"
)

// StepType tags the variant of a workflow step. The step's Config is decoded
// into the matching per-type config struct by the engine.
type StepType string

const (
	StepTypeSignal   StepType = "signal"
	StepTypeRule     StepType = "rule"
	StepTypeAI       StepType = "ai"
	StepTypeAction   StepType = "action"
	StepTypeBranch   StepType = "branch"
	StepTypeParallel StepType = "parallel"
	StepTypeAgent    StepType = "agent"
)

// ErrorPolicy controls what the engine does when a step fails.
type ErrorPolicy string

const (
	ErrorPolicyFail  ErrorPolicy = "fail"
	ErrorPolicySkip  ErrorPolicy = "skip"
	ErrorPolicyRetry ErrorPolicy = "retry"
)

// RetryPolicy bounds retries of a failing step. BackoffMultiplier defaults to
// 1.0 (constant delay between attempts); values above 1 produce exponential
// backoff.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	BackoffMs         int     `json:"backoff_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`
}

// WorkflowStep is one node in a workflow's step graph. Next is the id of the
// step to run after this one, or empty for a terminal step. The graph
// reachable from the entry step must be acyclic; this is enforced when the
// workflow is saved, not at run time.
type WorkflowStep struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Type    StepType        `json:"type"`
	Config  json.RawMessage `json:"config,omitempty"`
	Next    string          `json:"next,omitempty"`
	OnError ErrorPolicy     `json:"on_error,omitempty"`
	Retry   *RetryPolicy    `json:"retry,omitempty"`
}

// Workflow is a named, versioned automation definition. ID identifies one
// version; WorkflowID is the stable concept id shared by every version of the
// same workflow, with IsLatest marking the current one. Definitions referenced
// by an execution are immutable apart from status toggles; edits create a new
// version.
type Workflow struct {
	ID             string                 `json:"id" db:"id"`
	TenantID       string                 `json:"tenant_id" db:"tenant_id"`
	WorkflowID     string                 `json:"workflow_id" db:"workflow_id"`
	Version        int                    `json:"version" db:"version"`
	IsLatest       bool                   `json:"is_latest" db:"is_latest"`
	Name           string                 `json:"name" db:"name"`
	Description    string                 `json:"description,omitempty" db:"description"`
	Status         WorkflowStatus         `json:"status" db:"status"`
	TriggerType    TriggerType            `json:"trigger_type" db:"trigger_type"`
	TriggerConfig  map[string]interface{} `json:"trigger_config,omitempty" db:"trigger_config"`
	Steps          []WorkflowStep         `json:"steps" db:"steps"`
	TimeoutSeconds int                    `json:"timeout_seconds" db:"timeout_seconds"`
	Retry          RetryPolicy            `json:"retry" db:"retry"`
	CreatedBy      string                 `json:"created_by,omitempty" db:"created_by"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at" db:"updated_at"`
}

// EntryStep returns the first step of the graph, or nil for an empty workflow.
func (w *Workflow) EntryStep() *WorkflowStep {
	if len(w.Steps) == 0 {
		return nil
	}
	return &w.Steps[0]
}

// StepByID returns the step with the given id, or nil.
func (w *Workflow) StepByID(id string) *WorkflowStep {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// ExecutionStatus represents the state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the execution has reached a final state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// WorkflowExecution is one run of a workflow version against one triggering
// input. At most one execution exists per (WorkflowID, InputHash) pair; the
// database enforces this with a unique constraint.
type WorkflowExecution struct {
	ID             string                 `json:"id" db:"id"`
	WorkflowID     string                 `json:"workflow_id" db:"workflow_id"`
	Status         ExecutionStatus        `json:"status" db:"status"`
	TriggerID      string                 `json:"trigger_id,omitempty" db:"trigger_id"`
	TriggerType    TriggerType            `json:"trigger_type" db:"trigger_type"`
	TriggerPayload map[string]interface{} `json:"trigger_payload,omitempty" db:"trigger_payload"`
	InputHash      string                 `json:"input_hash" db:"input_hash"`
	OutputHash     string                 `json:"output_hash,omitempty" db:"output_hash"`
	Result         map[string]interface{} `json:"result,omitempty" db:"result"`
	Error          *string                `json:"error,omitempty" db:"error"`
	CurrentStepID  *string                `json:"current_step_id,omitempty" db:"current_step_id"`
	StartedAt      time.Time              `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty" db:"completed_at"`
}

// EventType classifies a step-level event.
type EventType string

const (
	EventTypeStarted   EventType = "started"
	EventTypeCompleted EventType = "completed"
	EventTypeFailed    EventType = "failed"
	EventTypeSkipped   EventType = "skipped"
	EventTypeRetrying  EventType = "retrying"
)

// WorkflowEvent is one append-only entry in an execution's step-level log.
// Ordering by CreatedAt and RetryCount reconstructs the full trace. Events
// are never mutated after write.
type WorkflowEvent struct {
	ID          string                 `json:"id" db:"id"`
	ExecutionID string                 `json:"execution_id" db:"execution_id"`
	StepID      string                 `json:"step_id" db:"step_id"`
	StepType    StepType               `json:"step_type" db:"step_type"`
	EventType   EventType              `json:"event_type" db:"event_type"`
	Input       map[string]interface{} `json:"input,omitempty" db:"input"`
	Output      map[string]interface{} `json:"output,omitempty" db:"output"`
	Error       *string                `json:"error,omitempty" db:"error"`
	DurationMs  int64                  `json:"duration_ms" db:"duration_ms"`
	RetryCount  int                    `json:"retry_count" db:"retry_count"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}
