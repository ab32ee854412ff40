package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/iamrudi/AgentDash-sub001/internal/canonical"
	"github.com/iamrudi/AgentDash-sub001/internal/repository"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// Coordinator guarantees at most one execution per (workflow version, input)
// pair. The input is reduced to a canonical hash so that payloads differing
// only in key order or whitespace collapse to the same execution. The actual
// race is settled by the store's unique constraint, not in memory.
type Coordinator struct {
	executions repository.ExecutionStore
}

// NewCoordinator creates an idempotency coordinator over the execution store.
func NewCoordinator(executions repository.ExecutionStore) *Coordinator {
	return &Coordinator{executions: executions}
}

// InputHash produces the dedup key for a trigger payload.
func (c *Coordinator) InputHash(payload map[string]interface{}) (string, error) {
	return canonical.Hash(payload)
}

// Begin claims an execution slot for the workflow version and input. When the
// slot is free a fresh pending execution is returned with created=true; when a
// prior call already claimed it, that execution is returned with
// created=false and the caller must not run the workflow again.
func (c *Coordinator) Begin(ctx context.Context, workflow *models.Workflow, trigger Trigger) (*models.WorkflowExecution, bool, error) {
	hash, err := c.InputHash(trigger.Payload)
	if err != nil {
		return nil, false, err
	}
	execution := &models.WorkflowExecution{
		ID:             uuid.NewString(),
		WorkflowID:     workflow.ID,
		Status:         models.ExecutionStatusPending,
		TriggerID:      trigger.ID,
		TriggerType:    trigger.Type,
		TriggerPayload: trigger.Payload,
		InputHash:      hash,
		StartedAt:      time.Now().UTC(),
	}
	return c.executions.CreateExecution(ctx, execution)
}
