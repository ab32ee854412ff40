package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

const executionColumns = `id, workflow_id, status, trigger_id, trigger_type, trigger_payload,
	input_hash, output_hash, result, error, current_step_id, started_at, completed_at`

// CreateExecution inserts an execution guarded by the unique
// (workflow_id, input_hash) constraint. ON CONFLICT DO NOTHING closes the
// race between concurrent duplicate triggers without an application-level
// check-then-insert; when the insert is a no-op the existing row is fetched
// and returned with created=false.
func (s *Postgres) CreateExecution(ctx context.Context, execution *models.WorkflowExecution) (*models.WorkflowExecution, bool, error) {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}
	if execution.StartedAt.IsZero() {
		execution.StartedAt = time.Now()
	}

	payload, err := json.Marshal(execution.TriggerPayload)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal trigger payload: %w", err)
	}
	result, err := json.Marshal(execution.Result)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal result: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`INSERT INTO workflow_executions (`+executionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (workflow_id, input_hash) DO NOTHING`,
		execution.ID, execution.WorkflowID, execution.Status, execution.TriggerID, execution.TriggerType,
		payload, execution.InputHash, execution.OutputHash, result, execution.Error,
		execution.CurrentStepID, execution.StartedAt, execution.CompletedAt)
	if err != nil {
		return nil, false, err
	}

	if tag.RowsAffected() == 0 {
		existing, err := scanExecution(s.db.QueryRow(ctx,
			`SELECT `+executionColumns+` FROM workflow_executions WHERE workflow_id = $1 AND input_hash = $2`,
			execution.WorkflowID, execution.InputHash))
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return execution, true, nil
}

// UpdateExecution rewrites the mutable fields of an execution.
func (s *Postgres) UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	result, err := json.Marshal(execution.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE workflow_executions
		 SET status = $1, output_hash = $2, result = $3, error = $4, current_step_id = $5, completed_at = $6
		 WHERE id = $7`,
		execution.Status, execution.OutputHash, result, execution.Error,
		execution.CurrentStepID, execution.CompletedAt, execution.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExecution retrieves an execution by id.
func (s *Postgres) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return scanExecution(s.db.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id))
}

// ListExecutions returns the newest executions of a workflow version.
func (s *Postgres) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE workflow_id = $1 ORDER BY started_at DESC LIMIT $2`,
		workflowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*models.WorkflowExecution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

// AppendEvent writes one step-level event. The log is append-only.
func (s *Postgres) AppendEvent(ctx context.Context, event *models.WorkflowEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	input, err := json.Marshal(event.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal event input: %w", err)
	}
	output, err := json.Marshal(event.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal event output: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflow_events (id, execution_id, step_id, step_type, event_type, input, output, error, duration_ms, retry_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID, event.ExecutionID, event.StepID, event.StepType, event.EventType,
		input, output, event.Error, event.DurationMs, event.RetryCount, event.CreatedAt)
	return err
}

// ListEvents returns an execution's event log in trace order.
func (s *Postgres) ListEvents(ctx context.Context, executionID string) ([]*models.WorkflowEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, execution_id, step_id, step_type, event_type, input, output, error, duration_ms, retry_count, created_at
		 FROM workflow_events WHERE execution_id = $1 ORDER BY created_at, retry_count`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.WorkflowEvent
	for rows.Next() {
		var (
			event  models.WorkflowEvent
			input  []byte
			output []byte
		)
		if err := rows.Scan(&event.ID, &event.ExecutionID, &event.StepID, &event.StepType, &event.EventType,
			&input, &output, &event.Error, &event.DurationMs, &event.RetryCount, &event.CreatedAt); err != nil {
			return nil, err
		}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &event.Input); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event input: %w", err)
			}
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &event.Output); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event output: %w", err)
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

func scanExecution(row pgx.Row) (*models.WorkflowExecution, error) {
	var (
		execution models.WorkflowExecution
		payload   []byte
		result    []byte
	)
	err := row.Scan(&execution.ID, &execution.WorkflowID, &execution.Status, &execution.TriggerID, &execution.TriggerType,
		&payload, &execution.InputHash, &execution.OutputHash, &result, &execution.Error,
		&execution.CurrentStepID, &execution.StartedAt, &execution.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &execution.TriggerPayload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger payload: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &execution.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return &execution, nil
}
