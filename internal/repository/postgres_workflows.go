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

const workflowColumns = `id, tenant_id, workflow_id, version, is_latest, name, description, status,
	trigger_type, trigger_config, steps, timeout_seconds, retry, created_by, created_at, updated_at`

// CreateWorkflow saves a new workflow version inside a transaction. Earlier
// versions of the same workflow concept lose their is_latest flag and the new
// version number continues from the highest existing one.
func (s *Postgres) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}
	now := time.Now()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	workflow.IsLatest = true

	triggerConfig, err := json.Marshal(workflow.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}
	steps, err := json.Marshal(workflow.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	retry, err := json.Marshal(workflow.Retry)
	if err != nil {
		return fmt.Errorf("failed to marshal retry policy: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var maxVersion int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM workflows WHERE tenant_id = $1 AND workflow_id = $2`,
		workflow.TenantID, workflow.WorkflowID).Scan(&maxVersion)
	if err != nil {
		return err
	}
	workflow.Version = maxVersion + 1

	if _, err := tx.Exec(ctx,
		`UPDATE workflows SET is_latest = FALSE WHERE tenant_id = $1 AND workflow_id = $2 AND is_latest`,
		workflow.TenantID, workflow.WorkflowID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO workflows (`+workflowColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		workflow.ID, workflow.TenantID, workflow.WorkflowID, workflow.Version, workflow.IsLatest,
		workflow.Name, workflow.Description, workflow.Status, workflow.TriggerType, triggerConfig,
		steps, workflow.TimeoutSeconds, retry, workflow.CreatedBy, workflow.CreatedAt, workflow.UpdatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetWorkflow retrieves one workflow version by its unique id.
func (s *Postgres) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return scanWorkflow(s.db.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id))
}

// GetLatestWorkflow returns the latest version for a stable workflow id.
func (s *Postgres) GetLatestWorkflow(ctx context.Context, tenantID, workflowID string) (*models.Workflow, error) {
	return scanWorkflow(s.db.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE tenant_id = $1 AND workflow_id = $2 AND is_latest`,
		tenantID, workflowID))
}

// ListWorkflows returns the latest version of every workflow for a tenant.
func (s *Postgres) ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE tenant_id = $1 AND is_latest ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, workflow)
	}
	return workflows, rows.Err()
}

// UpdateWorkflowStatus toggles the status of one workflow version. Status is
// the only mutable column of a saved version.
func (s *Postgres) UpdateWorkflowStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflows SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var (
		workflow      models.Workflow
		triggerConfig []byte
		steps         []byte
		retry         []byte
	)
	err := row.Scan(&workflow.ID, &workflow.TenantID, &workflow.WorkflowID, &workflow.Version, &workflow.IsLatest,
		&workflow.Name, &workflow.Description, &workflow.Status, &workflow.TriggerType, &triggerConfig,
		&steps, &workflow.TimeoutSeconds, &retry, &workflow.CreatedBy, &workflow.CreatedAt, &workflow.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(triggerConfig) > 0 {
		if err := json.Unmarshal(triggerConfig, &workflow.TriggerConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &workflow.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}
	if len(retry) > 0 {
		if err := json.Unmarshal(retry, &workflow.Retry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal retry policy: %w", err)
		}
	}
	return &workflow, nil
}
