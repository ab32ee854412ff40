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

const ruleColumns = `id, tenant_id, name, description, category, default_version_id, created_at, updated_at`
const ruleVersionColumns = `id, rule_id, version, status, logic, conditions, actions, created_at, published_at`

// CreateRule inserts a new rule container.
func (s *Postgres) CreateRule(ctx context.Context, rule *models.WorkflowRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	_, err := s.db.Exec(ctx,
		`INSERT INTO workflow_rules (`+ruleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rule.ID, rule.TenantID, rule.Name, rule.Description, rule.Category,
		rule.DefaultVersionID, rule.CreatedAt, rule.UpdatedAt)
	return err
}

// GetRule retrieves a rule by id within a tenant.
func (s *Postgres) GetRule(ctx context.Context, tenantID, id string) (*models.WorkflowRule, error) {
	return scanRule(s.db.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM workflow_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

// ListRules returns all rules for a tenant.
func (s *Postgres) ListRules(ctx context.Context, tenantID string) ([]*models.WorkflowRule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+ruleColumns+` FROM workflow_rules WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.WorkflowRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// CreateRuleVersion inserts a new draft version with the next version number.
func (s *Postgres) CreateRuleVersion(ctx context.Context, version *models.WorkflowRuleVersion) error {
	if version.ID == "" {
		version.ID = uuid.New().String()
	}
	version.CreatedAt = time.Now()
	if version.Status == "" {
		version.Status = models.RuleVersionStatusDraft
	}

	conditions, err := json.Marshal(version.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actions, err := json.Marshal(version.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var maxVersion int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM workflow_rule_versions WHERE rule_id = $1`,
		version.RuleID).Scan(&maxVersion); err != nil {
		return err
	}
	version.Version = maxVersion + 1

	if _, err := tx.Exec(ctx,
		`INSERT INTO workflow_rule_versions (`+ruleVersionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		version.ID, version.RuleID, version.Version, version.Status, version.Logic,
		conditions, actions, version.CreatedAt, version.PublishedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetRuleVersion retrieves one rule version.
func (s *Postgres) GetRuleVersion(ctx context.Context, id string) (*models.WorkflowRuleVersion, error) {
	return scanRuleVersion(s.db.QueryRow(ctx,
		`SELECT `+ruleVersionColumns+` FROM workflow_rule_versions WHERE id = $1`, id))
}

// ListRuleVersions returns all versions of a rule, newest first.
func (s *Postgres) ListRuleVersions(ctx context.Context, ruleID string) ([]*models.WorkflowRuleVersion, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+ruleVersionColumns+` FROM workflow_rule_versions WHERE rule_id = $1 ORDER BY version DESC`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*models.WorkflowRuleVersion
	for rows.Next() {
		version, err := scanRuleVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// GetActiveVersion resolves a rule's default version.
func (s *Postgres) GetActiveVersion(ctx context.Context, ruleID string) (*models.WorkflowRuleVersion, error) {
	return scanRuleVersion(s.db.QueryRow(ctx,
		`SELECT v.id, v.rule_id, v.version, v.status, v.logic, v.conditions, v.actions, v.created_at, v.published_at
		 FROM workflow_rule_versions v
		 JOIN workflow_rules r ON r.default_version_id = v.id
		 WHERE r.id = $1`, ruleID))
}

// PublishRuleVersion publishes a version and makes it the rule's default.
// The previous default is deprecated, never edited.
func (s *Postgres) PublishRuleVersion(ctx context.Context, ruleID, versionID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	tag, err := tx.Exec(ctx,
		`UPDATE workflow_rule_versions SET status = $1, published_at = $2
		 WHERE id = $3 AND rule_id = $4 AND status = $5`,
		models.RuleVersionStatusPublished, now, versionID, ruleID, models.RuleVersionStatusDraft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("version %s of rule %s: %w", versionID, ruleID, ErrNotPublishable)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE workflow_rule_versions SET status = $1
		 WHERE rule_id = $2 AND id <> $3 AND status = $4`,
		models.RuleVersionStatusDeprecated, ruleID, versionID, models.RuleVersionStatusPublished); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE workflow_rules SET default_version_id = $1, updated_at = $2 WHERE id = $3`,
		versionID, now, ruleID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RecordEvaluation appends one immutable evaluation record.
func (s *Postgres) RecordEvaluation(ctx context.Context, evaluation *models.WorkflowRuleEvaluation) error {
	if evaluation.ID == "" {
		evaluation.ID = uuid.New().String()
	}
	if evaluation.CreatedAt.IsZero() {
		evaluation.CreatedAt = time.Now()
	}
	trace, err := json.Marshal(evaluation.Trace)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation trace: %w", err)
	}
	context_, err := json.Marshal(evaluation.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation context: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflow_rule_evaluations (id, rule_id, rule_version_id, signal_id, execution_id, matched, trace, context, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		evaluation.ID, evaluation.RuleID, evaluation.RuleVersionID, evaluation.SignalID, evaluation.ExecutionID,
		evaluation.Matched, trace, context_, evaluation.DurationMs, evaluation.CreatedAt)
	return err
}

// ListEvaluations returns a rule's newest evaluation records.
func (s *Postgres) ListEvaluations(ctx context.Context, ruleID string, limit int) ([]*models.WorkflowRuleEvaluation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, rule_id, rule_version_id, signal_id, execution_id, matched, trace, context, duration_ms, created_at
		 FROM workflow_rule_evaluations WHERE rule_id = $1 ORDER BY created_at DESC LIMIT $2`, ruleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evaluations []*models.WorkflowRuleEvaluation
	for rows.Next() {
		var (
			evaluation models.WorkflowRuleEvaluation
			trace      []byte
			evalCtx    []byte
		)
		if err := rows.Scan(&evaluation.ID, &evaluation.RuleID, &evaluation.RuleVersionID, &evaluation.SignalID,
			&evaluation.ExecutionID, &evaluation.Matched, &trace, &evalCtx, &evaluation.DurationMs, &evaluation.CreatedAt); err != nil {
			return nil, err
		}
		if len(trace) > 0 {
			if err := json.Unmarshal(trace, &evaluation.Trace); err != nil {
				return nil, fmt.Errorf("failed to unmarshal evaluation trace: %w", err)
			}
		}
		if len(evalCtx) > 0 {
			if err := json.Unmarshal(evalCtx, &evaluation.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal evaluation context: %w", err)
			}
		}
		evaluations = append(evaluations, &evaluation)
	}
	return evaluations, rows.Err()
}

// RecordMetric appends one metric point.
func (s *Postgres) RecordMetric(ctx context.Context, tenantID, name string, value float64, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO metric_points (id, tenant_id, name, value, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), tenantID, name, value, at)
	return err
}

// Series returns metric values inside the window, oldest first.
func (s *Postgres) Series(ctx context.Context, tenantID, name string, window time.Duration) ([]float64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT value FROM metric_points
		 WHERE tenant_id = $1 AND name = $2 AND recorded_at > $3 ORDER BY recorded_at`,
		tenantID, name, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func scanRule(row pgx.Row) (*models.WorkflowRule, error) {
	var rule models.WorkflowRule
	err := row.Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.Description, &rule.Category,
		&rule.DefaultVersionID, &rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func scanRuleVersion(row pgx.Row) (*models.WorkflowRuleVersion, error) {
	var (
		version    models.WorkflowRuleVersion
		conditions []byte
		actions    []byte
	)
	err := row.Scan(&version.ID, &version.RuleID, &version.Version, &version.Status, &version.Logic,
		&conditions, &actions, &version.CreatedAt, &version.PublishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &version.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &version.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
		}
	}
	return &version, nil
}
