package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/iamrudi/AgentDash-sub001/db/migrations"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

func TestPostgresRepository(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatal(err)
	}

	store := NewPostgres(pool)

	tenant := &models.Tenant{Name: "Acme", Domain: "acme.test", DedupWindowSeconds: 120}
	if err := store.CreateTenant(ctx, tenant); err != nil {
		t.Fatal(err)
	}

	t.Run("tenant round trip", func(t *testing.T) {
		got, err := store.GetTenant(ctx, tenant.ID)
		assert.NoError(t, err)
		assert.Equal(t, "Acme", got.Name)
		assert.Equal(t, 120, got.DedupWindowSeconds)

		byDomain, err := store.GetTenantByDomain(ctx, "acme.test")
		assert.NoError(t, err)
		assert.Equal(t, tenant.ID, byDomain.ID)

		_, err = store.GetTenantByDomain(ctx, "unknown.test")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("signal dedup lookup excludes duplicates", func(t *testing.T) {
		original := &models.Signal{
			ID:        uuid.NewString(),
			TenantID:  tenant.ID,
			Source:    models.SignalSourceWebhook,
			Type:      "invoice.overdue",
			Payload:   map[string]interface{}{"invoice": "inv-1"},
			Urgency:   models.SignalUrgencyNormal,
			DedupHash: "fp-1",
			Status:    models.SignalStatusCompleted,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		assert.NoError(t, store.CreateSignal(ctx, original))

		dup := *original
		dup.ID = uuid.NewString()
		dup.Status = models.SignalStatusDuplicate
		assert.NoError(t, store.CreateSignal(ctx, &dup))

		found, err := store.FindRecentByFingerprint(ctx, tenant.ID, "fp-1", time.Hour)
		assert.NoError(t, err)
		assert.Equal(t, original.ID, found.ID)

		_, err = store.FindRecentByFingerprint(ctx, tenant.ID, "fp-1", time.Nanosecond)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("workflow versions", func(t *testing.T) {
		steps := []models.WorkflowStep{{
			ID:     "notify",
			Type:   models.StepTypeAction,
			Config: json.RawMessage(`{"action_type":"email"}`),
		}}
		v1 := &models.Workflow{
			TenantID:    tenant.ID,
			WorkflowID:  "wf-1",
			Name:        "Notify",
			Status:      models.WorkflowStatusActive,
			TriggerType: models.TriggerTypeSignal,
			Steps:       steps,
		}
		assert.NoError(t, store.CreateWorkflow(ctx, v1))
		assert.Equal(t, 1, v1.Version)
		assert.True(t, v1.IsLatest)

		v2 := &models.Workflow{
			TenantID:    tenant.ID,
			WorkflowID:  "wf-1",
			Name:        "Notify",
			Status:      models.WorkflowStatusActive,
			TriggerType: models.TriggerTypeSignal,
			Steps:       steps,
		}
		assert.NoError(t, store.CreateWorkflow(ctx, v2))
		assert.Equal(t, 2, v2.Version)

		latest, err := store.GetLatestWorkflow(ctx, tenant.ID, "wf-1")
		assert.NoError(t, err)
		assert.Equal(t, v2.ID, latest.ID)

		// The superseded version row is still readable but no longer latest.
		old, err := store.GetWorkflow(ctx, v1.ID)
		assert.NoError(t, err)
		assert.False(t, old.IsLatest)
		assert.Len(t, old.Steps, 1)
	})

	newWorkflowRow := func(t *testing.T, workflowID string) string {
		t.Helper()
		workflow := &models.Workflow{
			TenantID:    tenant.ID,
			WorkflowID:  workflowID,
			Name:        workflowID,
			Status:      models.WorkflowStatusActive,
			TriggerType: models.TriggerTypeManual,
			Steps: []models.WorkflowStep{{
				ID:     "notify",
				Type:   models.StepTypeAction,
				Config: json.RawMessage(`{"action_type":"email"}`),
			}},
		}
		if err := store.CreateWorkflow(ctx, workflow); err != nil {
			t.Fatal(err)
		}
		return workflow.ID
	}

	t.Run("execution insert is idempotent per input hash", func(t *testing.T) {
		workflowRowID := newWorkflowRow(t, "wf-exec")
		first := &models.WorkflowExecution{
			ID:          uuid.NewString(),
			WorkflowID:  workflowRowID,
			Status:      models.ExecutionStatusPending,
			TriggerType: models.TriggerTypeManual,
			InputHash:   "hash-a",
			StartedAt:   time.Now().UTC(),
		}
		created, ok, err := store.CreateExecution(ctx, first)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, first.ID, created.ID)

		second := &models.WorkflowExecution{
			ID:          uuid.NewString(),
			WorkflowID:  workflowRowID,
			Status:      models.ExecutionStatusPending,
			TriggerType: models.TriggerTypeManual,
			InputHash:   "hash-a",
			StartedAt:   time.Now().UTC(),
		}
		existing, ok, err := store.CreateExecution(ctx, second)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, first.ID, existing.ID)

		// A different input hash starts a fresh execution.
		third := &models.WorkflowExecution{
			ID:          uuid.NewString(),
			WorkflowID:  workflowRowID,
			Status:      models.ExecutionStatusPending,
			TriggerType: models.TriggerTypeManual,
			InputHash:   "hash-b",
			StartedAt:   time.Now().UTC(),
		}
		_, ok, err = store.CreateExecution(ctx, third)
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("event log append and replay", func(t *testing.T) {
		execution := &models.WorkflowExecution{
			ID:          uuid.NewString(),
			WorkflowID:  newWorkflowRow(t, "wf-events"),
			Status:      models.ExecutionStatusRunning,
			TriggerType: models.TriggerTypeManual,
			InputHash:   "hash-events",
			StartedAt:   time.Now().UTC(),
		}
		_, _, err := store.CreateExecution(ctx, execution)
		assert.NoError(t, err)

		base := time.Now().UTC()
		for i, eventType := range []models.EventType{models.EventTypeStarted, models.EventTypeRetrying, models.EventTypeFailed} {
			assert.NoError(t, store.AppendEvent(ctx, &models.WorkflowEvent{
				ID:          uuid.NewString(),
				ExecutionID: execution.ID,
				StepID:      "notify",
				StepType:    models.StepTypeAction,
				EventType:   eventType,
				RetryCount:  i,
				CreatedAt:   base.Add(time.Duration(i) * time.Millisecond),
			}))
		}

		events, err := store.ListEvents(ctx, execution.ID)
		assert.NoError(t, err)
		assert.Len(t, events, 3)
		assert.Equal(t, models.EventTypeStarted, events[0].EventType)
		assert.Equal(t, models.EventTypeFailed, events[2].EventType)
		assert.Equal(t, 2, events[2].RetryCount)
	})

	t.Run("rule version lifecycle", func(t *testing.T) {
		rule := &models.WorkflowRule{
			ID:       uuid.NewString(),
			TenantID: tenant.ID,
			Name:     "churn",
			Category: models.RuleCategoryThreshold,
		}
		assert.NoError(t, store.CreateRule(ctx, rule))

		v1 := &models.WorkflowRuleVersion{
			RuleID: rule.ID,
			Logic:  models.ConditionLogicAll,
			Conditions: []models.RuleCondition{
				{Field: "churn_score", Operator: models.OpGT, Value: 0.7, Position: 0},
			},
		}
		assert.NoError(t, store.CreateRuleVersion(ctx, v1))
		assert.Equal(t, 1, v1.Version)
		assert.Equal(t, models.RuleVersionStatusDraft, v1.Status)

		// No active version until something is published.
		_, err := store.GetActiveVersion(ctx, rule.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		assert.NoError(t, store.PublishRuleVersion(ctx, rule.ID, v1.ID))
		active, err := store.GetActiveVersion(ctx, rule.ID)
		assert.NoError(t, err)
		assert.Equal(t, v1.ID, active.ID)
		assert.Equal(t, models.RuleVersionStatusPublished, active.Status)

		// Publishing is a one-way door per version.
		assert.ErrorIs(t, store.PublishRuleVersion(ctx, rule.ID, v1.ID), ErrNotPublishable)

		// A new draft supersedes the published version on publish.
		v2 := &models.WorkflowRuleVersion{
			RuleID: rule.ID,
			Logic:  models.ConditionLogicAll,
			Conditions: []models.RuleCondition{
				{Field: "churn_score", Operator: models.OpGT, Value: 0.9, Position: 0},
			},
		}
		assert.NoError(t, store.CreateRuleVersion(ctx, v2))
		assert.Equal(t, 2, v2.Version)
		assert.NoError(t, store.PublishRuleVersion(ctx, rule.ID, v2.ID))

		active, err = store.GetActiveVersion(ctx, rule.ID)
		assert.NoError(t, err)
		assert.Equal(t, v2.ID, active.ID)

		superseded, err := store.GetRuleVersion(ctx, v1.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.RuleVersionStatusDeprecated, superseded.Status)
		// The deprecated version's conditions are untouched.
		assert.Equal(t, 1, len(superseded.Conditions))
	})

	t.Run("evaluation audit trail", func(t *testing.T) {
		rule := &models.WorkflowRule{
			ID:       uuid.NewString(),
			TenantID: tenant.ID,
			Name:     "audit",
			Category: models.RuleCategoryCustom,
		}
		assert.NoError(t, store.CreateRule(ctx, rule))
		version := &models.WorkflowRuleVersion{
			RuleID: rule.ID,
			Logic:  models.ConditionLogicAll,
			Conditions: []models.RuleCondition{
				{Field: "x", Operator: models.OpEQ, Value: 1, Position: 0},
			},
		}
		assert.NoError(t, store.CreateRuleVersion(ctx, version))

		evaluation := &models.WorkflowRuleEvaluation{
			ID:            uuid.NewString(),
			RuleID:        rule.ID,
			RuleVersionID: version.ID,
			Matched:       true,
			Trace: []models.ConditionResult{
				{Field: "x", Operator: models.OpEQ, Passed: true, Actual: 1, Expected: 1},
			},
			CreatedAt: time.Now().UTC(),
		}
		assert.NoError(t, store.RecordEvaluation(ctx, evaluation))

		evaluations, err := store.ListEvaluations(ctx, rule.ID, 10)
		assert.NoError(t, err)
		assert.Len(t, evaluations, 1)
		assert.True(t, evaluations[0].Matched)
		assert.Len(t, evaluations[0].Trace, 1)
	})

	t.Run("metric series window", func(t *testing.T) {
		now := time.Now().UTC()
		assert.NoError(t, store.RecordMetric(ctx, tenant.ID, "sessions", 100, now.Add(-2*time.Hour)))
		assert.NoError(t, store.RecordMetric(ctx, tenant.ID, "sessions", 110, now.Add(-30*time.Minute)))
		assert.NoError(t, store.RecordMetric(ctx, tenant.ID, "sessions", 120, now.Add(-5*time.Minute)))

		series, err := store.Series(ctx, tenant.ID, "sessions", time.Hour)
		assert.NoError(t, err)
		assert.Equal(t, []float64{110, 120}, series)
	})
}
