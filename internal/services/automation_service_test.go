package services

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iamrudi/AgentDash-sub001/internal/engine"
	"github.com/iamrudi/AgentDash-sub001/internal/logging"
	"github.com/iamrudi/AgentDash-sub001/internal/repository"
	"github.com/iamrudi/AgentDash-sub001/internal/router"
	"github.com/iamrudi/AgentDash-sub001/internal/rules"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

type countingDispatcher struct {
	calls int32
}

func (d *countingDispatcher) Dispatch(ctx context.Context, actionType string, config, input map[string]interface{}) (map[string]interface{}, error) {
	atomic.AddInt32(&d.calls, 1)
	return map[string]interface{}{"ok": true}, nil
}

type fixture struct {
	repo       *repository.Memory
	dispatcher *countingDispatcher
	service    *AutomationService
	tenantID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := repository.NewMemory()
	logger := logging.NewLogger()
	evaluator := rules.NewEvaluator(repo)
	dispatcher := &countingDispatcher{}
	eng := engine.New(repo, evaluator, dispatcher, nil, nil, logger)
	rt := router.New(repo, evaluator, router.PolicyFirst)
	service := NewAutomationService(repo, rt, eng, evaluator, logger, 5*time.Minute)

	tenant := &models.Tenant{Name: "Acme", Domain: "acme.test"}
	assert.NoError(t, repo.CreateTenant(context.Background(), tenant))

	return &fixture{repo: repo, dispatcher: dispatcher, service: service, tenantID: tenant.ID}
}

func (f *fixture) seedWorkflowAndRoute(t *testing.T, signalType string) *models.Workflow {
	t.Helper()
	ctx := context.Background()
	workflow := &models.Workflow{
		TenantID:    f.tenantID,
		WorkflowID:  "wf-notify",
		Name:        "Notify",
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerTypeSignal,
		Steps: []models.WorkflowStep{{
			ID:     "notify",
			Type:   models.StepTypeAction,
			Config: json.RawMessage(`{"action_type":"email"}`),
		}},
	}
	assert.NoError(t, f.repo.CreateWorkflow(ctx, workflow))
	assert.NoError(t, f.repo.CreateRoute(ctx, &models.SignalRoute{
		TenantID:   f.tenantID,
		Name:       "route",
		Source:     models.RouteWildcard,
		SignalType: signalType,
		WorkflowID: workflow.WorkflowID,
		Priority:   1,
		Enabled:    true,
	}))
	return workflow
}

func (f *fixture) signal(signalType string, payload map[string]interface{}) *models.Signal {
	return &models.Signal{
		TenantID: f.tenantID,
		Source:   models.SignalSourceWebhook,
		Type:     signalType,
		Urgency:  models.SignalUrgencyNormal,
		Payload:  payload,
	}
}

func TestIngestSignal_RoutesAndCompletes(t *testing.T) {
	f := newFixture(t)
	f.seedWorkflowAndRoute(t, "invoice.overdue")

	signal, err := f.service.IngestSignal(context.Background(), f.signal("invoice.overdue", map[string]interface{}{"invoice": "inv-1"}))
	assert.NoError(t, err)
	assert.Equal(t, models.SignalStatusCompleted, signal.Status)
	assert.NotEmpty(t, signal.DedupHash)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.dispatcher.calls))
}

func TestIngestSignal_DuplicateWithinWindowNotRouted(t *testing.T) {
	f := newFixture(t)
	f.seedWorkflowAndRoute(t, "invoice.overdue")

	payload := map[string]interface{}{"invoice": "inv-1", "amount": 100}
	first, err := f.service.IngestSignal(context.Background(), f.signal("invoice.overdue", payload))
	assert.NoError(t, err)
	assert.Equal(t, models.SignalStatusCompleted, first.Status)

	second, err := f.service.IngestSignal(context.Background(), f.signal("invoice.overdue",
		map[string]interface{}{"amount": 100, "invoice": "inv-1"}))
	assert.NoError(t, err)
	assert.Equal(t, models.SignalStatusDuplicate, second.Status)
	assert.Equal(t, first.DedupHash, second.DedupHash)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.dispatcher.calls))
}

func TestIngestSignal_DifferentPayloadIsNotDuplicate(t *testing.T) {
	f := newFixture(t)
	f.seedWorkflowAndRoute(t, "invoice.overdue")

	_, err := f.service.IngestSignal(context.Background(), f.signal("invoice.overdue", map[string]interface{}{"invoice": "inv-1"}))
	assert.NoError(t, err)

	second, err := f.service.IngestSignal(context.Background(), f.signal("invoice.overdue", map[string]interface{}{"invoice": "inv-2"}))
	assert.NoError(t, err)
	assert.Equal(t, models.SignalStatusCompleted, second.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.dispatcher.calls))
}

func TestIngestSignal_DuplicateOfDuplicateMatchesOriginal(t *testing.T) {
	f := newFixture(t)

	payload := map[string]interface{}{"k": 1}
	_, err := f.service.IngestSignal(context.Background(), f.signal("x", payload))
	assert.NoError(t, err)

	// Duplicates are excluded from the fingerprint lookup, so a third copy
	// still resolves against the original signal.
	second, err := f.service.IngestSignal(context.Background(), f.signal("x", payload))
	assert.NoError(t, err)
	assert.Equal(t, models.SignalStatusDuplicate, second.Status)

	third, err := f.service.IngestSignal(context.Background(), f.signal("x", payload))
	assert.NoError(t, err)
	assert.Equal(t, models.SignalStatusDuplicate, third.Status)
}

func TestIngestSignal_NoMatchingRouteCompletes(t *testing.T) {
	f := newFixture(t)

	signal, err := f.service.IngestSignal(context.Background(), f.signal("unrouted.type", map[string]interface{}{"k": 1}))
	assert.NoError(t, err)
	assert.Equal(t, models.SignalStatusCompleted, signal.Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.dispatcher.calls))
}

func TestIngestSignal_RejectsIncompleteSignal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.IngestSignal(ctx, &models.Signal{Type: "x", Source: models.SignalSourceWebhook})
	assert.Error(t, err)

	_, err = f.service.IngestSignal(ctx, &models.Signal{TenantID: f.tenantID, Source: models.SignalSourceWebhook})
	assert.Error(t, err)

	_, err = f.service.IngestSignal(ctx, &models.Signal{TenantID: f.tenantID, Type: "x"})
	assert.Error(t, err)
}

func TestIngestSignal_PausedWorkflowSkipped(t *testing.T) {
	f := newFixture(t)
	workflow := f.seedWorkflowAndRoute(t, "invoice.overdue")
	assert.NoError(t, f.repo.UpdateWorkflowStatus(context.Background(), workflow.ID, models.WorkflowStatusPaused))

	signal, err := f.service.IngestSignal(context.Background(), f.signal("invoice.overdue", map[string]interface{}{"k": 1}))
	assert.NoError(t, err)
	assert.Equal(t, models.SignalStatusCompleted, signal.Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.dispatcher.calls))
}

func TestDedupWindowFor_TenantOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tenant := &models.Tenant{Name: "Short Window", Domain: "short.test", DedupWindowSeconds: 30}
	assert.NoError(t, f.repo.CreateTenant(ctx, tenant))

	assert.Equal(t, 30*time.Second, f.service.dedupWindowFor(ctx, tenant.ID))
	// Tenants without an override use the deployment default.
	assert.Equal(t, 5*time.Minute, f.service.dedupWindowFor(ctx, f.tenantID))
	// Unknown tenants fall back to the default too.
	assert.Equal(t, 5*time.Minute, f.service.dedupWindowFor(ctx, "nope"))
}

func TestExecuteWorkflow_ReplayReturnsOriginalExecution(t *testing.T) {
	f := newFixture(t)
	f.seedWorkflowAndRoute(t, "invoice.overdue")

	payload := map[string]interface{}{"run": "once"}
	first, started, err := f.service.ExecuteWorkflow(context.Background(), f.tenantID, "wf-notify", payload)
	assert.NoError(t, err)
	assert.True(t, started)

	replay, started, err := f.service.ExecuteWorkflow(context.Background(), f.tenantID, "wf-notify", payload)
	assert.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.dispatcher.calls))
}

func TestExecuteWorkflow_RejectsInactiveWorkflow(t *testing.T) {
	f := newFixture(t)
	workflow := f.seedWorkflowAndRoute(t, "invoice.overdue")
	assert.NoError(t, f.repo.UpdateWorkflowStatus(context.Background(), workflow.ID, models.WorkflowStatusPaused))

	_, _, err := f.service.ExecuteWorkflow(context.Background(), f.tenantID, "wf-notify", map[string]interface{}{"k": 1})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestSaveWorkflow_RejectsCyclicGraph(t *testing.T) {
	f := newFixture(t)

	workflow := &models.Workflow{
		TenantID:    f.tenantID,
		WorkflowID:  "wf-cyclic",
		Name:        "Cyclic",
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerTypeManual,
		Steps: []models.WorkflowStep{
			{ID: "a", Type: models.StepTypeAction, Config: json.RawMessage(`{"action_type":"email"}`), Next: "b"},
			{ID: "b", Type: models.StepTypeAction, Config: json.RawMessage(`{"action_type":"email"}`), Next: "a"},
		},
	}
	err := f.service.SaveWorkflow(context.Background(), workflow)
	assert.ErrorIs(t, err, engine.ErrInvalidWorkflow)

	workflows, listErr := f.repo.ListWorkflows(context.Background(), f.tenantID)
	assert.NoError(t, listErr)
	assert.Empty(t, workflows)
}

func TestEvaluateRule_AdHocValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rule := &models.WorkflowRule{TenantID: f.tenantID, Name: "budget", Category: models.RuleCategoryThreshold}
	assert.NoError(t, f.repo.CreateRule(ctx, rule))
	version := &models.WorkflowRuleVersion{
		RuleID: rule.ID,
		Logic:  models.ConditionLogicAll,
		Conditions: []models.RuleCondition{
			{Field: "spend", Operator: models.OpGT, Value: 1000, Scope: models.ScopeContext},
		},
	}
	assert.NoError(t, f.repo.CreateRuleVersion(ctx, version))
	assert.NoError(t, f.repo.PublishRuleVersion(ctx, rule.ID, version.ID))

	evaluation, err := f.service.EvaluateRule(ctx, f.tenantID, rule.ID, "", map[string]interface{}{"spend": 2500})
	assert.NoError(t, err)
	assert.True(t, evaluation.Matched)
	assert.Len(t, evaluation.Trace, 1)

	evaluation, err = f.service.EvaluateRule(ctx, f.tenantID, rule.ID, "", map[string]interface{}{"spend": 10})
	assert.NoError(t, err)
	assert.False(t, evaluation.Matched)

	recorded, err := f.repo.ListEvaluations(ctx, rule.ID, 10)
	assert.NoError(t, err)
	assert.Len(t, recorded, 2)
}
