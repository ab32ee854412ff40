package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iamrudi/AgentDash-sub001/internal/repository"
	"github.com/iamrudi/AgentDash-sub001/internal/rules"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

func seedRoute(t *testing.T, repo *repository.Memory, route *models.SignalRoute) *models.SignalRoute {
	t.Helper()
	route.TenantID = "t1"
	route.Enabled = true
	if route.WorkflowID == "" {
		route.WorkflowID = "wf-" + route.Name
	}
	assert.NoError(t, repo.CreateRoute(context.Background(), route))
	return route
}

func testSignal(signalType string, source models.SignalSource, urgency models.SignalUrgency, payload map[string]interface{}) *models.Signal {
	return &models.Signal{
		ID:       "sig-1",
		TenantID: "t1",
		Source:   source,
		Type:     signalType,
		Urgency:  urgency,
		Payload:  payload,
		Status:   models.SignalStatusPending,
	}
}

func TestMatch_FirstPolicyPicksHighestPriority(t *testing.T) {
	repo := repository.NewMemory()
	seedRoute(t, repo, &models.SignalRoute{Name: "low", Source: models.RouteWildcard, SignalType: "invoice.overdue", Priority: 1})
	high := seedRoute(t, repo, &models.SignalRoute{Name: "high", Source: models.RouteWildcard, SignalType: "invoice.overdue", Priority: 100})

	r := New(repo, rules.NewEvaluator(repo), PolicyFirst)
	matched, err := r.Match(context.Background(), testSignal("invoice.overdue", models.SignalSourceCRM, models.SignalUrgencyNormal, nil))
	assert.NoError(t, err)
	assert.Len(t, matched, 1)
	assert.Equal(t, high.ID, matched[0].ID)
}

func TestMatch_AllPolicyReturnsEveryMatchInPriorityOrder(t *testing.T) {
	repo := repository.NewMemory()
	low := seedRoute(t, repo, &models.SignalRoute{Name: "low", Source: models.RouteWildcard, SignalType: "invoice.overdue", Priority: 1})
	high := seedRoute(t, repo, &models.SignalRoute{Name: "high", Source: models.RouteWildcard, SignalType: "invoice.overdue", Priority: 100})
	seedRoute(t, repo, &models.SignalRoute{Name: "other", Source: models.RouteWildcard, SignalType: "client.churn_risk", Priority: 50})

	r := New(repo, rules.NewEvaluator(repo), PolicyAll)
	matched, err := r.Match(context.Background(), testSignal("invoice.overdue", models.SignalSourceCRM, models.SignalUrgencyNormal, nil))
	assert.NoError(t, err)
	assert.Len(t, matched, 2)
	assert.Equal(t, high.ID, matched[0].ID)
	assert.Equal(t, low.ID, matched[1].ID)
}

func TestMatch_SourceAndTypeWildcards(t *testing.T) {
	repo := repository.NewMemory()
	seedRoute(t, repo, &models.SignalRoute{Name: "catchall", Source: models.RouteWildcard, SignalType: models.RouteWildcard, Priority: 1})

	r := New(repo, rules.NewEvaluator(repo), PolicyFirst)
	matched, err := r.Match(context.Background(), testSignal("anything.at_all", models.SignalSourceWebhook, models.SignalUrgencyLow, nil))
	assert.NoError(t, err)
	assert.Len(t, matched, 1)
}

func TestMatch_ExactSourceMismatch(t *testing.T) {
	repo := repository.NewMemory()
	seedRoute(t, repo, &models.SignalRoute{Name: "crm-only", Source: string(models.SignalSourceCRM), SignalType: models.RouteWildcard, Priority: 1})

	r := New(repo, rules.NewEvaluator(repo), PolicyFirst)
	matched, err := r.Match(context.Background(), testSignal("x", models.SignalSourceWebhook, models.SignalUrgencyNormal, nil))
	assert.NoError(t, err)
	assert.Empty(t, matched)
}

func TestMatch_UrgencyMembership(t *testing.T) {
	repo := repository.NewMemory()
	seedRoute(t, repo, &models.SignalRoute{
		Name: "urgent-only", Source: models.RouteWildcard, SignalType: models.RouteWildcard,
		Urgencies: []models.SignalUrgency{models.SignalUrgencyHigh, models.SignalUrgencyCritical},
		Priority:  1,
	})

	r := New(repo, rules.NewEvaluator(repo), PolicyFirst)

	matched, err := r.Match(context.Background(), testSignal("x", models.SignalSourceCRM, models.SignalUrgencyCritical, nil))
	assert.NoError(t, err)
	assert.Len(t, matched, 1)

	matched, err = r.Match(context.Background(), testSignal("x", models.SignalSourceCRM, models.SignalUrgencyLow, nil))
	assert.NoError(t, err)
	assert.Empty(t, matched)
}

func TestMatch_PayloadFilter(t *testing.T) {
	repo := repository.NewMemory()
	seedRoute(t, repo, &models.SignalRoute{
		Name: "big-invoices", Source: models.RouteWildcard, SignalType: "invoice.overdue",
		PayloadFilter: []models.RuleCondition{
			{Field: "amount", Operator: models.OpGT, Value: 1000},
		},
		Priority: 1,
	})

	r := New(repo, rules.NewEvaluator(repo), PolicyFirst)

	matched, err := r.Match(context.Background(), testSignal("invoice.overdue", models.SignalSourceCRM, models.SignalUrgencyNormal,
		map[string]interface{}{"amount": 5000}))
	assert.NoError(t, err)
	assert.Len(t, matched, 1)

	matched, err = r.Match(context.Background(), testSignal("invoice.overdue", models.SignalSourceCRM, models.SignalUrgencyNormal,
		map[string]interface{}{"amount": 100}))
	assert.NoError(t, err)
	assert.Empty(t, matched)
}

func TestMatch_DuplicateSignalNeverRoutes(t *testing.T) {
	repo := repository.NewMemory()
	seedRoute(t, repo, &models.SignalRoute{Name: "catchall", Source: models.RouteWildcard, SignalType: models.RouteWildcard, Priority: 1})

	r := New(repo, rules.NewEvaluator(repo), PolicyAll)
	signal := testSignal("x", models.SignalSourceCRM, models.SignalUrgencyNormal, nil)
	signal.Status = models.SignalStatusDuplicate

	matched, err := r.Match(context.Background(), signal)
	assert.NoError(t, err)
	assert.Empty(t, matched)
}

func TestMatch_DisabledRoutesSkipped(t *testing.T) {
	repo := repository.NewMemory()
	route := seedRoute(t, repo, &models.SignalRoute{Name: "catchall", Source: models.RouteWildcard, SignalType: models.RouteWildcard, Priority: 1})
	route.Enabled = false
	assert.NoError(t, repo.UpdateRoute(context.Background(), route))

	r := New(repo, rules.NewEvaluator(repo), PolicyAll)
	matched, err := r.Match(context.Background(), testSignal("x", models.SignalSourceCRM, models.SignalUrgencyNormal, nil))
	assert.NoError(t, err)
	assert.Empty(t, matched)
}
