package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

type stubMetrics struct {
	values []float64
	err    error
}

func (s *stubMetrics) Series(ctx context.Context, tenantID, name string, window time.Duration) ([]float64, error) {
	return s.values, s.err
}

func signalContext(payload map[string]interface{}) *EvalContext {
	return &EvalContext{
		TenantID: "t1",
		Signal: &models.Signal{
			TenantID: "t1",
			Source:   models.SignalSourceWebhook,
			Type:     "client.churn_risk",
			Urgency:  models.SignalUrgencyHigh,
			Payload:  payload,
		},
	}
}

func TestEvaluate_ThresholdTrace(t *testing.T) {
	e := NewEvaluator(nil)
	version := &models.WorkflowRuleVersion{
		ID:     "v1",
		RuleID: "r1",
		Logic:  models.ConditionLogicAll,
		Conditions: []models.RuleCondition{
			{Field: "churn_score", Operator: models.OpGT, Value: 0.7, Position: 0},
			{Field: "plan", Operator: models.OpEQ, Value: "enterprise", Position: 1},
		},
	}

	evaluation, err := e.Evaluate(context.Background(), version, signalContext(map[string]interface{}{
		"churn_score": 0.9,
		"plan":        "enterprise",
	}))
	assert.NoError(t, err)
	assert.True(t, evaluation.Matched)
	assert.Equal(t, "r1", evaluation.RuleID)
	assert.Equal(t, "v1", evaluation.RuleVersionID)

	// The trace records every condition in declared order with both operands.
	assert.Len(t, evaluation.Trace, 2)
	assert.Equal(t, "churn_score", evaluation.Trace[0].Field)
	assert.True(t, evaluation.Trace[0].Passed)
	assert.Equal(t, 0.9, evaluation.Trace[0].Actual)
	assert.Equal(t, 0.7, evaluation.Trace[0].Expected)
	assert.Equal(t, "plan", evaluation.Trace[1].Field)
	assert.True(t, evaluation.Trace[1].Passed)
}

func TestEvaluate_AllLogicFailsOnOneCondition(t *testing.T) {
	e := NewEvaluator(nil)
	version := &models.WorkflowRuleVersion{
		Logic: models.ConditionLogicAll,
		Conditions: []models.RuleCondition{
			{Field: "churn_score", Operator: models.OpGT, Value: 0.7, Position: 0},
			{Field: "plan", Operator: models.OpEQ, Value: "enterprise", Position: 1},
		},
	}

	evaluation, err := e.Evaluate(context.Background(), version, signalContext(map[string]interface{}{
		"churn_score": 0.9,
		"plan":        "starter",
	}))
	assert.NoError(t, err)
	assert.False(t, evaluation.Matched)
	assert.True(t, evaluation.Trace[0].Passed)
	assert.False(t, evaluation.Trace[1].Passed)
}

func TestEvaluate_AnyLogic(t *testing.T) {
	e := NewEvaluator(nil)
	version := &models.WorkflowRuleVersion{
		Logic: models.ConditionLogicAny,
		Conditions: []models.RuleCondition{
			{Field: "churn_score", Operator: models.OpGT, Value: 0.99, Position: 0},
			{Field: "plan", Operator: models.OpEQ, Value: "enterprise", Position: 1},
		},
	}

	evaluation, err := e.Evaluate(context.Background(), version, signalContext(map[string]interface{}{
		"churn_score": 0.5,
		"plan":        "enterprise",
	}))
	assert.NoError(t, err)
	assert.True(t, evaluation.Matched)
}

func TestEvaluateConditions_EmptySet(t *testing.T) {
	e := NewEvaluator(nil)
	ec := signalContext(nil)

	matched, trace, err := e.EvaluateConditions(context.Background(), nil, models.ConditionLogicAll, ec)
	assert.NoError(t, err)
	assert.True(t, matched)
	assert.Empty(t, trace)

	matched, _, err = e.EvaluateConditions(context.Background(), nil, models.ConditionLogicAny, ec)
	assert.NoError(t, err)
	assert.False(t, matched)
}

func TestEvaluateCondition_MissingFieldFailsWithoutError(t *testing.T) {
	e := NewEvaluator(nil)
	version := &models.WorkflowRuleVersion{
		Logic: models.ConditionLogicAll,
		Conditions: []models.RuleCondition{
			{Field: "nonexistent", Operator: models.OpGT, Value: 1, Position: 0},
		},
	}

	evaluation, err := e.Evaluate(context.Background(), version, signalContext(map[string]interface{}{"x": 1}))
	assert.NoError(t, err)
	assert.False(t, evaluation.Matched)
	assert.NotEmpty(t, evaluation.Trace[0].Error)
}

func TestEvaluateCondition_Operators(t *testing.T) {
	e := NewEvaluator(nil)
	payload := map[string]interface{}{
		"mrr":     1200.0,
		"name":    "Acme Corporation",
		"region":  "emea",
		"deleted": false,
	}

	cases := []struct {
		name string
		cond models.RuleCondition
		want bool
	}{
		{"gte pass", models.RuleCondition{Field: "mrr", Operator: models.OpGTE, Value: 1200}, true},
		{"lt fail", models.RuleCondition{Field: "mrr", Operator: models.OpLT, Value: 1200}, false},
		{"neq pass", models.RuleCondition{Field: "region", Operator: models.OpNEQ, Value: "apac"}, true},
		{"contains", models.RuleCondition{Field: "name", Operator: models.OpContains, Value: "Acme"}, true},
		{"not_contains", models.RuleCondition{Field: "name", Operator: models.OpNotContains, Value: "Umbrella"}, true},
		{"matches", models.RuleCondition{Field: "name", Operator: models.OpMatches, Value: "^Acme"}, true},
		{"in", models.RuleCondition{Field: "region", Operator: models.OpIn, Value: []interface{}{"emea", "apac"}}, true},
		{"not_in", models.RuleCondition{Field: "region", Operator: models.OpNotIn, Value: []interface{}{"amer"}}, true},
		{"eq bool", models.RuleCondition{Field: "deleted", Operator: models.OpEQ, Value: false}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			matched, trace, err := e.EvaluateConditions(context.Background(),
				[]models.RuleCondition{tc.cond}, models.ConditionLogicAll, signalContext(payload))
			assert.NoError(t, err)
			assert.Equal(t, tc.want, matched, "trace: %+v", trace)
		})
	}
}

func TestEvaluateCondition_PercentChange(t *testing.T) {
	e := NewEvaluator(&stubMetrics{values: []float64{100, 100, 100}})
	cond := models.RuleCondition{
		Field:    "daily_visits",
		Operator: models.OpPercentChangeGT,
		Value:    20,
		Window:   &models.ConditionWindow{Minutes: 60, Aggregation: models.AggAvg},
	}

	matched, _, err := e.EvaluateConditions(context.Background(),
		[]models.RuleCondition{cond}, models.ConditionLogicAll,
		signalContext(map[string]interface{}{"daily_visits": 130.0}))
	assert.NoError(t, err)
	assert.True(t, matched)

	matched, _, err = e.EvaluateConditions(context.Background(),
		[]models.RuleCondition{cond}, models.ConditionLogicAll,
		signalContext(map[string]interface{}{"daily_visits": 110.0}))
	assert.NoError(t, err)
	assert.False(t, matched)
}

func TestEvaluateCondition_PercentChangeZeroBaseline(t *testing.T) {
	e := NewEvaluator(&stubMetrics{values: []float64{0, 0}})
	cond := models.RuleCondition{
		Field:    "daily_visits",
		Operator: models.OpPercentChangeGT,
		Value:    20,
		Window:   &models.ConditionWindow{Minutes: 60},
	}

	matched, trace, err := e.EvaluateConditions(context.Background(),
		[]models.RuleCondition{cond}, models.ConditionLogicAll,
		signalContext(map[string]interface{}{"daily_visits": 50.0}))
	assert.NoError(t, err)
	assert.False(t, matched)
	assert.Contains(t, trace[0].Error, "baseline is zero")
}

func TestEvaluateCondition_ZScore(t *testing.T) {
	// mean 10, stddev 2; a value of 20 sits 5 sigma out.
	e := NewEvaluator(&stubMetrics{values: []float64{8, 12, 8, 12}})
	cond := models.RuleCondition{
		Field:    "error_rate",
		Operator: models.OpZScoreGT,
		Value:    3,
		Window:   &models.ConditionWindow{Minutes: 120},
	}

	matched, _, err := e.EvaluateConditions(context.Background(),
		[]models.RuleCondition{cond}, models.ConditionLogicAll,
		signalContext(map[string]interface{}{"error_rate": 20.0}))
	assert.NoError(t, err)
	assert.True(t, matched)
}

func TestEvaluateCondition_InactiveDays(t *testing.T) {
	e := NewEvaluator(nil)
	e.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	cond := models.RuleCondition{
		Field:    "last_contact_at",
		Operator: models.OpInactiveDaysGT,
		Value:    14,
	}

	matched, _, err := e.EvaluateConditions(context.Background(),
		[]models.RuleCondition{cond}, models.ConditionLogicAll,
		signalContext(map[string]interface{}{"last_contact_at": "2026-02-01T00:00:00Z"}))
	assert.NoError(t, err)
	assert.True(t, matched)

	matched, _, err = e.EvaluateConditions(context.Background(),
		[]models.RuleCondition{cond}, models.ConditionLogicAll,
		signalContext(map[string]interface{}{"last_contact_at": "2026-02-25T00:00:00Z"}))
	assert.NoError(t, err)
	assert.False(t, matched)
}

func TestEvaluateCondition_Transitions(t *testing.T) {
	e := NewEvaluator(nil)
	ec := signalContext(map[string]interface{}{"stage": "churned"})
	ec.Previous = map[string]interface{}{"stage": "active"}

	matched, _, err := e.EvaluateConditions(context.Background(),
		[]models.RuleCondition{{Field: "stage", Operator: models.OpChangedTo, Value: "churned"}},
		models.ConditionLogicAll, ec)
	assert.NoError(t, err)
	assert.True(t, matched)

	matched, _, err = e.EvaluateConditions(context.Background(),
		[]models.RuleCondition{{Field: "stage", Operator: models.OpChangedFrom, Value: "active"}},
		models.ConditionLogicAll, ec)
	assert.NoError(t, err)
	assert.True(t, matched)

	// No transition: previous equals current.
	steady := signalContext(map[string]interface{}{"stage": "churned"})
	steady.Previous = map[string]interface{}{"stage": "churned"}
	matched, _, err = e.EvaluateConditions(context.Background(),
		[]models.RuleCondition{{Field: "stage", Operator: models.OpChangedTo, Value: "churned"}},
		models.ConditionLogicAll, steady)
	assert.NoError(t, err)
	assert.False(t, matched)
}

func TestEvaluateConditions_TraceFollowsPosition(t *testing.T) {
	e := NewEvaluator(nil)
	conditions := []models.RuleCondition{
		{Field: "b", Operator: models.OpEQ, Value: 2, Position: 1},
		{Field: "a", Operator: models.OpEQ, Value: 1, Position: 0},
	}

	_, trace, err := e.EvaluateConditions(context.Background(), conditions, models.ConditionLogicAll,
		signalContext(map[string]interface{}{"a": 1, "b": 2}))
	assert.NoError(t, err)
	assert.Equal(t, "a", trace[0].Field)
	assert.Equal(t, "b", trace[1].Field)
}

func TestRegisterScope_RecordResolver(t *testing.T) {
	e := NewEvaluator(nil)
	e.RegisterScope(models.ScopeClient, NewRecordResolver(stubRecordSource{
		fields: map[string]interface{}{"mrr": 900.0},
	}, func(ec *EvalContext) string { return ec.ClientID }))

	ec := signalContext(nil)
	ec.ClientID = "c1"

	matched, _, err := e.EvaluateConditions(context.Background(),
		[]models.RuleCondition{{Field: "mrr", Operator: models.OpLT, Value: 1000, Scope: models.ScopeClient}},
		models.ConditionLogicAll, ec)
	assert.NoError(t, err)
	assert.True(t, matched)
}

type stubRecordSource struct {
	fields map[string]interface{}
}

func (s stubRecordSource) Field(ctx context.Context, tenantID, recordID, field string) (interface{}, bool, error) {
	v, ok := s.fields[field]
	return v, ok, nil
}
