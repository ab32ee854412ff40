// Package rules evaluates versioned rule condition sets against an
// evaluation context and produces a match verdict plus a per-condition trace.
package rules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// MetricSource supplies time-windowed numeric series for trend and anomaly
// operators. Reading metric data is the evaluator's only side effect.
type MetricSource interface {
	Series(ctx context.Context, tenantID, name string, window time.Duration) ([]float64, error)
}

// Evaluator evaluates rule versions. It never mutates the rule; every call is
// pure given its inputs apart from metric reads.
type Evaluator struct {
	metrics   MetricSource
	resolvers map[models.ConditionScope]Resolver
	now       func() time.Time
}

// NewEvaluator creates an evaluator with the built-in signal and context
// scopes registered. metrics may be nil; windowed conditions then fail with
// an error recorded in the trace.
func NewEvaluator(metrics MetricSource) *Evaluator {
	return &Evaluator{
		metrics: metrics,
		resolvers: map[models.ConditionScope]Resolver{
			models.ScopeSignal:  signalResolver{},
			models.ScopeContext: contextResolver{},
		},
		now: time.Now,
	}
}

// RegisterScope adds or replaces the resolver for a scope. Client and project
// scopes are registered this way by the wiring layer.
func (e *Evaluator) RegisterScope(scope models.ConditionScope, resolver Resolver) {
	e.resolvers[scope] = resolver
}

// Evaluate runs every condition of the version, in declared order, against
// the context and combines the results with the version's ALL/ANY logic. The
// returned evaluation is not yet persisted; callers record it.
func (e *Evaluator) Evaluate(ctx context.Context, version *models.WorkflowRuleVersion, ec *EvalContext) (*models.WorkflowRuleEvaluation, error) {
	start := e.now()
	matched, trace, err := e.EvaluateConditions(ctx, version.Conditions, version.Logic, ec)
	if err != nil {
		return nil, err
	}
	return &models.WorkflowRuleEvaluation{
		RuleID:        version.RuleID,
		RuleVersionID: version.ID,
		Matched:       matched,
		Trace:         trace,
		Context:       ec.Values,
		DurationMs:    e.now().Sub(start).Milliseconds(),
	}, nil
}

// EvaluateConditions applies an ordered condition list with the given logic.
// It is shared by rule evaluation, route payload filters, and branch steps.
// Order affects only the trace: ALL requires every condition to pass, ANY at
// least one, regardless of position.
func (e *Evaluator) EvaluateConditions(ctx context.Context, conditions []models.RuleCondition, logic models.ConditionLogic, ec *EvalContext) (bool, []models.ConditionResult, error) {
	ordered := make([]models.RuleCondition, len(conditions))
	copy(ordered, conditions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	trace := make([]models.ConditionResult, 0, len(ordered))
	anyPassed := false
	allPassed := true

	for _, cond := range ordered {
		result := e.evaluateCondition(ctx, cond, ec)
		trace = append(trace, result)
		if result.Passed {
			anyPassed = true
		} else {
			allPassed = false
		}
	}

	if len(ordered) == 0 {
		// An empty condition set matches vacuously under ALL and never under ANY.
		return logic != models.ConditionLogicAny, trace, nil
	}
	if logic == models.ConditionLogicAny {
		return anyPassed, trace, nil
	}
	return allPassed, trace, nil
}

func (e *Evaluator) evaluateCondition(ctx context.Context, cond models.RuleCondition, ec *EvalContext) models.ConditionResult {
	result := models.ConditionResult{
		ConditionID: cond.ID,
		Field:       cond.Field,
		Operator:    cond.Operator,
		Expected:    cond.Value,
	}

	scope := cond.Scope
	if scope == "" {
		scope = models.ScopeSignal
	}
	resolver, ok := e.resolvers[scope]
	if !ok {
		result.Error = fmt.Sprintf("no resolver registered for scope %q", scope)
		return result
	}

	actual, found := resolver.Resolve(ctx, ec, cond.Field)
	result.Actual = actual

	var passed bool
	var err error
	switch cond.Operator {
	case models.OpPercentChangeGT, models.OpPercentChangeLT:
		passed, err = e.percentChange(ctx, cond, ec, actual, found)
	case models.OpZScoreGT:
		passed, err = e.anomaly(ctx, cond, ec, actual, found)
	case models.OpInactiveDaysGT:
		passed, err = e.inactivity(cond, actual, found)
	case models.OpChangedTo, models.OpChangedFrom:
		passed, err = e.transition(cond, ec, actual, found)
	default:
		if !found {
			// A missing field fails the condition without failing the evaluation.
			result.Error = fmt.Sprintf("field %q not found in scope %q", cond.Field, scope)
			return result
		}
		passed, err = compare(cond.Operator, actual, cond.Value)
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Passed = passed
	return result
}

// percentChange compares the current value against a baseline aggregated over
// the condition's window and passes when the percentage change crosses the
// threshold in the operator's direction.
func (e *Evaluator) percentChange(ctx context.Context, cond models.RuleCondition, ec *EvalContext, actual interface{}, found bool) (bool, error) {
	if !found {
		return false, fmt.Errorf("field %q not found", cond.Field)
	}
	current, err := toFloat(actual)
	if err != nil {
		return false, err
	}
	threshold, err := toFloat(cond.Value)
	if err != nil {
		return false, fmt.Errorf("threshold: %w", err)
	}
	values, err := e.series(ctx, cond, ec)
	if err != nil {
		return false, err
	}
	agg := models.AggAvg
	if cond.Window != nil && cond.Window.Aggregation != "" {
		agg = cond.Window.Aggregation
	}
	baseline, err := aggregate(values, agg)
	if err != nil {
		return false, err
	}
	if baseline == 0 {
		return false, fmt.Errorf("baseline is zero, percent change undefined")
	}
	change := (current - baseline) / baseline * 100
	if cond.Operator == models.OpPercentChangeGT {
		return change > threshold, nil
	}
	return change < threshold, nil
}

// anomaly passes when the current value's z-score over the rolling window
// exceeds the threshold.
func (e *Evaluator) anomaly(ctx context.Context, cond models.RuleCondition, ec *EvalContext, actual interface{}, found bool) (bool, error) {
	if !found {
		return false, fmt.Errorf("field %q not found", cond.Field)
	}
	current, err := toFloat(actual)
	if err != nil {
		return false, err
	}
	threshold, err := toFloat(cond.Value)
	if err != nil {
		return false, fmt.Errorf("threshold: %w", err)
	}
	values, err := e.series(ctx, cond, ec)
	if err != nil {
		return false, err
	}
	z, err := zScore(values, current)
	if err != nil {
		return false, err
	}
	return z > threshold, nil
}

// inactivity passes when more days than the threshold elapsed since the
// field's timestamp.
func (e *Evaluator) inactivity(cond models.RuleCondition, actual interface{}, found bool) (bool, error) {
	if !found {
		return false, fmt.Errorf("field %q not found", cond.Field)
	}
	last, err := toTime(actual)
	if err != nil {
		return false, err
	}
	threshold, err := toFloat(cond.Value)
	if err != nil {
		return false, fmt.Errorf("threshold: %w", err)
	}
	days := e.now().Sub(last).Hours() / 24
	return days > threshold, nil
}

// transition detects a state change between the previous and current value of
// the field. changed_to passes when the field now equals the expected value
// but previously did not; changed_from when it previously equaled the
// expected value but no longer does.
func (e *Evaluator) transition(cond models.RuleCondition, ec *EvalContext, actual interface{}, found bool) (bool, error) {
	previous, hadPrevious := lookupPath(ec.Previous, cond.Field)
	if !found && !hadPrevious {
		return false, fmt.Errorf("field %q has neither current nor previous value", cond.Field)
	}
	if cond.Operator == models.OpChangedTo {
		return found && looseEqual(actual, cond.Value) && !(hadPrevious && looseEqual(previous, cond.Value)), nil
	}
	return hadPrevious && looseEqual(previous, cond.Value) && !(found && looseEqual(actual, cond.Value)), nil
}

func (e *Evaluator) series(ctx context.Context, cond models.RuleCondition, ec *EvalContext) ([]float64, error) {
	if e.metrics == nil {
		return nil, fmt.Errorf("no metric source configured for windowed operator %q", cond.Operator)
	}
	if cond.Window == nil || cond.Window.Minutes <= 0 {
		return nil, fmt.Errorf("operator %q requires a time window", cond.Operator)
	}
	return e.metrics.Series(ctx, ec.TenantID, cond.Field, time.Duration(cond.Window.Minutes)*time.Minute)
}
