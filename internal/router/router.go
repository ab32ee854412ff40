// Package router matches ingested signals against a tenant's routing table
// and decides which workflows they trigger.
package router

import (
	"context"
	"fmt"

	"github.com/iamrudi/AgentDash-sub001/internal/repository"
	"github.com/iamrudi/AgentDash-sub001/internal/rules"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// Policy selects how many matching routes fire per signal.
type Policy string

const (
	// PolicyFirst fires only the highest-priority matching route.
	PolicyFirst Policy = "first"
	// PolicyAll fires every matching route.
	PolicyAll Policy = "all"
)

// Router resolves the routes a signal should trigger. Matching is ordered by
// route priority descending; ties keep the store's stable order.
type Router struct {
	routes    repository.RouteStore
	evaluator *rules.Evaluator
	policy    Policy
}

// New creates a router with the given match policy. An empty policy defaults
// to first-match.
func New(routes repository.RouteStore, evaluator *rules.Evaluator, policy Policy) *Router {
	if policy == "" {
		policy = PolicyFirst
	}
	return &Router{routes: routes, evaluator: evaluator, policy: policy}
}

// Match returns the routes the signal triggers, honoring the policy. Signals
// flagged as duplicates never match anything.
func (r *Router) Match(ctx context.Context, signal *models.Signal) ([]*models.SignalRoute, error) {
	if signal.Status == models.SignalStatusDuplicate {
		return nil, nil
	}

	routes, err := r.routes.ListEnabledRoutes(ctx, signal.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes for tenant %s: %w", signal.TenantID, err)
	}

	var matched []*models.SignalRoute
	for _, route := range routes {
		ok, err := r.matches(ctx, route, signal)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		matched = append(matched, route)
		if r.policy == PolicyFirst {
			break
		}
	}
	return matched, nil
}

// matches applies the route's source, type, urgency and payload criteria in
// order of cheapness.
func (r *Router) matches(ctx context.Context, route *models.SignalRoute, signal *models.Signal) (bool, error) {
	if route.Source != models.RouteWildcard && route.Source != string(signal.Source) {
		return false, nil
	}
	if route.SignalType != models.RouteWildcard && route.SignalType != signal.Type {
		return false, nil
	}
	if len(route.Urgencies) > 0 && !urgencyIn(signal.Urgency, route.Urgencies) {
		return false, nil
	}
	if len(route.PayloadFilter) > 0 {
		ec := &rules.EvalContext{TenantID: signal.TenantID, Signal: signal}
		ok, _, err := r.evaluator.EvaluateConditions(ctx, route.PayloadFilter, models.ConditionLogicAll, ec)
		if err != nil {
			return false, fmt.Errorf("payload filter of route %s: %w", route.ID, err)
		}
		return ok, nil
	}
	return true, nil
}

func urgencyIn(urgency models.SignalUrgency, list []models.SignalUrgency) bool {
	for _, u := range list {
		if u == urgency {
			return true
		}
	}
	return false
}
