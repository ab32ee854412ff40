package rules

import (
	"context"
	"strings"

	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// EvalContext carries the data a rule's conditions are resolved against.
// Signal feeds the signal scope, Values the context scope, and Previous the
// prior field values consulted by the changed_to/changed_from operators.
type EvalContext struct {
	TenantID  string
	Signal    *models.Signal
	Values    map[string]interface{}
	Previous  map[string]interface{}
	ClientID  string
	ProjectID string
}

// Resolver resolves a condition's field path against one scope. New scopes
// plug into the evaluator as resolver strategies; the evaluator core never
// switches on scope names.
type Resolver interface {
	Resolve(ctx context.Context, ec *EvalContext, field string) (interface{}, bool)
}

// RecordSource supplies field values of an external record (client, project).
// The CRM and project subsystems implement this; the evaluator only reads.
type RecordSource interface {
	Field(ctx context.Context, tenantID, recordID, field string) (interface{}, bool, error)
}

type signalResolver struct{}

func (signalResolver) Resolve(_ context.Context, ec *EvalContext, field string) (interface{}, bool) {
	if ec.Signal == nil {
		return nil, false
	}
	if v, ok := lookupPath(ec.Signal.Payload, field); ok {
		return v, true
	}
	// Signal attributes are addressable alongside the payload.
	switch field {
	case "type":
		return ec.Signal.Type, true
	case "source":
		return string(ec.Signal.Source), true
	case "urgency":
		return string(ec.Signal.Urgency), true
	}
	return nil, false
}

type contextResolver struct{}

func (contextResolver) Resolve(_ context.Context, ec *EvalContext, field string) (interface{}, bool) {
	return lookupPath(ec.Values, field)
}

type recordResolver struct {
	source RecordSource
	idOf   func(*EvalContext) string
}

// NewRecordResolver builds a resolver for a record-backed scope. idOf picks
// the record id out of the evaluation context (client id, project id).
func NewRecordResolver(source RecordSource, idOf func(*EvalContext) string) Resolver {
	return &recordResolver{source: source, idOf: idOf}
}

func (r *recordResolver) Resolve(ctx context.Context, ec *EvalContext, field string) (interface{}, bool) {
	id := r.idOf(ec)
	if id == "" || r.source == nil {
		return nil, false
	}
	v, ok, err := r.source.Field(ctx, ec.TenantID, id, field)
	if err != nil || !ok {
		return nil, false
	}
	return v, true
}

// lookupPath walks a dot-separated field path through nested maps.
func lookupPath(m map[string]interface{}, path string) (interface{}, bool) {
	if m == nil || path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current interface{} = m
	for _, part := range parts {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
