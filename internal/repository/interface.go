package repository

import (
	"context"
	"errors"
	"time"

	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrNotPublishable is returned when publishing a rule version that is not a
// draft. Published versions are immutable and cannot be re-published.
var ErrNotPublishable = errors.New("rule version is not a publishable draft")

// TenantStore manages tenant records.
type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
}

// SignalStore persists ingested signals. Signals are append-only; only the
// status column is ever updated.
type SignalStore interface {
	CreateSignal(ctx context.Context, signal *models.Signal) error
	GetSignal(ctx context.Context, tenantID, id string) (*models.Signal, error)
	ListSignals(ctx context.Context, tenantID string, limit int) ([]*models.Signal, error)
	UpdateSignalStatus(ctx context.Context, id string, status models.SignalStatus) error
	// FindRecentByFingerprint returns the newest non-duplicate signal with the
	// given dedup hash created inside the window, or ErrNotFound.
	FindRecentByFingerprint(ctx context.Context, tenantID, dedupHash string, window time.Duration) (*models.Signal, error)
}

// RouteStore manages signal routes.
type RouteStore interface {
	CreateRoute(ctx context.Context, route *models.SignalRoute) error
	UpdateRoute(ctx context.Context, route *models.SignalRoute) error
	GetRoute(ctx context.Context, tenantID, id string) (*models.SignalRoute, error)
	ListRoutes(ctx context.Context, tenantID string) ([]*models.SignalRoute, error)
	// ListEnabledRoutes returns enabled routes ordered by priority descending.
	ListEnabledRoutes(ctx context.Context, tenantID string) ([]*models.SignalRoute, error)
}

// WorkflowStore manages versioned workflow definitions.
type WorkflowStore interface {
	// CreateWorkflow saves a new workflow version. When the workflow concept
	// already has versions, earlier ones lose their is_latest flag.
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	// GetLatestWorkflow returns the latest version for a stable workflow id.
	GetLatestWorkflow(ctx context.Context, tenantID, workflowID string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, id string, status models.WorkflowStatus) error
}

// ExecutionStore manages workflow executions. CreateExecution is the
// idempotency boundary: it inserts atomically against the unique
// (workflow_id, input_hash) constraint and, on conflict, fetches and returns
// the already-existing row with created=false.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, execution *models.WorkflowExecution) (*models.WorkflowExecution, bool, error)
	UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error)
}

// EventStore appends to the step-level execution log. Events are never
// updated or deleted.
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.WorkflowEvent) error
	ListEvents(ctx context.Context, executionID string) ([]*models.WorkflowEvent, error)
}

// RuleStore manages rules, their immutable versions, and evaluation records.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *models.WorkflowRule) error
	GetRule(ctx context.Context, tenantID, id string) (*models.WorkflowRule, error)
	ListRules(ctx context.Context, tenantID string) ([]*models.WorkflowRule, error)
	CreateRuleVersion(ctx context.Context, version *models.WorkflowRuleVersion) error
	GetRuleVersion(ctx context.Context, id string) (*models.WorkflowRuleVersion, error)
	ListRuleVersions(ctx context.Context, ruleID string) ([]*models.WorkflowRuleVersion, error)
	// GetActiveVersion resolves a rule's default version.
	GetActiveVersion(ctx context.Context, ruleID string) (*models.WorkflowRuleVersion, error)
	// PublishRuleVersion marks the version published, deprecates the previous
	// default, and repoints the rule's default_version_id. The version's
	// conditions and actions are not touched.
	PublishRuleVersion(ctx context.Context, ruleID, versionID string) error
	RecordEvaluation(ctx context.Context, evaluation *models.WorkflowRuleEvaluation) error
	ListEvaluations(ctx context.Context, ruleID string, limit int) ([]*models.WorkflowRuleEvaluation, error)
}

// MetricStore records and serves numeric series for trend and anomaly
// operators.
type MetricStore interface {
	RecordMetric(ctx context.Context, tenantID, name string, value float64, at time.Time) error
	// Series returns values for the metric inside the window, oldest first.
	Series(ctx context.Context, tenantID, name string, window time.Duration) ([]float64, error)
}

// Repository bundles every store for wiring convenience.
type Repository interface {
	TenantStore
	SignalStore
	RouteStore
	WorkflowStore
	ExecutionStore
	EventStore
	RuleStore
	MetricStore
	Ping(ctx context.Context) error
}
