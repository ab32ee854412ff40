package models

import (
	"time"
)

// RuleCategory groups rules by the kind of detection they perform.
type RuleCategory string

const (
	RuleCategoryThreshold   RuleCategory = "threshold"
	RuleCategoryAnomaly     RuleCategory = "anomaly"
	RuleCategoryLifecycle   RuleCategory = "lifecycle"
	RuleCategoryIntegration RuleCategory = "integration"
	RuleCategoryCustom      RuleCategory = "custom"
)

// RuleVersionStatus is the lifecycle of one immutable rule version.
type RuleVersionStatus string

const (
	RuleVersionStatusDraft      RuleVersionStatus = "draft"
	RuleVersionStatusPublished  RuleVersionStatus = "published"
	RuleVersionStatusDeprecated RuleVersionStatus = "deprecated"
)

// ConditionLogic combines the per-condition results of a version.
type ConditionLogic string

const (
	ConditionLogicAll ConditionLogic = "ALL"
	ConditionLogicAny ConditionLogic = "ANY"
)

// ConditionScope names the data source a condition's field path is resolved
// against. New scopes plug in as resolver strategies without touching the
// evaluator core.
type ConditionScope string

const (
	ScopeSignal  ConditionScope = "signal"
	ScopeContext ConditionScope = "context"
	ScopeClient  ConditionScope = "client"
	ScopeProject ConditionScope = "project"
)

// ConditionOperator is the comparison a condition applies.
type ConditionOperator string

const (
	// Basic comparison
	OpGT  ConditionOperator = "gt"
	OpGTE ConditionOperator = "gte"
	OpLT  ConditionOperator = "lt"
	OpLTE ConditionOperator = "lte"
	OpEQ  ConditionOperator = "eq"
	OpNEQ ConditionOperator = "neq"

	// String matching
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpMatches     ConditionOperator = "matches"

	// Set membership
	OpIn    ConditionOperator = "in"
	OpNotIn ConditionOperator = "not_in"

	// Trend detection against a time-windowed baseline
	OpPercentChangeGT ConditionOperator = "percent_change_gt"
	OpPercentChangeLT ConditionOperator = "percent_change_lt"

	// Anomaly detection over a rolling window
	OpZScoreGT ConditionOperator = "z_score_gt"

	// Lifecycle triggers
	OpInactiveDaysGT ConditionOperator = "inactive_days_gt"

	// State-transition detection (current vs previous value)
	OpChangedTo   ConditionOperator = "changed_to"
	OpChangedFrom ConditionOperator = "changed_from"
)

// WindowAggregation reduces a metric series to a baseline value.
type WindowAggregation string

const (
	AggSum WindowAggregation = "sum"
	AggAvg WindowAggregation = "avg"
	AggMin WindowAggregation = "min"
	AggMax WindowAggregation = "max"
)

// ConditionWindow configures the time window feeding trend and anomaly
// operators.
type ConditionWindow struct {
	Minutes     int               `json:"minutes"`
	Aggregation WindowAggregation `json:"aggregation,omitempty"`
}

// RuleCondition is one ordered condition inside a rule version. Value is the
// comparison operand; for in/not_in it is a list. Position fixes the order of
// the evaluation trace.
type RuleCondition struct {
	ID       string           `json:"id,omitempty"`
	Field    string           `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    interface{}      `json:"value"`
	Scope    ConditionScope   `json:"scope,omitempty"`
	Window   *ConditionWindow `json:"window,omitempty"`
	Position int              `json:"position"`
}

// RuleAction is one ordered action taken when a rule version matches.
type RuleAction struct {
	ID         string                 `json:"id,omitempty"`
	ActionType string                 `json:"action_type"`
	Config     map[string]interface{} `json:"config,omitempty"`
	Position   int                    `json:"position"`
}

// WorkflowRule is a named, categorized container for rule versions. Exactly
// one version is referenced as active via DefaultVersionID at any time.
type WorkflowRule struct {
	ID               string       `json:"id" db:"id"`
	TenantID         string       `json:"tenant_id" db:"tenant_id"`
	Name             string       `json:"name" db:"name"`
	Description      string       `json:"description,omitempty" db:"description"`
	Category         RuleCategory `json:"category" db:"category"`
	DefaultVersionID *string      `json:"default_version_id,omitempty" db:"default_version_id"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// WorkflowRuleVersion is one immutable snapshot of a rule's conditions and
// actions. Once published it never changes; publishing again creates a new
// version and supersedes this one.
type WorkflowRuleVersion struct {
	ID          string            `json:"id" db:"id"`
	RuleID      string            `json:"rule_id" db:"rule_id"`
	Version     int               `json:"version" db:"version"`
	Status      RuleVersionStatus `json:"status" db:"status"`
	Logic       ConditionLogic    `json:"logic" db:"logic"`
	Conditions  []RuleCondition   `json:"conditions" db:"conditions"`
	Actions     []RuleAction      `json:"actions,omitempty" db:"actions"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	PublishedAt *time.Time        `json:"published_at,omitempty" db:"published_at"`
}

// ConditionResult is one entry of an evaluation trace.
type ConditionResult struct {
	ConditionID string            `json:"condition_id,omitempty"`
	Field       string            `json:"field"`
	Operator    ConditionOperator `json:"operator"`
	Passed      bool              `json:"passed"`
	Actual      interface{}       `json:"actual_value"`
	Expected    interface{}       `json:"expected_value"`
	Error       string            `json:"error,omitempty"`
}

// WorkflowRuleEvaluation is the immutable audit record of one evaluation
// attempt. The engine never reads these back; they exist for debuggability.
type WorkflowRuleEvaluation struct {
	ID            string                 `json:"id" db:"id"`
	RuleID        string                 `json:"rule_id" db:"rule_id"`
	RuleVersionID string                 `json:"rule_version_id" db:"rule_version_id"`
	SignalID      *string                `json:"signal_id,omitempty" db:"signal_id"`
	ExecutionID   *string                `json:"execution_id,omitempty" db:"execution_id"`
	Matched       bool                   `json:"matched" db:"matched"`
	Trace         []ConditionResult      `json:"trace" db:"trace"`
	Context       map[string]interface{} `json:"context,omitempty" db:"context"`
	DurationMs    int64                  `json:"duration_ms" db:"duration_ms"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}
