// Package models defines the domain models for the agency automation platform.
package models

import (
	"time"
)

// SignalSource identifies where a business signal originated.
type SignalSource string

const (
	SignalSourceAnalytics SignalSource = "external-analytics"
	SignalSourceCRM       SignalSource = "external-crm"
	SignalSourceInternal  SignalSource = "internal"
	SignalSourceWebhook   SignalSource = "webhook"
	SignalSourceSchedule  SignalSource = "schedule"
)

// SignalUrgency ranks how quickly a signal should be acted on.
type SignalUrgency string

const (
	SignalUrgencyLow      SignalUrgency = "low"
	SignalUrgencyNormal   SignalUrgency = "normal"
	SignalUrgencyHigh     SignalUrgency = "high"
	SignalUrgencyCritical SignalUrgency = "critical"
)

// SignalStatus tracks a signal through the ingestion/routing pipeline.
type SignalStatus string

const (
	SignalStatusPending    SignalStatus = "pending"
	SignalStatusProcessing SignalStatus = "processing"
	SignalStatusCompleted  SignalStatus = "completed"
	SignalStatusFailed     SignalStatus = "failed"
	SignalStatusDuplicate  SignalStatus = "duplicate"
)

// Signal is a typed, timestamped business event ingested from an external or
// internal source. Signals are append-only: the router and engine advance the
// status but rows are never deleted.
type Signal struct {
	ID        string                 `json:"id" db:"id"`
	TenantID  string                 `json:"tenant_id" db:"tenant_id"`
	ClientID  *string                `json:"client_id,omitempty" db:"client_id"`
	Source    SignalSource           `json:"source" db:"source"`
	Type      string                 `json:"type" db:"type"`
	Payload   map[string]interface{} `json:"payload" db:"payload"`
	Urgency   SignalUrgency          `json:"urgency" db:"urgency"`
	DedupHash string                 `json:"dedup_hash" db:"dedup_hash"`
	Status    SignalStatus           `json:"status" db:"status"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// SignalRoute maps a (source, type, urgency, payload-filter) pattern to a
// workflow to trigger. Source and SignalType accept "*" as a wildcard. A nil
// or empty Urgencies slice means any urgency matches. The payload filter is a
// list of rule conditions evaluated against the signal payload with the same
// semantics as rule-step conditions.
type SignalRoute struct {
	ID            string          `json:"id" db:"id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	Name          string          `json:"name" db:"name"`
	Source        string          `json:"source" db:"source"`
	SignalType    string          `json:"signal_type" db:"signal_type"`
	Urgencies     []SignalUrgency `json:"urgencies,omitempty" db:"urgencies"`
	PayloadFilter []RuleCondition `json:"payload_filter,omitempty" db:"payload_filter"`
	WorkflowID    string          `json:"workflow_id" db:"workflow_id"`
	Priority      int             `json:"priority" db:"priority"`
	Enabled       bool            `json:"enabled" db:"enabled"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// RouteWildcard matches any source or signal type in a route pattern.
const RouteWildcard = "*"
