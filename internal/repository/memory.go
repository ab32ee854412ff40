package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// Memory is an in-memory Repository used by unit tests and local development.
// It mirrors the Postgres behavior, including the uniqueness guarantee of
// CreateExecution, which is enforced under the store lock.
type Memory struct {
	mu          sync.Mutex
	tenants     map[string]*models.Tenant
	signals     map[string]*models.Signal
	routes      map[string]*models.SignalRoute
	workflows   map[string]*models.Workflow
	executions  map[string]*models.WorkflowExecution
	execByKey   map[[2]string]string // (workflowID, inputHash) -> execution id
	events      map[string][]*models.WorkflowEvent
	rules       map[string]*models.WorkflowRule
	versions    map[string]*models.WorkflowRuleVersion
	evaluations map[string][]*models.WorkflowRuleEvaluation
	metrics     map[string][]metricPoint
}

type metricPoint struct {
	value float64
	at    time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		tenants:     make(map[string]*models.Tenant),
		signals:     make(map[string]*models.Signal),
		routes:      make(map[string]*models.SignalRoute),
		workflows:   make(map[string]*models.Workflow),
		executions:  make(map[string]*models.WorkflowExecution),
		execByKey:   make(map[[2]string]string),
		events:      make(map[string][]*models.WorkflowEvent),
		rules:       make(map[string]*models.WorkflowRule),
		versions:    make(map[string]*models.WorkflowRuleVersion),
		evaluations: make(map[string][]*models.WorkflowRuleEvaluation),
		metrics:     make(map[string][]metricPoint),
	}
}

var _ Repository = (*Memory)(nil)

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	now := time.Now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	cp := *tenant
	m.tenants[tenant.ID] = &cp
	return nil
}

func (m *Memory) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Domain == domain {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateSignal(ctx context.Context, signal *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if signal.ID == "" {
		signal.ID = uuid.New().String()
	}
	now := time.Now()
	signal.CreatedAt = now
	signal.UpdatedAt = now
	cp := *signal
	m.signals[signal.ID] = &cp
	return nil
}

func (m *Memory) GetSignal(ctx context.Context, tenantID, id string) (*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListSignals(ctx context.Context, tenantID string, limit int) ([]*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Signal
	for _, s := range m.signals {
		if s.TenantID == tenantID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateSignalStatus(ctx context.Context, id string, status models.SignalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) FindRecentByFingerprint(ctx context.Context, tenantID, dedupHash string, window time.Duration) (*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var newest *models.Signal
	for _, s := range m.signals {
		if s.TenantID != tenantID || s.DedupHash != dedupHash || s.Status == models.SignalStatusDuplicate {
			continue
		}
		if s.CreatedAt.Before(cutoff) {
			continue
		}
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			newest = s
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *Memory) CreateRoute(ctx context.Context, route *models.SignalRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if route.ID == "" {
		route.ID = uuid.New().String()
	}
	now := time.Now()
	route.CreatedAt = now
	route.UpdatedAt = now
	cp := *route
	m.routes[route.ID] = &cp
	return nil
}

func (m *Memory) UpdateRoute(ctx context.Context, route *models.SignalRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[route.ID]; !ok {
		return ErrNotFound
	}
	route.UpdatedAt = time.Now()
	cp := *route
	m.routes[route.ID] = &cp
	return nil
}

func (m *Memory) GetRoute(ctx context.Context, tenantID, id string) (*models.SignalRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok || r.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) ListRoutes(ctx context.Context, tenantID string) ([]*models.SignalRoute, error) {
	return m.listRoutes(tenantID, false), nil
}

func (m *Memory) ListEnabledRoutes(ctx context.Context, tenantID string) ([]*models.SignalRoute, error) {
	return m.listRoutes(tenantID, true), nil
}

func (m *Memory) listRoutes(tenantID string, enabledOnly bool) []*models.SignalRoute {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SignalRoute
	for _, r := range m.routes {
		if r.TenantID != tenantID {
			continue
		}
		if enabledOnly && !r.Enabled {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Memory) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}
	now := time.Now()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	workflow.IsLatest = true

	maxVersion := 0
	for _, w := range m.workflows {
		if w.TenantID == workflow.TenantID && w.WorkflowID == workflow.WorkflowID {
			w.IsLatest = false
			if w.Version > maxVersion {
				maxVersion = w.Version
			}
		}
	}
	workflow.Version = maxVersion + 1
	cp := *workflow
	m.workflows[workflow.ID] = &cp
	return nil
}

func (m *Memory) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *Memory) GetLatestWorkflow(ctx context.Context, tenantID, workflowID string) (*models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workflows {
		if w.TenantID == tenantID && w.WorkflowID == workflowID && w.IsLatest {
			cp := *w
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Workflow
	for _, w := range m.workflows {
		if w.TenantID == tenantID && w.IsLatest {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpdateWorkflowStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	if !ok {
		return ErrNotFound
	}
	w.Status = status
	w.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) CreateExecution(ctx context.Context, execution *models.WorkflowExecution) (*models.WorkflowExecution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{execution.WorkflowID, execution.InputHash}
	if existingID, ok := m.execByKey[key]; ok {
		cp := *m.executions[existingID]
		return &cp, false, nil
	}
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}
	if execution.StartedAt.IsZero() {
		execution.StartedAt = time.Now()
	}
	cp := *execution
	m.executions[execution.ID] = &cp
	m.execByKey[key] = execution.ID
	return execution, true, nil
}

func (m *Memory) UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[execution.ID]; !ok {
		return ErrNotFound
	}
	cp := *execution
	m.executions[execution.ID] = &cp
	return nil
}

func (m *Memory) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowExecution
	for _, e := range m.executions {
		if e.WorkflowID == workflowID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AppendEvent(ctx context.Context, event *models.WorkflowEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	cp := *event
	m.events[event.ExecutionID] = append(m.events[event.ExecutionID], &cp)
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, executionID string) ([]*models.WorkflowEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events[executionID]
	out := make([]*models.WorkflowEvent, len(events))
	for i, e := range events {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) CreateRule(ctx context.Context, rule *models.WorkflowRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *Memory) GetRule(ctx context.Context, tenantID, id string) (*models.WorkflowRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) ListRules(ctx context.Context, tenantID string) ([]*models.WorkflowRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowRule
	for _, r := range m.rules {
		if r.TenantID == tenantID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateRuleVersion(ctx context.Context, version *models.WorkflowRuleVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version.ID == "" {
		version.ID = uuid.New().String()
	}
	version.CreatedAt = time.Now()
	if version.Status == "" {
		version.Status = models.RuleVersionStatusDraft
	}
	maxVersion := 0
	for _, v := range m.versions {
		if v.RuleID == version.RuleID && v.Version > maxVersion {
			maxVersion = v.Version
		}
	}
	version.Version = maxVersion + 1
	cp := copyRuleVersion(version)
	m.versions[version.ID] = cp
	return nil
}

func (m *Memory) GetRuleVersion(ctx context.Context, id string) (*models.WorkflowRuleVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRuleVersion(v), nil
}

func (m *Memory) ListRuleVersions(ctx context.Context, ruleID string) ([]*models.WorkflowRuleVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowRuleVersion
	for _, v := range m.versions {
		if v.RuleID == ruleID {
			out = append(out, copyRuleVersion(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (m *Memory) GetActiveVersion(ctx context.Context, ruleID string) (*models.WorkflowRuleVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[ruleID]
	if !ok || r.DefaultVersionID == nil {
		return nil, ErrNotFound
	}
	v, ok := m.versions[*r.DefaultVersionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRuleVersion(v), nil
}

func (m *Memory) PublishRuleVersion(ctx context.Context, ruleID, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[ruleID]
	if !ok {
		return ErrNotFound
	}
	v, ok := m.versions[versionID]
	if !ok || v.RuleID != ruleID {
		return ErrNotFound
	}
	if v.Status != models.RuleVersionStatusDraft {
		return ErrNotPublishable
	}
	now := time.Now()
	for _, other := range m.versions {
		if other.RuleID == ruleID && other.ID != versionID && other.Status == models.RuleVersionStatusPublished {
			other.Status = models.RuleVersionStatusDeprecated
		}
	}
	v.Status = models.RuleVersionStatusPublished
	v.PublishedAt = &now
	id := versionID
	r.DefaultVersionID = &id
	r.UpdatedAt = now
	return nil
}

func (m *Memory) RecordEvaluation(ctx context.Context, evaluation *models.WorkflowRuleEvaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if evaluation.ID == "" {
		evaluation.ID = uuid.New().String()
	}
	if evaluation.CreatedAt.IsZero() {
		evaluation.CreatedAt = time.Now()
	}
	cp := *evaluation
	m.evaluations[evaluation.RuleID] = append(m.evaluations[evaluation.RuleID], &cp)
	return nil
}

func (m *Memory) ListEvaluations(ctx context.Context, ruleID string, limit int) ([]*models.WorkflowRuleEvaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evals := m.evaluations[ruleID]
	out := make([]*models.WorkflowRuleEvaluation, 0, len(evals))
	for i := len(evals) - 1; i >= 0; i-- {
		cp := *evals[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) RecordMetric(ctx context.Context, tenantID, name string, value float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "/" + name
	m.metrics[key] = append(m.metrics[key], metricPoint{value: value, at: at})
	return nil
}

func (m *Memory) Series(ctx context.Context, tenantID, name string, window time.Duration) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-window)
	points := append([]metricPoint(nil), m.metrics[tenantID+"/"+name]...)
	sort.Slice(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })
	var out []float64
	for _, p := range points {
		if p.at.After(cutoff) {
			out = append(out, p.value)
		}
	}
	return out, nil
}

func copyRuleVersion(v *models.WorkflowRuleVersion) *models.WorkflowRuleVersion {
	cp := *v
	cp.Conditions = append([]models.RuleCondition(nil), v.Conditions...)
	cp.Actions = append([]models.RuleAction(nil), v.Actions...)
	return &cp
}
