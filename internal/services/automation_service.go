// Package services implements the application-level operations behind the API
// and MCP surfaces: signal ingestion, workflow management and rule evaluation.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/iamrudi/AgentDash-sub001/internal/canonical"
	"github.com/iamrudi/AgentDash-sub001/internal/engine"
	"github.com/iamrudi/AgentDash-sub001/internal/logging"
	"github.com/iamrudi/AgentDash-sub001/internal/repository"
	"github.com/iamrudi/AgentDash-sub001/internal/router"
	"github.com/iamrudi/AgentDash-sub001/internal/rules"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// AutomationService is the core application service: it ingests signals,
// deduplicates them, routes them to workflows, and runs ad-hoc rule
// evaluations.
type AutomationService struct {
	repo        repository.Repository
	router      *router.Router
	engine      *engine.Engine
	evaluator   *rules.Evaluator
	logger      *logging.Logger
	dedupWindow time.Duration

	signalsIngested metric.Int64Counter
	duplicates      metric.Int64Counter
	executions      metric.Int64Counter
}

// NewAutomationService wires the service. dedupWindow is the deployment
// default; tenants can override it per account.
func NewAutomationService(repo repository.Repository, rt *router.Router, eng *engine.Engine, evaluator *rules.Evaluator, logger *logging.Logger, dedupWindow time.Duration) *AutomationService {
	meter := otel.Meter("automation")
	signalsIngested, _ := meter.Int64Counter("signals_ingested_total",
		metric.WithDescription("Signals accepted by the ingestion endpoint"))
	duplicates, _ := meter.Int64Counter("signals_duplicate_total",
		metric.WithDescription("Signals flagged as duplicates inside the dedup window"))
	executions, _ := meter.Int64Counter("workflow_executions_total",
		metric.WithDescription("Workflow executions started by signal routing or manual trigger"))

	return &AutomationService{
		repo:            repo,
		router:          rt,
		engine:          eng,
		evaluator:       evaluator,
		logger:          logger,
		dedupWindow:     dedupWindow,
		signalsIngested: signalsIngested,
		duplicates:      duplicates,
		executions:      executions,
	}
}

// IngestSignal validates, fingerprints and persists a signal, then routes it
// unless an identical signal was already seen inside the tenant's dedup
// window. Duplicates are stored for audit but never routed.
func (s *AutomationService) IngestSignal(ctx context.Context, signal *models.Signal) (*models.Signal, error) {
	if signal.TenantID == "" {
		return nil, fmt.Errorf("signal has no tenant id")
	}
	if signal.Type == "" {
		return nil, fmt.Errorf("signal has no type")
	}
	if signal.Source == "" {
		return nil, fmt.Errorf("signal has no source")
	}
	if signal.Urgency == "" {
		signal.Urgency = models.SignalUrgencyNormal
	}

	hash, err := canonical.Fingerprint(signal.TenantID, string(signal.Source), signal.Type, signal.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint signal: %w", err)
	}

	now := time.Now().UTC()
	signal.ID = uuid.NewString()
	signal.DedupHash = hash
	signal.Status = models.SignalStatusPending
	signal.CreatedAt = now
	signal.UpdatedAt = now

	window := s.dedupWindowFor(ctx, signal.TenantID)
	if _, err := s.repo.FindRecentByFingerprint(ctx, signal.TenantID, hash, window); err == nil {
		signal.Status = models.SignalStatusDuplicate
	} else if err != repository.ErrNotFound {
		return nil, fmt.Errorf("failed to check dedup window: %w", err)
	}

	if err := s.repo.CreateSignal(ctx, signal); err != nil {
		return nil, fmt.Errorf("failed to persist signal: %w", err)
	}
	s.signalsIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(signal.Source))))

	if signal.Status == models.SignalStatusDuplicate {
		s.duplicates.Add(ctx, 1)
		s.logger.Warn("signal %s is a duplicate within %s, not routed", signal.ID, window)
		return signal, nil
	}

	s.route(ctx, signal)
	return signal, nil
}

// dedupWindowFor resolves the effective dedup window for a tenant.
func (s *AutomationService) dedupWindowFor(ctx context.Context, tenantID string) time.Duration {
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err == nil && tenant.DedupWindowSeconds > 0 {
		return time.Duration(tenant.DedupWindowSeconds) * time.Second
	}
	return s.dedupWindow
}

// route matches the signal against the routing table and starts an execution
// per matched route. Routing failures mark the signal failed; a signal with
// no matching routes completes immediately.
func (s *AutomationService) route(ctx context.Context, signal *models.Signal) {
	routes, err := s.router.Match(ctx, signal)
	if err != nil {
		s.logger.Error("failed to route signal %s: %v", signal.ID, err)
		s.setSignalStatus(ctx, signal, models.SignalStatusFailed)
		return
	}
	if len(routes) == 0 {
		s.setSignalStatus(ctx, signal, models.SignalStatusCompleted)
		return
	}

	s.setSignalStatus(ctx, signal, models.SignalStatusProcessing)
	failed := false
	for _, route := range routes {
		if err := s.triggerRoute(ctx, route, signal); err != nil {
			s.logger.Error("route %s failed for signal %s: %v", route.ID, signal.ID, err)
			failed = true
		}
	}
	if failed {
		s.setSignalStatus(ctx, signal, models.SignalStatusFailed)
		return
	}
	s.setSignalStatus(ctx, signal, models.SignalStatusCompleted)
}

func (s *AutomationService) triggerRoute(ctx context.Context, route *models.SignalRoute, signal *models.Signal) error {
	workflow, err := s.repo.GetLatestWorkflow(ctx, signal.TenantID, route.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to resolve workflow %s: %w", route.WorkflowID, err)
	}
	if workflow.Status != models.WorkflowStatusActive {
		s.logger.Info("route %s points to %s workflow %s, skipped", route.ID, workflow.Status, workflow.ID)
		return nil
	}

	execution, started, err := s.engine.Execute(ctx, workflow, engine.Trigger{
		ID:      signal.ID,
		Type:    models.TriggerTypeSignal,
		Payload: signal.Payload,
		Signal:  signal,
	})
	if err != nil {
		return err
	}
	if started {
		s.executions.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", string(models.TriggerTypeSignal))))
	}
	s.logger.Info("signal %s triggered execution %s (status %s)", signal.ID, execution.ID, execution.Status)
	return nil
}

func (s *AutomationService) setSignalStatus(ctx context.Context, signal *models.Signal, status models.SignalStatus) {
	signal.Status = status
	if err := s.repo.UpdateSignalStatus(ctx, signal.ID, status); err != nil {
		s.logger.Error("failed to update status of signal %s: %v", signal.ID, err)
	}
}

// SaveWorkflow validates the step graph and persists a new workflow version.
func (s *AutomationService) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if err := engine.Validate(workflow); err != nil {
		return err
	}
	return s.repo.CreateWorkflow(ctx, workflow)
}

// ExecuteWorkflow starts the latest active version of a workflow with a
// manually supplied payload. Replays of an identical payload return the
// original execution.
func (s *AutomationService) ExecuteWorkflow(ctx context.Context, tenantID, workflowID string, payload map[string]interface{}) (*models.WorkflowExecution, bool, error) {
	workflow, err := s.repo.GetLatestWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve workflow %s: %w", workflowID, err)
	}
	if workflow.Status != models.WorkflowStatusActive {
		return nil, false, fmt.Errorf("workflow %s is %s, not active", workflowID, workflow.Status)
	}

	execution, started, err := s.engine.Execute(ctx, workflow, engine.Trigger{
		ID:      uuid.NewString(),
		Type:    models.TriggerTypeManual,
		Payload: payload,
	})
	if err != nil {
		return nil, false, err
	}
	if started {
		s.executions.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", string(models.TriggerTypeManual))))
	}
	return execution, started, nil
}

// EvaluateRule runs an ad-hoc evaluation of a rule version against caller
// supplied values and records the outcome. An empty versionID evaluates the
// rule's active version.
func (s *AutomationService) EvaluateRule(ctx context.Context, tenantID, ruleID, versionID string, values map[string]interface{}) (*models.WorkflowRuleEvaluation, error) {
	var version *models.WorkflowRuleVersion
	var err error
	if versionID != "" {
		version, err = s.repo.GetRuleVersion(ctx, versionID)
	} else {
		version, err = s.repo.GetActiveVersion(ctx, ruleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve version of rule %s: %w", ruleID, err)
	}

	evaluation, err := s.evaluator.Evaluate(ctx, version, &rules.EvalContext{
		TenantID: tenantID,
		Values:   values,
	})
	if err != nil {
		return nil, err
	}
	evaluation.ID = uuid.NewString()
	if err := s.repo.RecordEvaluation(ctx, evaluation); err != nil {
		s.logger.Error("failed to record evaluation of rule %s: %v", ruleID, err)
	}
	return evaluation, nil
}
