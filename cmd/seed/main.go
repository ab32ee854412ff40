package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iamrudi/AgentDash-sub001/db/migrations"
	"github.com/iamrudi/AgentDash-sub001/internal/config"
	"github.com/iamrudi/AgentDash-sub001/internal/logging"
	"github.com/iamrudi/AgentDash-sub001/internal/repository"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	// Load config
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	store := repository.NewPostgres(pool)

	// 1. Ensure Tenant Exists
	domain := "localhost"
	tenant, err := store.GetTenantByDomain(ctx, domain)
	if err != nil {
		logger.Info("Creating default tenant for domain %s", domain)
		tenant = &models.Tenant{
			Name:               "Local Dev Tenant",
			Domain:             domain,
			DedupWindowSeconds: 300,
		}
		if err := store.CreateTenant(ctx, tenant); err != nil {
			log.Fatalf("Failed to create tenant: %v", err)
		}
	} else {
		logger.Info("Found existing tenant %s", tenant.ID)
	}

	// 2. Check for existing workflows to prevent duplicates
	existingWorkflows, err := store.ListWorkflows(ctx, tenant.ID)
	if err != nil {
		log.Fatalf("Failed to list existing workflows: %v", err)
	}
	existingMap := make(map[string]bool)
	for _, w := range existingWorkflows {
		existingMap[w.Name] = true
	}

	// 3. Seed a churn-alert workflow: check the rule, then branch on urgency.
	const workflowName = "Churn Alert"
	if !existingMap[workflowName] {
		steps := []models.WorkflowStep{
			{
				ID:     "check-risk",
				Name:   "Check churn risk rule",
				Type:   models.StepTypeRule,
				Config: mustJSON(map[string]interface{}{"rule_id": "seed-churn-rule"}),
				Next:   "pick-channel",
			},
			{
				ID:   "pick-channel",
				Name: "Pick notification channel",
				Type: models.StepTypeBranch,
				Config: mustJSON(map[string]interface{}{
					"branches": []map[string]interface{}{
						{
							"conditions": []map[string]interface{}{
								{"field": "urgency", "operator": "eq", "value": "critical", "scope": "signal"},
							},
							"next": "page-oncall",
						},
					},
					"default_next": "notify-email",
				}),
			},
			{
				ID:      "page-oncall",
				Name:    "Page the on-call account manager",
				Type:    models.StepTypeAction,
				Config:  mustJSON(map[string]interface{}{"action_type": "page"}),
				OnError: models.ErrorPolicyRetry,
				Retry:   &models.RetryPolicy{MaxRetries: 2, BackoffMs: 500},
			},
			{
				ID:     "notify-email",
				Name:   "Send an email summary",
				Type:   models.StepTypeAction,
				Config: mustJSON(map[string]interface{}{"action_type": "email"}),
			},
		}

		wf := &models.Workflow{
			TenantID:    tenant.ID,
			WorkflowID:  uuid.New().String(),
			Name:        workflowName,
			Description: "Checks the churn-risk rule and notifies the right channel.",
			Status:      models.WorkflowStatusActive,
			TriggerType: models.TriggerTypeSignal,
			Steps:       steps,
			CreatedBy:   "seed-script",
		}
		if err := store.CreateWorkflow(ctx, wf); err != nil {
			log.Printf("Failed to create workflow %s: %v", workflowName, err)
		} else {
			logger.Info("Seeded workflow %s (%s)", workflowName, wf.WorkflowID)

			seedRule(ctx, store, logger, tenant.ID)

			route := &models.SignalRoute{
				TenantID:   tenant.ID,
				Name:       "Churn signals",
				Source:     models.RouteWildcard,
				SignalType: "client.churn_risk",
				WorkflowID: wf.WorkflowID,
				Priority:   10,
				Enabled:    true,
			}
			if err := store.CreateRoute(ctx, route); err != nil {
				log.Printf("Failed to create route: %v", err)
			} else {
				logger.Info("Seeded route %s", route.ID)
			}
		}
	} else {
		logger.Info("Skipping existing workflow %s", workflowName)
	}

	logger.Info("Seeding complete!")
}

func seedRule(ctx context.Context, store *repository.Postgres, logger *logging.Logger, tenantID string) {
	rule := &models.WorkflowRule{
		ID:          "seed-churn-rule",
		TenantID:    tenantID,
		Name:        "High churn risk",
		Description: "Fires when the churn score crosses the threshold.",
		Category:    models.RuleCategoryThreshold,
	}
	if _, err := store.GetRule(ctx, tenantID, rule.ID); err == nil {
		logger.Info("Skipping existing rule %s", rule.ID)
		return
	}
	if err := store.CreateRule(ctx, rule); err != nil {
		log.Printf("Failed to create rule: %v", err)
		return
	}

	version := &models.WorkflowRuleVersion{
		RuleID: rule.ID,
		Logic:  models.ConditionLogicAll,
		Conditions: []models.RuleCondition{
			{Field: "churn_score", Operator: models.OpGT, Value: 0.7, Scope: models.ScopeSignal, Position: 0},
		},
		Actions: []models.RuleAction{
			{ActionType: "notify", Position: 0},
		},
	}
	if err := store.CreateRuleVersion(ctx, version); err != nil {
		log.Printf("Failed to create rule version: %v", err)
		return
	}
	if err := store.PublishRuleVersion(ctx, rule.ID, version.ID); err != nil {
		log.Printf("Failed to publish rule version: %v", err)
		return
	}
	logger.Info("Seeded rule %s with published version %d", rule.ID, version.Version)
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
