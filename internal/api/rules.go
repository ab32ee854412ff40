package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iamrudi/AgentDash-sub001/internal/repository"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// ListRules returns the tenant's rules
// (GET /api/v1/rules)
func (s *Server) ListRules(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	rules, err := s.Repo.ListRules(ctx, tenant)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rules)
}

// CreateRule creates a rule container, optionally with an initial draft
// version
// (POST /api/v1/rules)
func (s *Server) CreateRule(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var body struct {
		models.WorkflowRule
		Logic      models.ConditionLogic  `json:"logic"`
		Conditions []models.RuleCondition `json:"conditions"`
		Actions    []models.RuleAction    `json:"actions"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	rule := body.WorkflowRule
	rule.TenantID = tenant
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Rule needs a name")
	}
	if rule.Category == "" {
		rule.Category = models.RuleCategoryCustom
	}

	if err := s.Repo.CreateRule(ctx, &rule); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save rule: "+err.Error())
	}

	if len(body.Conditions) > 0 {
		version := &models.WorkflowRuleVersion{
			ID:         uuid.New().String(),
			RuleID:     rule.ID,
			Status:     models.RuleVersionStatusDraft,
			Logic:      body.Logic,
			Conditions: body.Conditions,
			Actions:    body.Actions,
		}
		if version.Logic == "" {
			version.Logic = models.ConditionLogicAll
		}
		if err := s.Repo.CreateRuleVersion(ctx, version); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save rule version: "+err.Error())
		}
	}
	return c.JSON(http.StatusCreated, rule)
}

// GetRule returns one rule by id
// (GET /api/v1/rules/:id)
func (s *Server) GetRule(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	rule, err := s.Repo.GetRule(ctx, tenant, c.Param("id"))
	if err == repository.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "Rule not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rule)
}

// ListRuleVersions returns every version of a rule, newest first
// (GET /api/v1/rules/:id/versions)
func (s *Server) ListRuleVersions(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if _, err := s.Repo.GetRule(ctx, tenant, c.Param("id")); err == repository.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "Rule not found")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	versions, err := s.Repo.ListRuleVersions(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, versions)
}

// CreateRuleVersion adds a draft version to a rule. Versions are immutable;
// editing means creating the next draft.
// (POST /api/v1/rules/:id/versions)
func (s *Server) CreateRuleVersion(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if _, err := s.Repo.GetRule(ctx, tenant, c.Param("id")); err == repository.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "Rule not found")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var version models.WorkflowRuleVersion
	if err := c.Bind(&version); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	version.ID = uuid.New().String()
	version.RuleID = c.Param("id")
	version.Status = models.RuleVersionStatusDraft
	if version.Logic == "" {
		version.Logic = models.ConditionLogicAll
	}
	if len(version.Conditions) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Rule version needs at least one condition")
	}

	if err := s.Repo.CreateRuleVersion(ctx, &version); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save rule version: "+err.Error())
	}
	return c.JSON(http.StatusCreated, version)
}

// PublishRuleVersion makes a draft version the rule's active one
// (POST /api/v1/rules/:id/versions/:versionId/publish)
func (s *Server) PublishRuleVersion(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if _, err := s.Repo.GetRule(ctx, tenant, c.Param("id")); err == repository.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "Rule not found")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := s.Repo.PublishRuleVersion(ctx, c.Param("id"), c.Param("versionId")); err != nil {
		if errors.Is(err, repository.ErrNotPublishable) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Rule version not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to publish rule version: "+err.Error())
	}

	version, err := s.Repo.GetRuleVersion(ctx, c.Param("versionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, version)
}

type evaluateRequest struct {
	VersionID string                 `json:"version_id"`
	Values    map[string]interface{} `json:"values"`
}

// EvaluateRule runs an ad-hoc evaluation against caller-supplied values and
// returns the verdict with its full condition trace
// (POST /api/v1/rules/:id/evaluate)
func (s *Server) EvaluateRule(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if _, err := s.Repo.GetRule(ctx, tenant, c.Param("id")); err == repository.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "Rule not found")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	evaluation, err := s.Service.EvaluateRule(ctx, tenant, c.Param("id"), req.VersionID, req.Values)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to evaluate rule: "+err.Error())
	}
	return c.JSON(http.StatusOK, evaluation)
}

// ListEvaluations returns recent evaluation records of a rule
// (GET /api/v1/rules/:id/evaluations)
func (s *Server) ListEvaluations(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if _, err := s.Repo.GetRule(ctx, tenant, c.Param("id")); err == repository.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "Rule not found")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	evaluations, err := s.Repo.ListEvaluations(ctx, c.Param("id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, evaluations)
}
