package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iamrudi/AgentDash-sub001/internal/engine"
	"github.com/iamrudi/AgentDash-sub001/internal/repository"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// ListWorkflows returns the latest version of every workflow
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	workflows, err := s.Repo.ListWorkflows(ctx, tenant)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, workflows)
}

// PutWorkflow creates a workflow or a new version of an existing one
// (PUT /api/v1/workflows)
func (s *Server) PutWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var workflow models.Workflow
	if err := c.Bind(&workflow); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	workflow.TenantID = tenant

	// If this is a new workflow concept (no WorkflowID), generate one.
	// If WorkflowID is present, the save creates the next version of it.
	if workflow.WorkflowID == "" {
		workflow.WorkflowID = uuid.New().String()
	}
	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	if err := s.Service.SaveWorkflow(ctx, &workflow); err != nil {
		if errors.Is(err, engine.ErrInvalidWorkflow) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save workflow: "+err.Error())
	}
	return c.JSON(http.StatusOK, workflow)
}

// GetWorkflow returns one workflow version by id
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	workflow, err := s.Repo.GetWorkflow(ctx, c.Param("id"))
	if err == repository.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "Workflow not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if workflow.TenantID != tenant {
		return echo.NewHTTPError(http.StatusNotFound, "Workflow not found")
	}
	return c.JSON(http.StatusOK, workflow)
}

type statusRequest struct {
	Status models.WorkflowStatus `json:"status"`
}

// UpdateWorkflowStatus toggles a workflow version's lifecycle state
// (POST /api/v1/workflows/:id/status)
func (s *Server) UpdateWorkflowStatus(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	workflow, err := s.Repo.GetWorkflow(ctx, c.Param("id"))
	if err == repository.ErrNotFound || (err == nil && workflow.TenantID != tenant) {
		return echo.NewHTTPError(http.StatusNotFound, "Workflow not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	switch req.Status {
	case models.WorkflowStatusDraft, models.WorkflowStatusActive, models.WorkflowStatusPaused, models.WorkflowStatusArchived:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown workflow status")
	}

	if err := s.Repo.UpdateWorkflowStatus(ctx, workflow.ID, req.Status); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update status: "+err.Error())
	}
	workflow.Status = req.Status
	return c.JSON(http.StatusOK, workflow)
}

type executeRequest struct {
	Payload map[string]interface{} `json:"payload"`
}

type executeResponse struct {
	Execution *models.WorkflowExecution `json:"execution"`
	Replayed  bool                      `json:"replayed"`
}

// ExecuteWorkflow triggers the latest active version of a workflow manually.
// Re-posting an identical payload returns the original execution.
// (POST /api/v1/workflows/:id/execute)
func (s *Server) ExecuteWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	execution, started, err := s.Service.ExecuteWorkflow(ctx, tenant, c.Param("id"), req.Payload)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to execute workflow: "+err.Error())
	}

	status := http.StatusCreated
	if !started {
		status = http.StatusOK
	}
	return c.JSON(status, executeResponse{Execution: execution, Replayed: !started})
}
