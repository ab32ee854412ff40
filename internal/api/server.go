// Package api contains the HTTP handlers for the automation service.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iamrudi/AgentDash-sub001/internal/repository"
	"github.com/iamrudi/AgentDash-sub001/internal/services"
)

// Server holds the dependencies for the API server.
type Server struct {
	Repo    repository.Repository
	Service *services.AutomationService
}

// NewServer creates a new Server.
func NewServer(repo repository.Repository, service *services.AutomationService) *Server {
	return &Server{Repo: repo, Service: service}
}

// RegisterRoutes mounts every handler on the group. Callers attach auth
// middleware to the group before registering.
func RegisterRoutes(g *echo.Group, s *Server) {
	g.POST("/signals", s.IngestSignal)
	g.GET("/signals", s.ListSignals)
	g.GET("/signals/:id", s.GetSignal)

	g.GET("/routes", s.ListRoutes)
	g.POST("/routes", s.CreateRoute)
	g.PUT("/routes/:id", s.UpdateRoute)

	g.GET("/workflows", s.ListWorkflows)
	g.PUT("/workflows", s.PutWorkflow)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.POST("/workflows/:id/status", s.UpdateWorkflowStatus)
	g.POST("/workflows/:id/execute", s.ExecuteWorkflow)

	g.GET("/executions/:id", s.GetExecution)
	g.GET("/executions/:id/events", s.ListExecutionEvents)

	g.GET("/rules", s.ListRules)
	g.POST("/rules", s.CreateRule)
	g.GET("/rules/:id", s.GetRule)
	g.GET("/rules/:id/versions", s.ListRuleVersions)
	g.POST("/rules/:id/versions", s.CreateRuleVersion)
	g.POST("/rules/:id/versions/:versionId/publish", s.PublishRuleVersion)
	g.POST("/rules/:id/evaluate", s.EvaluateRule)
	g.GET("/rules/:id/evaluations", s.ListEvaluations)
}

// tenantID extracts the tenant resolved by the auth middleware.
func tenantID(c echo.Context) (string, error) {
	id, ok := c.Request().Context().Value("tenant_id").(string)
	if !ok || id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Tenant ID not found in context")
	}
	return id, nil
}
