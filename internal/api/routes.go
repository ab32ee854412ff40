package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iamrudi/AgentDash-sub001/internal/repository"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// ListRoutes returns every route of the tenant, enabled or not
// (GET /api/v1/routes)
func (s *Server) ListRoutes(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	routes, err := s.Repo.ListRoutes(ctx, tenant)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, routes)
}

// CreateRoute creates a signal route
// (POST /api/v1/routes)
func (s *Server) CreateRoute(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var route models.SignalRoute
	if err := c.Bind(&route); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	route.TenantID = tenant
	if route.ID == "" {
		route.ID = uuid.New().String()
	}
	if route.WorkflowID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Route needs a workflow_id")
	}
	if route.Source == "" {
		route.Source = models.RouteWildcard
	}
	if route.SignalType == "" {
		route.SignalType = models.RouteWildcard
	}

	if err := s.Repo.CreateRoute(ctx, &route); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save route: "+err.Error())
	}
	return c.JSON(http.StatusCreated, route)
}

// UpdateRoute replaces a route's pattern, target and flags
// (PUT /api/v1/routes/:id)
func (s *Server) UpdateRoute(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	existing, err := s.Repo.GetRoute(ctx, tenant, c.Param("id"))
	if err == repository.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "Route not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var route models.SignalRoute
	if err := c.Bind(&route); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	route.ID = existing.ID
	route.TenantID = tenant

	if err := s.Repo.UpdateRoute(ctx, &route); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update route: "+err.Error())
	}
	return c.JSON(http.StatusOK, route)
}
