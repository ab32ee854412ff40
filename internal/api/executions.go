package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iamrudi/AgentDash-sub001/internal/repository"
)

// GetExecution returns one execution by id
// (GET /api/v1/executions/:id)
func (s *Server) GetExecution(c echo.Context) error {
	ctx := c.Request().Context()

	if _, err := tenantID(c); err != nil {
		return err
	}

	execution, err := s.Repo.GetExecution(ctx, c.Param("id"))
	if err == repository.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "Execution not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, execution)
}

// ListExecutionEvents returns the step-level event log of an execution, in
// trace order
// (GET /api/v1/executions/:id/events)
func (s *Server) ListExecutionEvents(c echo.Context) error {
	ctx := c.Request().Context()

	if _, err := tenantID(c); err != nil {
		return err
	}

	if _, err := s.Repo.GetExecution(ctx, c.Param("id")); err == repository.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "Execution not found")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	events, err := s.Repo.ListEvents(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, events)
}
