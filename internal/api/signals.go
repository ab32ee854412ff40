package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iamrudi/AgentDash-sub001/internal/repository"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// IngestSignal accepts a signal, deduplicates and routes it
// (POST /api/v1/signals)
func (s *Server) IngestSignal(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var signal models.Signal
	if err := c.Bind(&signal); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	signal.TenantID = tenant

	created, err := s.Service.IngestSignal(ctx, &signal)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to ingest signal: "+err.Error())
	}

	status := http.StatusCreated
	if created.Status == models.SignalStatusDuplicate {
		// The duplicate is stored for audit but triggers nothing.
		status = http.StatusOK
	}
	return c.JSON(status, created)
}

// ListSignals returns the tenant's most recent signals
// (GET /api/v1/signals)
func (s *Server) ListSignals(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	signals, err := s.Repo.ListSignals(ctx, tenant, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, signals)
}

// GetSignal returns one signal by id
// (GET /api/v1/signals/:id)
func (s *Server) GetSignal(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	signal, err := s.Repo.GetSignal(ctx, tenant, c.Param("id"))
	if err == repository.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "Signal not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, signal)
}
