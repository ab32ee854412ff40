package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

const routeColumns = `id, tenant_id, name, source, signal_type, urgencies, payload_filter, workflow_id, priority, enabled, created_at, updated_at`

// CreateRoute inserts a new signal route.
func (s *Postgres) CreateRoute(ctx context.Context, route *models.SignalRoute) error {
	if route.ID == "" {
		route.ID = uuid.New().String()
	}
	now := time.Now()
	route.CreatedAt = now
	route.UpdatedAt = now

	urgencies, filter, err := marshalRouteFields(route)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO signal_routes (`+routeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		route.ID, route.TenantID, route.Name, route.Source, route.SignalType,
		urgencies, filter, route.WorkflowID, route.Priority, route.Enabled, route.CreatedAt, route.UpdatedAt)
	return err
}

// UpdateRoute rewrites an existing route.
func (s *Postgres) UpdateRoute(ctx context.Context, route *models.SignalRoute) error {
	route.UpdatedAt = time.Now()
	urgencies, filter, err := marshalRouteFields(route)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE signal_routes
		 SET name = $1, source = $2, signal_type = $3, urgencies = $4, payload_filter = $5,
		     workflow_id = $6, priority = $7, enabled = $8, updated_at = $9
		 WHERE tenant_id = $10 AND id = $11`,
		route.Name, route.Source, route.SignalType, urgencies, filter,
		route.WorkflowID, route.Priority, route.Enabled, route.UpdatedAt, route.TenantID, route.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRoute retrieves a route by id within a tenant.
func (s *Postgres) GetRoute(ctx context.Context, tenantID, id string) (*models.SignalRoute, error) {
	return scanRoute(s.db.QueryRow(ctx,
		`SELECT `+routeColumns+` FROM signal_routes WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

// ListRoutes returns all routes for a tenant.
func (s *Postgres) ListRoutes(ctx context.Context, tenantID string) ([]*models.SignalRoute, error) {
	return s.queryRoutes(ctx,
		`SELECT `+routeColumns+` FROM signal_routes WHERE tenant_id = $1 ORDER BY priority DESC, created_at`, tenantID)
}

// ListEnabledRoutes returns enabled routes ordered by priority descending.
func (s *Postgres) ListEnabledRoutes(ctx context.Context, tenantID string) ([]*models.SignalRoute, error) {
	return s.queryRoutes(ctx,
		`SELECT `+routeColumns+` FROM signal_routes WHERE tenant_id = $1 AND enabled ORDER BY priority DESC, created_at`, tenantID)
}

func (s *Postgres) queryRoutes(ctx context.Context, query string, args ...interface{}) ([]*models.SignalRoute, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []*models.SignalRoute
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, rows.Err()
}

func marshalRouteFields(route *models.SignalRoute) ([]byte, []byte, error) {
	urgencies, err := json.Marshal(route.Urgencies)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal route urgencies: %w", err)
	}
	filter, err := json.Marshal(route.PayloadFilter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal route payload filter: %w", err)
	}
	return urgencies, filter, nil
}

func scanRoute(row pgx.Row) (*models.SignalRoute, error) {
	var (
		route     models.SignalRoute
		urgencies []byte
		filter    []byte
	)
	err := row.Scan(&route.ID, &route.TenantID, &route.Name, &route.Source, &route.SignalType,
		&urgencies, &filter, &route.WorkflowID, &route.Priority, &route.Enabled, &route.CreatedAt, &route.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(urgencies) > 0 {
		if err := json.Unmarshal(urgencies, &route.Urgencies); err != nil {
			return nil, fmt.Errorf("failed to unmarshal route urgencies: %w", err)
		}
	}
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &route.PayloadFilter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal route payload filter: %w", err)
		}
	}
	return &route, nil
}
