package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// CreateTenant inserts a new tenant, assigning an id if none is set.
func (s *Postgres) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	now := time.Now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	_, err := s.db.Exec(ctx,
		`INSERT INTO tenants (id, name, domain, dedup_window_seconds, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tenant.ID, tenant.Name, tenant.Domain, tenant.DedupWindowSeconds, tenant.CreatedAt, tenant.UpdatedAt)
	return err
}

// GetTenant retrieves a tenant by id.
func (s *Postgres) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	return s.scanTenant(s.db.QueryRow(ctx,
		`SELECT id, name, domain, dedup_window_seconds, created_at, updated_at FROM tenants WHERE id = $1`, id))
}

// GetTenantByDomain retrieves a tenant by its email domain.
func (s *Postgres) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	return s.scanTenant(s.db.QueryRow(ctx,
		`SELECT id, name, domain, dedup_window_seconds, created_at, updated_at FROM tenants WHERE domain = $1`, domain))
}

func (s *Postgres) scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Domain, &t.DedupWindowSeconds, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
