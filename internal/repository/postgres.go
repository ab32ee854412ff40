package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Repository on top of a pgx connection pool.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres creates a new Postgres repository.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Ping verifies database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

var _ Repository = (*Postgres)(nil)
