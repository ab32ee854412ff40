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

const signalColumns = `id, tenant_id, client_id, source, type, payload, urgency, dedup_hash, status, created_at, updated_at`

// CreateSignal persists an ingested signal. Signals are stored even when
// flagged duplicate, for audit.
func (s *Postgres) CreateSignal(ctx context.Context, signal *models.Signal) error {
	if signal.ID == "" {
		signal.ID = uuid.New().String()
	}
	now := time.Now()
	signal.CreatedAt = now
	signal.UpdatedAt = now

	payload, err := json.Marshal(signal.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal signal payload: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO signals (`+signalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		signal.ID, signal.TenantID, signal.ClientID, signal.Source, signal.Type,
		payload, signal.Urgency, signal.DedupHash, signal.Status, signal.CreatedAt, signal.UpdatedAt)
	return err
}

// GetSignal retrieves a signal by id within a tenant.
func (s *Postgres) GetSignal(ctx context.Context, tenantID, id string) (*models.Signal, error) {
	return scanSignal(s.db.QueryRow(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

// ListSignals returns the newest signals for a tenant.
func (s *Postgres) ListSignals(ctx context.Context, tenantID string, limit int) ([]*models.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*models.Signal
	for rows.Next() {
		signal, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, signal)
	}
	return signals, rows.Err()
}

// UpdateSignalStatus advances a signal's processing status.
func (s *Postgres) UpdateSignalStatus(ctx context.Context, id string, status models.SignalStatus) error {
	_, err := s.db.Exec(ctx,
		`UPDATE signals SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id)
	return err
}

// FindRecentByFingerprint returns the newest non-duplicate signal with the
// given dedup hash inside the window.
func (s *Postgres) FindRecentByFingerprint(ctx context.Context, tenantID, dedupHash string, window time.Duration) (*models.Signal, error) {
	return scanSignal(s.db.QueryRow(ctx,
		`SELECT `+signalColumns+` FROM signals
		 WHERE tenant_id = $1 AND dedup_hash = $2 AND status <> $3 AND created_at > $4
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, dedupHash, models.SignalStatusDuplicate, time.Now().Add(-window)))
}

func scanSignal(row pgx.Row) (*models.Signal, error) {
	var (
		signal  models.Signal
		payload []byte
	)
	err := row.Scan(&signal.ID, &signal.TenantID, &signal.ClientID, &signal.Source, &signal.Type,
		&payload, &signal.Urgency, &signal.DedupHash, &signal.Status, &signal.CreatedAt, &signal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &signal.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signal payload: %w", err)
		}
	}
	return &signal, nil
}
