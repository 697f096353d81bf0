package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/price-tracker/internal/domain"
)

// quotaSelectList is the column list for SELECT/RETURNING on discovery_quotas.
const quotaSelectList = `store_id, period_start, used, limit_amount, updated_at`

// QuotaRepository manages per-store monthly discovery quotas.
type QuotaRepository struct {
	db *sqlx.DB
}

// NewQuotaRepository creates a new repository.
func NewQuotaRepository(db *sqlx.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// Get returns the quota row for a store.
func (r *QuotaRepository) Get(ctx context.Context, storeID string) (*domain.DiscoveryQuota, error) {
	query := `SELECT ` + quotaSelectList + ` FROM discovery_quotas WHERE store_id = $1`

	var q domain.DiscoveryQuota
	err := r.db.GetContext(ctx, &q, query, storeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return &q, nil
}

// Create inserts a fresh quota row for the current period.
func (r *QuotaRepository) Create(ctx context.Context, storeID string, periodStart time.Time, limit int) (*domain.DiscoveryQuota, error) {
	query := `
		INSERT INTO discovery_quotas (store_id, period_start, used, limit_amount, updated_at)
		VALUES ($1, $2, 0, $3, NOW())
		ON CONFLICT (store_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, storeID, periodStart, limit); err != nil {
		return nil, fmt.Errorf("create quota: %w", err)
	}
	return r.Get(ctx, storeID)
}

// ResetPeriod zeroes usage for a new calendar month.
func (r *QuotaRepository) ResetPeriod(ctx context.Context, storeID string, periodStart time.Time) error {
	query := `
		UPDATE discovery_quotas
		SET used = 0, period_start = $2, updated_at = NOW()
		WHERE store_id = $1`

	if _, err := r.db.ExecContext(ctx, query, storeID, periodStart); err != nil {
		return fmt.Errorf("reset quota period: %w", err)
	}
	return nil
}

// SyncLimit updates the stored limit to the current plan entitlement.
func (r *QuotaRepository) SyncLimit(ctx context.Context, storeID string, limit int) error {
	query := `
		UPDATE discovery_quotas
		SET limit_amount = $2, updated_at = NOW()
		WHERE store_id = $1`

	if _, err := r.db.ExecContext(ctx, query, storeID, limit); err != nil {
		return fmt.Errorf("sync quota limit: %w", err)
	}
	return nil
}

// TryConsume adds amount to usage only when it fits under the limit, in one
// conditional atomic statement. Returns ErrQuotaExceeded, with the row left
// untouched, when it does not fit.
func (r *QuotaRepository) TryConsume(ctx context.Context, storeID string, amount int) (*domain.DiscoveryQuota, error) {
	query := `
		UPDATE discovery_quotas
		SET used = used + $2, updated_at = NOW()
		WHERE store_id = $1
		  AND used + $2 <= limit_amount
		RETURNING ` + quotaSelectList

	var q domain.DiscoveryQuota
	err := r.db.QueryRowxContext(ctx, query, storeID, amount).StructScan(&q)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrQuotaExceeded
	}
	if err != nil {
		return nil, fmt.Errorf("consume quota: %w", err)
	}
	return &q, nil
}
