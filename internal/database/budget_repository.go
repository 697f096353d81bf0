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

// budgetSelectList is the column list for SELECT/RETURNING on scrape_budgets.
const budgetSelectList = `user_id, daily_used, daily_date, monthly_used, month_period_start, updated_at`

// BudgetRepository manages per-user scrape budget counters in PostgreSQL.
type BudgetRepository struct {
	db *sqlx.DB
}

// NewBudgetRepository creates a new repository.
func NewBudgetRepository(db *sqlx.DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

// Get returns the budget row for a user.
func (r *BudgetRepository) Get(ctx context.Context, userID string) (*domain.ScrapeBudget, error) {
	query := `SELECT ` + budgetSelectList + ` FROM scrape_budgets WHERE user_id = $1`

	var b domain.ScrapeBudget
	err := r.db.GetContext(ctx, &b, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get budget: %w", err)
	}
	return &b, nil
}

// Create inserts a fresh zeroed budget row for a user. Concurrent creates are
// safe; the existing row wins and is returned.
func (r *BudgetRepository) Create(ctx context.Context, userID string, day, monthStart time.Time) (*domain.ScrapeBudget, error) {
	query := `
		INSERT INTO scrape_budgets (user_id, daily_used, daily_date, monthly_used, month_period_start, updated_at)
		VALUES ($1, 0, $2, 0, $3, NOW())
		ON CONFLICT (user_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, userID, day, monthStart); err != nil {
		return nil, fmt.Errorf("create budget: %w", err)
	}
	return r.Get(ctx, userID)
}

// ResetDaily zeroes the daily counter and moves daily_date forward.
func (r *BudgetRepository) ResetDaily(ctx context.Context, userID string, day time.Time) error {
	query := `
		UPDATE scrape_budgets
		SET daily_used = 0, daily_date = $2, updated_at = NOW()
		WHERE user_id = $1`

	if _, err := r.db.ExecContext(ctx, query, userID, day); err != nil {
		return fmt.Errorf("reset daily budget: %w", err)
	}
	return nil
}

// ResetMonthly zeroes the monthly counter and moves the period start forward.
func (r *BudgetRepository) ResetMonthly(ctx context.Context, userID string, monthStart time.Time) error {
	query := `
		UPDATE scrape_budgets
		SET monthly_used = 0, month_period_start = $2, updated_at = NOW()
		WHERE user_id = $1`

	if _, err := r.db.ExecContext(ctx, query, userID, monthStart); err != nil {
		return fmt.Errorf("reset monthly budget: %w", err)
	}
	return nil
}

// AddUsage adds cost to both counters in one atomic statement and returns the
// updated row. Counters only ever grow through this call.
func (r *BudgetRepository) AddUsage(ctx context.Context, userID string, cost int) (*domain.ScrapeBudget, error) {
	query := `
		UPDATE scrape_budgets
		SET daily_used = daily_used + $2,
		    monthly_used = monthly_used + $2,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + budgetSelectList

	var b domain.ScrapeBudget
	err := r.db.QueryRowxContext(ctx, query, userID, cost).StructScan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("add budget usage: %w", err)
	}
	return &b, nil
}
