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

// rateLimitSelectList is the column list for SELECT on matching_rate_limits.
const rateLimitSelectList = `user_id, day, heavy_matching_count, competitor_stores_added, urls_added, updated_at`

// RateLimitRepository manages per-user-per-day structural operation counters.
type RateLimitRepository struct {
	db *sqlx.DB
}

// NewRateLimitRepository creates a new repository.
func NewRateLimitRepository(db *sqlx.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// GetOrCreate returns the counter row for a user and day, creating a zeroed
// row on first use. Yesterday's rows are never touched; a new day is simply a
// new row.
func (r *RateLimitRepository) GetOrCreate(ctx context.Context, userID string, day time.Time) (*domain.MatchingRateLimit, error) {
	insert := `
		INSERT INTO matching_rate_limits (user_id, day, heavy_matching_count, competitor_stores_added, urls_added, updated_at)
		VALUES ($1, $2, 0, 0, 0, NOW())
		ON CONFLICT (user_id, day) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, insert, userID, day); err != nil {
		return nil, fmt.Errorf("create rate limit row: %w", err)
	}

	query := `SELECT ` + rateLimitSelectList + ` FROM matching_rate_limits WHERE user_id = $1 AND day = $2`

	var rl domain.MatchingRateLimit
	err := r.db.GetContext(ctx, &rl, query, userID, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rate limit row: %w", err)
	}
	return &rl, nil
}

// AddHeavyMatching bumps the heavy matching counter for the day.
func (r *RateLimitRepository) AddHeavyMatching(ctx context.Context, userID string, day time.Time, n int) error {
	query := `
		UPDATE matching_rate_limits
		SET heavy_matching_count = heavy_matching_count + $3, updated_at = NOW()
		WHERE user_id = $1 AND day = $2`

	return r.addCounter(ctx, "heavy matching", query, userID, day, n)
}

// AddCompetitorStores bumps the competitor stores counter for the day.
func (r *RateLimitRepository) AddCompetitorStores(ctx context.Context, userID string, day time.Time, n int) error {
	query := `
		UPDATE matching_rate_limits
		SET competitor_stores_added = competitor_stores_added + $3, updated_at = NOW()
		WHERE user_id = $1 AND day = $2`

	return r.addCounter(ctx, "competitor stores", query, userID, day, n)
}

// AddURLs bumps the URL additions counter for the day.
func (r *RateLimitRepository) AddURLs(ctx context.Context, userID string, day time.Time, n int) error {
	query := `
		UPDATE matching_rate_limits
		SET urls_added = urls_added + $3, updated_at = NOW()
		WHERE user_id = $1 AND day = $2`

	return r.addCounter(ctx, "urls", query, userID, day, n)
}

func (r *RateLimitRepository) addCounter(ctx context.Context, name, query, userID string, day time.Time, n int) error {
	result, err := r.db.ExecContext(ctx, query, userID, day, n)
	if err != nil {
		return fmt.Errorf("increment %s counter: %w", name, err)
	}
	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("get affected rows: %w", rowsErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
