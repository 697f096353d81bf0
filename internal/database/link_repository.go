package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/price-tracker/internal/domain"
)

// linkSelectList is the column list for SELECT/RETURNING on competitor_product_links.
const linkSelectList = `id, user_id, store_id, product_id, competitor_store_id, url,
			last_price, last_currency, last_availability, last_checked_at,
			last_changed_at, no_change_streak, error_streak, next_allowed_check_at,
			is_active, needs_attention, priority, created_at, updated_at`

// LinkRepository manages competitor product links and their price history.
type LinkRepository struct {
	db *sqlx.DB
}

// NewLinkRepository creates a new repository.
func NewLinkRepository(db *sqlx.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

// GetByID returns a single link.
func (r *LinkRepository) GetByID(ctx context.Context, id string) (*domain.CompetitorProductLink, error) {
	query := `SELECT ` + linkSelectList + ` FROM competitor_product_links WHERE id = $1`

	var l domain.CompetitorProductLink
	err := r.db.GetContext(ctx, &l, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return &l, nil
}

// FetchDue returns the links due for a tracking check, oldest check first
// (never-checked links lead), higher priority first within the same age.
func (r *LinkRepository) FetchDue(ctx context.Context, userID string, limit int) ([]domain.CompetitorProductLink, error) {
	query := `
		SELECT ` + linkSelectList + `
		FROM competitor_product_links
		WHERE user_id = $1
		  AND is_active = TRUE
		  AND url IS NOT NULL
		  AND (next_allowed_check_at IS NULL OR next_allowed_check_at <= NOW())
		ORDER BY last_checked_at ASC NULLS FIRST, priority DESC
		LIMIT $2`

	links := []domain.CompetitorProductLink{}
	if err := r.db.SelectContext(ctx, &links, query, userID, limit); err != nil {
		return nil, fmt.Errorf("fetch due links: %w", err)
	}
	return links, nil
}

// DistinctActiveUsers returns every user with at least one trackable link.
// The dispatcher fans a tracking pass out over this set.
func (r *LinkRepository) DistinctActiveUsers(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT user_id
		FROM competitor_product_links
		WHERE is_active = TRUE AND url IS NOT NULL
		ORDER BY user_id`

	users := []string{}
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("distinct active users: %w", err)
	}
	return users, nil
}

// UpsertMatch creates the link for a confirmed match, keyed by
// (product_id, competitor_store_id) so re-running a matcher never duplicates
// links. Returns the link ID and whether the row was newly inserted.
func (r *LinkRepository) UpsertMatch(ctx context.Context, userID, storeID, productID, competitorStoreID, url string) (string, bool, error) {
	query := `
		INSERT INTO competitor_product_links (
			id, user_id, store_id, product_id, competitor_store_id, url,
			is_active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW())
		ON CONFLICT (product_id, competitor_store_id) DO UPDATE
		SET url = EXCLUDED.url,
		    is_active = TRUE,
		    updated_at = NOW()
		RETURNING id, (xmax = 0) AS is_insert`

	var (
		id       string
		isInsert bool
	)
	err := r.db.QueryRowContext(ctx, query,
		uuid.New().String(), userID, storeID, productID, competitorStoreID, url,
	).Scan(&id, &isInsert)
	if err != nil {
		return "", false, fmt.Errorf("upsert link: %w", err)
	}
	return id, isInsert, nil
}

// RecordFailure registers a failed check: the error streak grows, the next
// attempt is pushed to nextRetry, price fields stay untouched.
func (r *LinkRepository) RecordFailure(ctx context.Context, linkID string, nextRetry time.Time, needsAttention bool) error {
	query := `
		UPDATE competitor_product_links
		SET error_streak = error_streak + 1,
		    next_allowed_check_at = $2,
		    needs_attention = $3,
		    last_checked_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, linkID, nextRetry, needsAttention); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("record link failure: %w", err)
	}
	return nil
}

// RecordUnchanged registers a successful check whose price did not move:
// the no-change streak grows and the next check may be pushed out.
// A nil nextAllowed clears any smart-skip delay.
func (r *LinkRepository) RecordUnchanged(ctx context.Context, linkID string, nextAllowed *time.Time) error {
	query := `
		UPDATE competitor_product_links
		SET no_change_streak = no_change_streak + 1,
		    error_streak = 0,
		    needs_attention = FALSE,
		    next_allowed_check_at = $2,
		    last_checked_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, linkID, nextAllowed); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("record link unchanged: %w", err)
	}
	return nil
}

// RecordChange registers a successful check with a new price. The link state
// and the history entry are written in one transaction; the link returns to
// normal cadence (next_allowed_check_at cleared).
func (r *LinkRepository) RecordChange(ctx context.Context, linkID string, price float64, currency string, available bool) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record change: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	updateQuery := `
		UPDATE competitor_product_links
		SET last_price = $2,
		    last_currency = $3,
		    last_availability = $4,
		    no_change_streak = 0,
		    error_streak = 0,
		    needs_attention = FALSE,
		    next_allowed_check_at = NULL,
		    last_changed_at = NOW(),
		    last_checked_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`

	result, err := tx.ExecContext(ctx, updateQuery, linkID, price, currency, available)
	if err != nil {
		return fmt.Errorf("record price change: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	historyQuery := `
		INSERT INTO competitor_price_history (id, link_id, price, currency, available, recorded_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`

	if _, err := tx.ExecContext(ctx, historyQuery, uuid.New().String(), linkID, price, currency, available); err != nil {
		return fmt.Errorf("append price history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record change: %w", err)
	}
	return nil
}

// History returns the most recent price changes for a link, newest first.
func (r *LinkRepository) History(ctx context.Context, linkID string, limit int) ([]domain.PriceHistoryEntry, error) {
	query := `
		SELECT id, link_id, price, currency, available, recorded_at
		FROM competitor_price_history
		WHERE link_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`

	entries := []domain.PriceHistoryEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, linkID, limit); err != nil {
		return nil, fmt.Errorf("link history: %w", err)
	}
	return entries, nil
}

// execExpectOneRow runs an exec and returns domain.ErrNotFound when no row was affected.
func (r *LinkRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
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
