package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/price-tracker/internal/domain"
)

// CatalogRepository reads the local product catalog and competitor store
// registrations. Both are owned by collaborators; the matchers only need
// slices of them.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository creates a new repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetCompetitorStore returns one competitor store registration.
func (r *CatalogRepository) GetCompetitorStore(ctx context.Context, id string) (*domain.CompetitorStore, error) {
	query := `
		SELECT id, store_id, user_id, name, listing_url, created_at
		FROM competitor_stores
		WHERE id = $1`

	var cs domain.CompetitorStore
	err := r.db.GetContext(ctx, &cs, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get competitor store: %w", err)
	}
	return &cs, nil
}

// ListUnlinkedProducts returns a stable page of the store's products that
// have no active link to the given competitor yet. Ordering by creation time
// then id keeps batch offsets consistent across jobs.
func (r *CatalogRepository) ListUnlinkedProducts(ctx context.Context, storeID, competitorStoreID string, limit, offset int) ([]domain.Product, error) {
	query := `
		SELECT p.id, p.store_id, p.user_id, p.name, p.sku, p.created_at
		FROM products p
		WHERE p.store_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM competitor_product_links l
			WHERE l.product_id = p.id
			  AND l.competitor_store_id = $2
			  AND l.is_active = TRUE
		  )
		ORDER BY p.created_at ASC, p.id ASC
		LIMIT $3 OFFSET $4`

	products := []domain.Product{}
	if err := r.db.SelectContext(ctx, &products, query, storeID, competitorStoreID, limit, offset); err != nil {
		return nil, fmt.Errorf("list unlinked products: %w", err)
	}
	return products, nil
}

// CountUnlinkedProducts returns how many of the store's products have no
// active link to the given competitor.
func (r *CatalogRepository) CountUnlinkedProducts(ctx context.Context, storeID, competitorStoreID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM products p
		WHERE p.store_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM competitor_product_links l
			WHERE l.product_id = p.id
			  AND l.competitor_store_id = $2
			  AND l.is_active = TRUE
		  )`

	var count int
	if err := r.db.GetContext(ctx, &count, query, storeID, competitorStoreID); err != nil {
		return 0, fmt.Errorf("count unlinked products: %w", err)
	}
	return count, nil
}

// CountProducts returns the store's total product count, used to enforce
// plan product limits.
func (r *CatalogRepository) CountProducts(ctx context.Context, storeID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM products WHERE store_id = $1`, storeID); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return count, nil
}
