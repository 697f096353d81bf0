package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/price-tracker/internal/database"
	"github.com/jonesrussell/price-tracker/internal/domain"
)

func newCatalogRepo(t *testing.T) (*database.CatalogRepository, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	return database.NewCatalogRepository(db), mock
}

func TestCatalogRepository_GetCompetitorStore(t *testing.T) {
	repo, mock := newCatalogRepo(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "store_id", "user_id", "name", "listing_url", "created_at"}).
		AddRow("comp-1", "store-1", "user-1", "Rival Shop", "https://rival.example/collections/all", time.Now())
	mock.ExpectQuery("SELECT (.+)").
		WithArgs("comp-1").
		WillReturnRows(rows)

	store, err := repo.GetCompetitorStore(ctx, "comp-1")
	if err != nil {
		t.Fatalf("GetCompetitorStore() error = %v", err)
	}
	if store.ListingURL != "https://rival.example/collections/all" {
		t.Errorf("ListingURL = %s, want the registered listing URL", store.ListingURL)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestCatalogRepository_GetCompetitorStore_NotFound(t *testing.T) {
	repo, mock := newCatalogRepo(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+)").
		WithArgs("comp-ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetCompetitorStore(ctx, "comp-ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetCompetitorStore() error = %v, want ErrNotFound", err)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestCatalogRepository_ListUnlinkedProducts(t *testing.T) {
	repo, mock := newCatalogRepo(t)
	ctx := context.Background()

	now := time.Now()
	sku := "SKU-42"
	rows := sqlmock.NewRows([]string{"id", "store_id", "user_id", "name", "sku", "created_at"}).
		AddRow("p-1", "store-1", "user-1", "Acme Anvil", sku, now.Add(-time.Hour)).
		AddRow("p-2", "store-1", "user-1", "Red Widget", nil, now)

	mock.ExpectQuery(`(?s)SELECT.+FROM products p.+NOT EXISTS.+ORDER BY p.created_at ASC, p.id ASC`).
		WithArgs("store-1", "comp-1", 25, 50).
		WillReturnRows(rows)

	products, err := repo.ListUnlinkedProducts(ctx, "store-1", "comp-1", 25, 50)
	if err != nil {
		t.Fatalf("ListUnlinkedProducts() error = %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("ListUnlinkedProducts() returned %d products, want 2", len(products))
	}
	if products[0].SKU == nil || *products[0].SKU != "SKU-42" {
		t.Errorf("p-1 SKU = %v, want SKU-42", products[0].SKU)
	}
	if products[1].SKU != nil {
		t.Errorf("p-2 SKU = %v, want nil", products[1].SKU)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestCatalogRepository_CountUnlinkedProducts(t *testing.T) {
	repo, mock := newCatalogRepo(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"count"}).AddRow(55)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("store-1", "comp-1").
		WillReturnRows(rows)

	count, err := repo.CountUnlinkedProducts(ctx, "store-1", "comp-1")
	if err != nil {
		t.Fatalf("CountUnlinkedProducts() error = %v", err)
	}
	if count != 55 {
		t.Errorf("CountUnlinkedProducts() = %d, want 55", count)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestCatalogRepository_CountProducts(t *testing.T) {
	repo, mock := newCatalogRepo(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"count"}).AddRow(250)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("store-1").
		WillReturnRows(rows)

	count, err := repo.CountProducts(ctx, "store-1")
	if err != nil {
		t.Fatalf("CountProducts() error = %v", err)
	}
	if count != 250 {
		t.Errorf("CountProducts() = %d, want 250", count)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}
