package domain

import "time"

// Product is a local catalog entry as seen by the matchers. The catalog
// itself is owned by collaborators; this core only reads id, name and SKU.
type Product struct {
	ID        string    `db:"id"         json:"id"`
	StoreID   string    `db:"store_id"   json:"store_id"`
	UserID    string    `db:"user_id"    json:"user_id"`
	Name      string    `db:"name"       json:"name"`
	SKU       *string   `db:"sku"        json:"sku,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CompetitorStore is one competitor site registered against a store. Its
// listing URL is what quick-start scrapes for candidates.
type CompetitorStore struct {
	ID         string    `db:"id"          json:"id"`
	StoreID    string    `db:"store_id"    json:"store_id"`
	UserID     string    `db:"user_id"     json:"user_id"`
	Name       string    `db:"name"        json:"name"`
	ListingURL string    `db:"listing_url" json:"listing_url"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}

// Candidate is one competitor product scraped from a listing page. ID falls
// back to the product URL when the listing exposes no stable identifier.
type Candidate struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	SKU   *string  `json:"sku,omitempty"`
	URL   string   `json:"url"`
	Price *float64 `json:"price,omitempty"`
}

// Match pairs a local product with its best-scoring candidate.
type Match struct {
	ProductID   string `json:"product_id"`
	CandidateID string `json:"candidate_id"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
}
