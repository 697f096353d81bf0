package domain

import "time"

// CompetitorProductLink associates one local product with one competitor
// product page and carries all tracking state. Rows are created by the
// matchers, mutated only by the tracking pass, and soft-deactivated
// (is_active=false) by callers outside this core.
type CompetitorProductLink struct {
	ID                 string     `db:"id"                    json:"id"`
	UserID             string     `db:"user_id"               json:"user_id"`
	StoreID            string     `db:"store_id"              json:"store_id"`
	ProductID          string     `db:"product_id"            json:"product_id"`
	CompetitorStoreID  string     `db:"competitor_store_id"   json:"competitor_store_id"`
	URL                *string    `db:"url"                   json:"url,omitempty"`
	LastPrice          *float64   `db:"last_price"            json:"last_price,omitempty"`
	LastCurrency       string     `db:"last_currency"         json:"last_currency"`
	LastAvailability   bool       `db:"last_availability"     json:"last_availability"`
	LastCheckedAt      *time.Time `db:"last_checked_at"       json:"last_checked_at,omitempty"`
	LastChangedAt      *time.Time `db:"last_changed_at"       json:"last_changed_at,omitempty"`
	NoChangeStreak     int        `db:"no_change_streak"      json:"no_change_streak"`
	ErrorStreak        int        `db:"error_streak"          json:"error_streak"`
	NextAllowedCheckAt *time.Time `db:"next_allowed_check_at" json:"next_allowed_check_at,omitempty"`
	IsActive           bool       `db:"is_active"             json:"is_active"`
	NeedsAttention     bool       `db:"needs_attention"       json:"needs_attention"`
	Priority           int        `db:"priority"              json:"priority"`
	CreatedAt          time.Time  `db:"created_at"            json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"            json:"updated_at"`
}

// HasPrice reports whether the link has ever recorded a price.
func (l *CompetitorProductLink) HasPrice() bool {
	return l.LastPrice != nil
}

// PriceHistoryEntry is an immutable record of one detected price change.
// Entries are appended only when the tracked price actually moved, never on
// every check.
type PriceHistoryEntry struct {
	ID         string    `db:"id"          json:"id"`
	LinkID     string    `db:"link_id"     json:"link_id"`
	Price      float64   `db:"price"       json:"price"`
	Currency   string    `db:"currency"    json:"currency"`
	Available  bool      `db:"available"   json:"available"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}
