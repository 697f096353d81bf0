package domain

import "time"

// MatchingRateLimit is one user's structural-operation counters for one
// calendar day. Rows are created lazily on first use; tomorrow is a fresh row,
// nothing resets yesterday's.
type MatchingRateLimit struct {
	UserID                string    `db:"user_id"                 json:"user_id"`
	Day                   time.Time `db:"day"                     json:"day"`
	HeavyMatchingCount    int       `db:"heavy_matching_count"    json:"heavy_matching_count"`
	CompetitorStoresAdded int       `db:"competitor_stores_added" json:"competitor_stores_added"`
	URLsAdded             int       `db:"urls_added"              json:"urls_added"`
	UpdatedAt             time.Time `db:"updated_at"              json:"updated_at"`
}

// RateLimitStatus reports today's structural headroom for one user.
type RateLimitStatus struct {
	HeavyMatchingUsed     int  `json:"heavy_matching_used"`
	HeavyMatchingLimit    int  `json:"heavy_matching_limit"`
	CompetitorStoresUsed  int  `json:"competitor_stores_used"`
	CompetitorStoresLimit int  `json:"competitor_stores_limit"`
	URLsUsed              int  `json:"urls_used"`
	URLsLimit             int  `json:"urls_limit"`
	URLsRemaining         int  `json:"urls_remaining"`
	CanRunHeavyMatching   bool `json:"can_run_heavy_matching"`
	CanAddCompetitorStore bool `json:"can_add_competitor_store"`
}
