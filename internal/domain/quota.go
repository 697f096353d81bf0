package domain

import "time"

// DiscoveryQuota caps candidate-discovery volume per store per calendar
// month, independent of the request budget. limit_amount mirrors the plan
// entitlement and is re-synced on read when the entitlement changed
// mid-period (trial activation, plan upgrade).
type DiscoveryQuota struct {
	StoreID     string    `db:"store_id"     json:"store_id"`
	PeriodStart time.Time `db:"period_start" json:"period_start"`
	Used        int       `db:"used"         json:"used"`
	LimitAmount int       `db:"limit_amount" json:"limit_amount"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}

// QuotaStatus reports the current month's discovery headroom.
type QuotaStatus struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// ConsumeResult is the outcome of one discovery-quota consume attempt.
// A refused consume leaves the stored counter untouched.
type ConsumeResult struct {
	Allowed   bool `json:"allowed"`
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
}
