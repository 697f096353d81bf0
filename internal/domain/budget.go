package domain

import "time"

// ScrapeBudget tracks paid provider requests for one user. The daily counter
// rolls over when daily_date falls behind today, the monthly counter when
// month_period_start falls behind the first day of the current month.
type ScrapeBudget struct {
	UserID           string    `db:"user_id"            json:"user_id"`
	DailyUsed        int       `db:"daily_used"         json:"daily_used"`
	DailyDate        time.Time `db:"daily_date"         json:"daily_date"`
	MonthlyUsed      int       `db:"monthly_used"       json:"monthly_used"`
	MonthPeriodStart time.Time `db:"month_period_start" json:"month_period_start"`
	UpdatedAt        time.Time `db:"updated_at"         json:"updated_at"`
}

// BudgetStatus is the ledger's answer to "may this user scrape, and how much
// headroom is left". Limits come from the cost model, not the stored row.
type BudgetStatus struct {
	DailyUsed        int  `json:"daily_used"`
	DailyLimit       int  `json:"daily_limit"`
	DailyRemaining   int  `json:"daily_remaining"`
	MonthlyUsed      int  `json:"monthly_used"`
	MonthlyLimit     int  `json:"monthly_limit"`
	MonthlyRemaining int  `json:"monthly_remaining"`
	CanScrape        bool `json:"can_scrape"`
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStartOf returns the first day of t's UTC calendar month.
func MonthStartOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
