// Package domain contains the core domain models for the price tracker.
package domain

import "errors"

// Common errors
var (
	// ErrNotFound is returned when an entity is not found in the database.
	ErrNotFound = errors.New("entity not found")

	// ErrMissingCredentials is returned when the scraping provider API key is not configured.
	ErrMissingCredentials = errors.New("scraping provider credentials not configured")

	// ErrBudgetExceeded is returned when a scrape would exceed the request budget.
	ErrBudgetExceeded = errors.New("scrape budget exceeded")

	// ErrRateLimited is returned when a structural daily cap refuses an operation.
	ErrRateLimited = errors.New("daily operation limit reached")

	// ErrQuotaExceeded is returned when the monthly discovery quota refuses a consume.
	ErrQuotaExceeded = errors.New("discovery quota exceeded")

	// ErrInvalidJob is returned when creating a scrape job with invalid fields.
	ErrInvalidJob = errors.New("invalid scrape job")
)
