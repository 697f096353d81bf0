// Package tracking runs the price check pass over due competitor links and
// owns the two scheduling policies that throttle it: smart-skip for stable
// prices and retry backoff for failing fetches.
package tracking

import (
	"time"

	"github.com/jonesrussell/price-tracker/internal/config"
)

// NextAllowedCheck maps a no-change streak to the earliest next check time.
// Items that haven't moved in many consecutive checks are unlikely to move
// soon, so their polling slows down. A nil result means no artificial delay.
func NextAllowedCheck(noChangeStreak int, now time.Time, cfg config.SmartSkipConfig) *time.Time {
	switch {
	case noChangeStreak >= cfg.HeavyThreshold:
		t := now.Add(cfg.HeavySkip)
		return &t
	case noChangeStreak >= cfg.BaseThreshold:
		t := now.Add(cfg.BaseSkip)
		return &t
	default:
		return nil
	}
}

// NextRetryTime maps an error streak to the next attempt time. The first
// failures retry quickly off the backoff table; past MaxRetries the link
// drops to a slow poll and should be surfaced for attention.
func NextRetryTime(errorStreak int, now time.Time, cfg config.RetryConfig) time.Time {
	if errorStreak <= 0 {
		return now
	}
	if errorStreak > cfg.MaxRetries || len(cfg.Backoffs) == 0 {
		return now.Add(cfg.ExhaustedBackoff)
	}

	idx := errorStreak - 1
	if idx >= len(cfg.Backoffs) {
		idx = len(cfg.Backoffs) - 1
	}
	return now.Add(cfg.Backoffs[idx])
}

// RetriesExhausted reports whether the streak has burned through the retry
// budget and the link needs operator attention.
func RetriesExhausted(errorStreak int, cfg config.RetryConfig) bool {
	return errorStreak > cfg.MaxRetries
}
