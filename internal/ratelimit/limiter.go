// Package ratelimit gates structural daily operations: heavy matching runs,
// competitor store additions and URL additions. It is distinct from the
// budget ledger, which caps raw fetch volume; these caps exist so a user
// cannot restructure their account fast enough to amplify spend.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/price-tracker/internal/config"
	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/logger"
)

// Repository is the data access interface for daily structural counters.
type Repository interface {
	GetOrCreate(ctx context.Context, userID string, day time.Time) (*domain.MatchingRateLimit, error)
	AddHeavyMatching(ctx context.Context, userID string, day time.Time, n int) error
	AddCompetitorStores(ctx context.Context, userID string, day time.Time, n int) error
	AddURLs(ctx context.Context, userID string, day time.Time, n int) error
}

// Limiter answers whether a structural operation is still allowed today.
// Checks never mutate; the matching components call the Add* methods
// separately, only after the gated action succeeded.
type Limiter struct {
	repo   Repository
	cfg    config.RateLimitConfig
	logger logger.Logger
}

// NewLimiter creates a structural rate limiter.
func NewLimiter(repo Repository, cfg config.RateLimitConfig, log logger.Logger) *Limiter {
	return &Limiter{repo: repo, cfg: cfg, logger: log}
}

// CanRunHeavyMatching reports whether another heavy matching run fits today.
func (l *Limiter) CanRunHeavyMatching(ctx context.Context, userID string, now time.Time) (bool, error) {
	rec, err := l.repo.GetOrCreate(ctx, userID, domain.DayOf(now))
	if err != nil {
		return false, fmt.Errorf("read rate limit: %w", err)
	}
	return rec.HeavyMatchingCount < l.cfg.HeavyMatchingPerDay, nil
}

// CanAddCompetitorStore reports whether another competitor store fits today.
func (l *Limiter) CanAddCompetitorStore(ctx context.Context, userID string, now time.Time) (bool, error) {
	rec, err := l.repo.GetOrCreate(ctx, userID, domain.DayOf(now))
	if err != nil {
		return false, fmt.Errorf("read rate limit: %w", err)
	}
	return rec.CompetitorStoresAdded < l.cfg.CompetitorStoresPerDay, nil
}

// CanAddURLs reports whether count more URL additions fit today, along with
// the remaining headroom so bulk callers can trim their request.
func (l *Limiter) CanAddURLs(ctx context.Context, userID string, count int, now time.Time) (bool, int, error) {
	rec, err := l.repo.GetOrCreate(ctx, userID, domain.DayOf(now))
	if err != nil {
		return false, 0, fmt.Errorf("read rate limit: %w", err)
	}
	remaining := headroom(l.cfg.URLsPerDay, rec.URLsAdded)
	return count <= remaining, remaining, nil
}

// Status returns today's full structural headroom for one user.
func (l *Limiter) Status(ctx context.Context, userID string, now time.Time) (*domain.RateLimitStatus, error) {
	rec, err := l.repo.GetOrCreate(ctx, userID, domain.DayOf(now))
	if err != nil {
		return nil, fmt.Errorf("read rate limit: %w", err)
	}
	return &domain.RateLimitStatus{
		HeavyMatchingUsed:     rec.HeavyMatchingCount,
		HeavyMatchingLimit:    l.cfg.HeavyMatchingPerDay,
		CompetitorStoresUsed:  rec.CompetitorStoresAdded,
		CompetitorStoresLimit: l.cfg.CompetitorStoresPerDay,
		URLsUsed:              rec.URLsAdded,
		URLsLimit:             l.cfg.URLsPerDay,
		URLsRemaining:         headroom(l.cfg.URLsPerDay, rec.URLsAdded),
		CanRunHeavyMatching:   rec.HeavyMatchingCount < l.cfg.HeavyMatchingPerDay,
		CanAddCompetitorStore: rec.CompetitorStoresAdded < l.cfg.CompetitorStoresPerDay,
	}, nil
}

// AddHeavyMatching records one completed heavy matching run.
func (l *Limiter) AddHeavyMatching(ctx context.Context, userID string, now time.Time) error {
	return l.add(ctx, userID, now, func(day time.Time) error {
		return l.repo.AddHeavyMatching(ctx, userID, day, 1)
	})
}

// AddCompetitorStore records one completed competitor store addition.
func (l *Limiter) AddCompetitorStore(ctx context.Context, userID string, now time.Time) error {
	return l.add(ctx, userID, now, func(day time.Time) error {
		return l.repo.AddCompetitorStores(ctx, userID, day, 1)
	})
}

// AddURLs records count completed URL additions.
func (l *Limiter) AddURLs(ctx context.Context, userID string, count int, now time.Time) error {
	if count <= 0 {
		return nil
	}
	return l.add(ctx, userID, now, func(day time.Time) error {
		return l.repo.AddURLs(ctx, userID, day, count)
	})
}

// add ensures today's row exists before the counter update; an increment can
// legitimately be the first touch of the day when the check ran yesterday.
func (l *Limiter) add(ctx context.Context, userID string, now time.Time, increment func(day time.Time) error) error {
	day := domain.DayOf(now)
	if _, err := l.repo.GetOrCreate(ctx, userID, day); err != nil {
		return fmt.Errorf("read rate limit: %w", err)
	}
	if err := increment(day); err != nil {
		return fmt.Errorf("increment rate limit: %w", err)
	}
	return nil
}

func headroom(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
