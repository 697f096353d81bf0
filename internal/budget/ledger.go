// Package budget enforces the scrape spend ledger. Every remote fetch costs
// credits; the ledger caps spend per UTC day and per calendar month and rolls
// both windows forward on read.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/price-tracker/internal/config"
	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/logger"
)

// Repository is the data access interface for budget ledger rows.
type Repository interface {
	Get(ctx context.Context, userID string) (*domain.ScrapeBudget, error)
	Create(ctx context.Context, userID string, day, monthStart time.Time) (*domain.ScrapeBudget, error)
	ResetDaily(ctx context.Context, userID string, day time.Time) error
	ResetMonthly(ctx context.Context, userID string, monthStart time.Time) error
	AddUsage(ctx context.Context, userID string, cost int) (*domain.ScrapeBudget, error)
}

// Service answers "may this user spend N credits right now" and records spend
// after confirmed fetches. On storage failure the configured policy decides:
// fail-open allows the scrape unmetered, fail-closed blocks it.
type Service struct {
	repo   Repository
	cfg    config.BudgetConfig
	logger logger.Logger
}

// NewService creates a budget service.
func NewService(repo Repository, cfg config.BudgetConfig, log logger.Logger) *Service {
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: log,
	}
}

// GetOrCreate loads the user's ledger row, creating a zeroed one on first
// sight. Stale windows are reset and persisted before the row is returned, so
// callers always see counters for the current UTC day and month.
func (s *Service) GetOrCreate(ctx context.Context, userID string, now time.Time) (*domain.ScrapeBudget, error) {
	b, err := s.repo.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		created, createErr := s.repo.Create(ctx, userID, domain.DayOf(now), domain.MonthStartOf(now))
		if createErr != nil {
			return nil, fmt.Errorf("create budget: %w", createErr)
		}
		s.logger.Debug("created budget ledger", logger.String("user_id", userID))
		return created, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load budget: %w", err)
	}
	return s.rollover(ctx, b, now)
}

// rollover resets whichever windows have lapsed. The write happens before the
// row is handed back; a crash between reset and spend never undercounts.
func (s *Service) rollover(ctx context.Context, b *domain.ScrapeBudget, now time.Time) (*domain.ScrapeBudget, error) {
	day := domain.DayOf(now)
	if !b.DailyDate.Equal(day) {
		if err := s.repo.ResetDaily(ctx, b.UserID, day); err != nil {
			return nil, fmt.Errorf("reset daily budget: %w", err)
		}
		b.DailyUsed = 0
		b.DailyDate = day
		s.logger.Debug("rolled daily budget window",
			logger.String("user_id", b.UserID),
			logger.Time("day", day))
	}

	monthStart := domain.MonthStartOf(now)
	if b.MonthPeriodStart.Before(monthStart) {
		if err := s.repo.ResetMonthly(ctx, b.UserID, monthStart); err != nil {
			return nil, fmt.Errorf("reset monthly budget: %w", err)
		}
		b.MonthlyUsed = 0
		b.MonthPeriodStart = monthStart
		s.logger.Debug("rolled monthly budget window",
			logger.String("user_id", b.UserID),
			logger.Time("month_start", monthStart))
	}

	return b, nil
}

// CanScrape reports whether spending cost credits now would keep the user
// inside both the daily and monthly limits. A cost of zero or less means the
// configured per-request cost.
func (s *Service) CanScrape(ctx context.Context, userID string, cost int, now time.Time) (bool, error) {
	status, err := s.Status(ctx, userID, cost, now)
	if err != nil {
		return false, err
	}
	return status.CanScrape, nil
}

// Status returns the user's current usage against both limits, including
// whether a scrape of the given cost would be allowed.
func (s *Service) Status(ctx context.Context, userID string, cost int, now time.Time) (*domain.BudgetStatus, error) {
	if cost <= 0 {
		cost = s.cfg.RequestCost
	}

	b, err := s.GetOrCreate(ctx, userID, now)
	if err != nil {
		if s.cfg.FailClosed {
			return nil, err
		}
		s.logger.Warn("budget store unavailable, failing open",
			logger.String("user_id", userID),
			logger.Error(err))
		return s.openStatus(), nil
	}

	return s.statusFor(b, cost), nil
}

// Increment records cost credits of confirmed spend on both counters. Callers
// invoke this only after a fetch actually succeeded.
func (s *Service) Increment(ctx context.Context, userID string, cost int, now time.Time) (*domain.ScrapeBudget, error) {
	if cost <= 0 {
		cost = s.cfg.RequestCost
	}

	// Roll windows first so spend lands in the current day and month.
	if _, err := s.GetOrCreate(ctx, userID, now); err != nil {
		return nil, err
	}

	b, err := s.repo.AddUsage(ctx, userID, cost)
	if err != nil {
		return nil, fmt.Errorf("record budget usage: %w", err)
	}

	s.logger.Debug("recorded scrape spend",
		logger.String("user_id", userID),
		logger.Int("cost", cost),
		logger.Int("daily_used", b.DailyUsed),
		logger.Int("monthly_used", b.MonthlyUsed))
	return b, nil
}

func (s *Service) statusFor(b *domain.ScrapeBudget, cost int) *domain.BudgetStatus {
	daily := s.cfg.DailyLimit()
	monthly := s.cfg.MonthlyLimit()

	status := &domain.BudgetStatus{
		DailyUsed:        b.DailyUsed,
		DailyLimit:       daily,
		DailyRemaining:   remaining(daily, b.DailyUsed),
		MonthlyUsed:      b.MonthlyUsed,
		MonthlyLimit:     monthly,
		MonthlyRemaining: remaining(monthly, b.MonthlyUsed),
	}
	status.CanScrape = b.DailyUsed+cost <= daily && b.MonthlyUsed+cost <= monthly
	return status
}

// openStatus is what callers see when the store is down and policy is
// fail-open: full headroom, usage unknown.
func (s *Service) openStatus() *domain.BudgetStatus {
	daily := s.cfg.DailyLimit()
	monthly := s.cfg.MonthlyLimit()
	return &domain.BudgetStatus{
		DailyLimit:       daily,
		DailyRemaining:   daily,
		MonthlyLimit:     monthly,
		MonthlyRemaining: monthly,
		CanScrape:        true,
	}
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
