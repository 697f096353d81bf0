// Package quota enforces the monthly per-store cap on candidate discovery.
// It is the third independent governor: the budget ledger caps fetch volume,
// the structural rate limiter caps account churn, and this caps how many
// competitor candidates a store may pull in per calendar month.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/logger"
	"github.com/jonesrussell/price-tracker/internal/plans"
)

// Repository is the data access interface for discovery quota rows.
type Repository interface {
	Get(ctx context.Context, storeID string) (*domain.DiscoveryQuota, error)
	Create(ctx context.Context, storeID string, periodStart time.Time, limit int) (*domain.DiscoveryQuota, error)
	ResetPeriod(ctx context.Context, storeID string, periodStart time.Time) error
	SyncLimit(ctx context.Context, storeID string, limit int) error
	TryConsume(ctx context.Context, storeID string, amount int) (*domain.DiscoveryQuota, error)
}

// Service owns the discovery quota lifecycle: lazy creation, month rollover
// on read, and limit re-sync when the plan entitlement changed mid-period.
type Service struct {
	repo         Repository
	entitlements plans.Resolver
	logger       logger.Logger
}

// NewService creates a discovery quota service.
func NewService(repo Repository, entitlements plans.Resolver, log logger.Logger) *Service {
	return &Service{repo: repo, entitlements: entitlements, logger: log}
}

// GetOrCreate returns the store's quota row for the current month, rolling
// the period and re-syncing the limit as side effects. Both writes land
// before the row is handed back.
func (s *Service) GetOrCreate(ctx context.Context, storeID string, now time.Time) (*domain.DiscoveryQuota, error) {
	limits, err := s.entitlements.ForStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("resolve entitlements: %w", err)
	}
	limit := limits.DiscoveryPerMonth
	monthStart := domain.MonthStartOf(now)

	q, err := s.repo.Get(ctx, storeID)
	if errors.Is(err, domain.ErrNotFound) {
		created, createErr := s.repo.Create(ctx, storeID, monthStart, limit)
		if createErr != nil {
			return nil, fmt.Errorf("create quota: %w", createErr)
		}
		return created, nil
	}
	if err != nil {
		return nil, err
	}

	if q.PeriodStart.Before(monthStart) {
		if resetErr := s.repo.ResetPeriod(ctx, storeID, monthStart); resetErr != nil {
			return nil, fmt.Errorf("roll quota period: %w", resetErr)
		}
		s.logger.Info("discovery quota period rolled",
			logger.String("store_id", storeID),
			logger.Time("period_start", monthStart))
		q.Used = 0
		q.PeriodStart = monthStart
	}

	if q.LimitAmount != limit {
		if syncErr := s.repo.SyncLimit(ctx, storeID, limit); syncErr != nil {
			return nil, fmt.Errorf("sync quota limit: %w", syncErr)
		}
		s.logger.Info("discovery quota limit re-synced",
			logger.String("store_id", storeID),
			logger.Int("old_limit", q.LimitAmount),
			logger.Int("new_limit", limit))
		q.LimitAmount = limit
	}

	return q, nil
}

// Status reports the store's discovery headroom for the current month.
func (s *Service) Status(ctx context.Context, storeID string, now time.Time) (*domain.QuotaStatus, error) {
	q, err := s.GetOrCreate(ctx, storeID, now)
	if err != nil {
		return nil, err
	}
	return &domain.QuotaStatus{
		Used:      q.Used,
		Limit:     q.LimitAmount,
		Remaining: remaining(q.LimitAmount, q.Used),
	}, nil
}

// Consume attempts to spend amount units of discovery. A refusal reports the
// unchanged state with Allowed=false; it is an answer, not an error.
func (s *Service) Consume(ctx context.Context, storeID string, amount int, now time.Time) (*domain.ConsumeResult, error) {
	q, err := s.GetOrCreate(ctx, storeID, now)
	if err != nil {
		return nil, err
	}

	if amount <= 0 {
		return &domain.ConsumeResult{
			Allowed:   true,
			Used:      q.Used,
			Limit:     q.LimitAmount,
			Remaining: remaining(q.LimitAmount, q.Used),
		}, nil
	}

	updated, err := s.repo.TryConsume(ctx, storeID, amount)
	if errors.Is(err, domain.ErrQuotaExceeded) {
		return &domain.ConsumeResult{
			Allowed:   false,
			Used:      q.Used,
			Limit:     q.LimitAmount,
			Remaining: remaining(q.LimitAmount, q.Used),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return &domain.ConsumeResult{
		Allowed:   true,
		Used:      updated.Used,
		Limit:     updated.LimitAmount,
		Remaining: remaining(updated.LimitAmount, updated.Used),
	}, nil
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
