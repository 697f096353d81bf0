package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/price-tracker/internal/config"
	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/events"
	"github.com/jonesrussell/price-tracker/internal/logger"
	"github.com/jonesrussell/price-tracker/internal/plans"
	"github.com/jonesrussell/price-tracker/internal/scraper"
	"github.com/jonesrussell/price-tracker/internal/telemetry"
)

// LinkStore is the data access interface for tracked links. FetchDue only
// returns active links that carry a URL, so the scheduler dereferences
// link.URL without checking.
type LinkStore interface {
	FetchDue(ctx context.Context, userID string, limit int) ([]domain.CompetitorProductLink, error)
	RecordFailure(ctx context.Context, linkID string, nextRetry time.Time, needsAttention bool) error
	RecordUnchanged(ctx context.Context, linkID string, nextAllowed *time.Time) error
	RecordChange(ctx context.Context, linkID string, price float64, currency string, available bool) error
}

// Fetcher performs budget-gated provider fetches.
type Fetcher interface {
	Scrape(ctx context.Context, userID, target string, opts scraper.Options) scraper.Result
}

// Extractor pulls the price signal out of fetched HTML.
type Extractor interface {
	Extract(html string) (*scraper.Extraction, error)
}

// BudgetReader reports ledger state for event payloads.
type BudgetReader interface {
	Status(ctx context.Context, userID string, cost int, now time.Time) (*domain.BudgetStatus, error)
}

// PassResult aggregates one tracking pass for observability. It is returned
// to the dispatcher, never persisted; all durable effects live on the links.
type PassResult struct {
	UserID       string
	Processed    int
	Deferred     int
	PriceChanges int
	Errors       int
	// Skipped is true when the user's plan has tracking disabled.
	Skipped bool
}

// Scheduler runs the tracking pass: select due links, fetch each one through
// the budget gate, extract the price, and advance per-link state through the
// smart-skip and retry policies.
type Scheduler struct {
	links        LinkStore
	fetcher      Fetcher
	extractor    Extractor
	entitlements plans.Resolver
	budgets      BudgetReader
	publisher    *events.Publisher
	metrics      *telemetry.Provider
	cfg          *config.Config
	logger       logger.Logger
}

// NewScheduler creates a tracking scheduler. publisher and metrics may be
// nil; both degrade to no-ops.
func NewScheduler(
	cfg *config.Config,
	links LinkStore,
	fetcher Fetcher,
	extractor Extractor,
	entitlements plans.Resolver,
	budgets BudgetReader,
	publisher *events.Publisher,
	metrics *telemetry.Provider,
	log logger.Logger,
) *Scheduler {
	return &Scheduler{
		links:        links,
		fetcher:      fetcher,
		extractor:    extractor,
		entitlements: entitlements,
		budgets:      budgets,
		publisher:    publisher,
		metrics:      metrics,
		cfg:          cfg,
		logger:       log,
	}
}

// RunPass executes one tracking pass for a user. Links run strictly in
// sequence. Per-link failures are absorbed into link state, so the error
// return covers only pass-level problems (plan lookup, due query).
func (s *Scheduler) RunPass(ctx context.Context, userID string) (*PassResult, error) {
	result := &PassResult{UserID: userID}

	limits, err := s.entitlements.ForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}
	if limits.TrackingRunsPerDay <= 0 {
		s.logger.Info("tracking disabled for plan, skipping pass",
			logger.String("user_id", userID))
		result.Skipped = true
		return result, nil
	}

	due, err := s.links.FetchDue(ctx, userID, s.cfg.Tracking.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("fetch due links: %w", err)
	}
	if len(due) == 0 {
		return result, nil
	}

	start := time.Now()
	s.logger.Info("tracking pass started",
		logger.String("user_id", userID),
		logger.Int("due_links", len(due)))

	exhausted := false
	for i := range due {
		link := &due[i]

		if exhausted {
			result.Deferred++
			continue
		}

		switch s.checkLink(ctx, userID, link) {
		case checkDeferred:
			// Budget ran out. Everything after this link is deferred
			// without further provider calls.
			exhausted = true
			result.Deferred++
			s.reportExhaustion(ctx, userID)
		case checkFailed:
			result.Processed++
			result.Errors++
		case checkChanged:
			result.Processed++
			result.PriceChanges++
		case checkUnchanged:
			result.Processed++
		}
	}

	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordPass(result.Processed, result.Deferred, result.PriceChanges, result.Errors, duration)
	}

	s.logger.Info("tracking pass finished",
		logger.String("user_id", userID),
		logger.Int("processed", result.Processed),
		logger.Int("deferred", result.Deferred),
		logger.Int("price_changes", result.PriceChanges),
		logger.Int("errors", result.Errors),
		logger.Duration("duration", duration))

	return result, nil
}

type checkOutcome int

const (
	checkFailed checkOutcome = iota
	checkDeferred
	checkChanged
	checkUnchanged
)

// checkLink runs one fetch-extract-update cycle for a single link.
func (s *Scheduler) checkLink(ctx context.Context, userID string, link *domain.CompetitorProductLink) checkOutcome {
	now := time.Now().UTC()

	fetchStart := time.Now()
	res := s.fetcher.Scrape(ctx, userID, *link.URL, scraper.Options{
		RenderJS: s.cfg.Provider.RenderJS,
		Cost:     s.cfg.Budget.RequestCost,
	})
	if s.metrics != nil {
		s.metrics.RecordScrape(scrapeOutcome(res), time.Since(fetchStart))
	}

	if res.Deferred {
		return checkDeferred
	}
	if !res.Success {
		if errors.Is(res.Err, domain.ErrMissingCredentials) {
			// A missing provider key is not a link failure; retry state
			// stays untouched.
			s.logger.Error("provider credentials missing",
				logger.String("link_id", link.ID))
			return checkFailed
		}
		s.recordLinkFailure(ctx, link, now, "link check failed", res.Err)
		return checkFailed
	}

	extraction, err := s.extractor.Extract(res.HTML)
	if err != nil || extraction.Price == nil {
		// Page fetched but no price on it. Operationally the same as a
		// failed check, logged distinctly.
		s.recordLinkFailure(ctx, link, now, "no price extracted", err)
		return checkFailed
	}

	price := *extraction.Price
	if link.HasPrice() && *link.LastPrice == price {
		next := NextAllowedCheck(link.NoChangeStreak+1, now, s.cfg.Tracking.SmartSkip)
		if repoErr := s.links.RecordUnchanged(ctx, link.ID, next); repoErr != nil {
			s.logger.Error("failed to record unchanged check",
				logger.String("link_id", link.ID),
				logger.Error(repoErr))
		}
		return checkUnchanged
	}

	if repoErr := s.links.RecordChange(ctx, link.ID, price, extraction.Currency, extraction.Availability); repoErr != nil {
		s.logger.Error("failed to record price change",
			logger.String("link_id", link.ID),
			logger.Error(repoErr))
		return checkChanged
	}

	s.logger.Info("price change detected",
		logger.String("link_id", link.ID),
		logger.String("product_id", link.ProductID),
		logger.Float64("new_price", price),
		logger.String("currency", extraction.Currency))

	s.publisher.PublishAsync(events.Event{
		EventType: events.PriceChanged,
		UserID:    userID,
		Payload: events.PriceChangedPayload{
			LinkID:            link.ID,
			ProductID:         link.ProductID,
			CompetitorStoreID: link.CompetitorStoreID,
			PreviousPrice:     link.LastPrice,
			NewPrice:          price,
			Currency:          extraction.Currency,
			Available:         extraction.Availability,
		},
	})

	return checkChanged
}

// recordLinkFailure advances the retry state machine after a failed check.
func (s *Scheduler) recordLinkFailure(ctx context.Context, link *domain.CompetitorProductLink, now time.Time, msg string, cause error) {
	streak := link.ErrorStreak + 1
	nextRetry := NextRetryTime(streak, now, s.cfg.Tracking.Retry)
	needsAttention := RetriesExhausted(streak, s.cfg.Tracking.Retry)

	fields := []logger.Field{
		logger.String("link_id", link.ID),
		logger.Int("error_streak", streak),
		logger.Time("next_retry", nextRetry),
	}
	if cause != nil {
		fields = append(fields, logger.Error(cause))
	}
	s.logger.Warn(msg, fields...)

	if repoErr := s.links.RecordFailure(ctx, link.ID, nextRetry, needsAttention); repoErr != nil {
		s.logger.Error("failed to record link failure",
			logger.String("link_id", link.ID),
			logger.Error(repoErr))
	}
}

// reportExhaustion publishes the budget exhaustion event with current ledger
// state, best effort.
func (s *Scheduler) reportExhaustion(ctx context.Context, userID string) {
	s.logger.Warn("budget exhausted, deferring remaining links",
		logger.String("user_id", userID))

	payload := events.BudgetExhaustedPayload{}
	if s.budgets != nil {
		if status, err := s.budgets.Status(ctx, userID, 0, time.Now().UTC()); err == nil {
			payload = events.BudgetExhaustedPayload{
				DailyUsed:    status.DailyUsed,
				DailyLimit:   status.DailyLimit,
				MonthlyUsed:  status.MonthlyUsed,
				MonthlyLimit: status.MonthlyLimit,
			}
		}
	}

	s.publisher.PublishAsync(events.Event{
		EventType: events.BudgetExhausted,
		UserID:    userID,
		Payload:   payload,
	})
}

func scrapeOutcome(res scraper.Result) string {
	switch {
	case res.Success:
		return "success"
	case res.Deferred:
		return "deferred"
	default:
		return "error"
	}
}
