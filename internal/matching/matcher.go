package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/price-tracker/internal/config"
	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/events"
	"github.com/jonesrussell/price-tracker/internal/logger"
	"github.com/jonesrussell/price-tracker/internal/scraper"
	"github.com/jonesrussell/price-tracker/internal/telemetry"
)

// CatalogStore reads the local product catalog and competitor registrations.
type CatalogStore interface {
	GetCompetitorStore(ctx context.Context, id string) (*domain.CompetitorStore, error)
	ListUnlinkedProducts(ctx context.Context, storeID, competitorStoreID string, limit, offset int) ([]domain.Product, error)
	CountUnlinkedProducts(ctx context.Context, storeID, competitorStoreID string) (int, error)
}

// LinkWriter persists confirmed matches as links.
type LinkWriter interface {
	UpsertMatch(ctx context.Context, userID, storeID, productID, competitorStoreID, url string) (string, bool, error)
}

// JobQueue enqueues batch matching jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, jobs []*domain.ScrapeJob) error
}

// Fetcher performs budget-gated provider fetches.
type Fetcher interface {
	Scrape(ctx context.Context, userID, target string, opts scraper.Options) scraper.Result
}

// Parser turns listing HTML into candidates.
type Parser interface {
	Parse(html, baseURL string) ([]domain.Candidate, error)
}

// StructuralGate is the daily structural rate limiter surface the matchers
// need. Checks never mutate; Add* is called only after the gated action
// succeeded.
type StructuralGate interface {
	CanAddCompetitorStore(ctx context.Context, userID string, now time.Time) (bool, error)
	CanRunHeavyMatching(ctx context.Context, userID string, now time.Time) (bool, error)
	AddCompetitorStore(ctx context.Context, userID string, now time.Time) error
	AddHeavyMatching(ctx context.Context, userID string, now time.Time) error
}

// DiscoveryGate is the monthly candidate-discovery quota surface.
type DiscoveryGate interface {
	Status(ctx context.Context, storeID string, now time.Time) (*domain.QuotaStatus, error)
	Consume(ctx context.Context, storeID string, amount int, now time.Time) (*domain.ConsumeResult, error)
}

// BudgetGate pre-checks the scrape ledger before paid work starts.
type BudgetGate interface {
	CanScrape(ctx context.Context, userID string, cost int, now time.Time) (bool, error)
}

// QuickStartResult summarizes one synchronous quick-start run.
type QuickStartResult struct {
	ProductsConsidered int `json:"products_considered"`
	CandidatesSeen     int `json:"candidates_seen"`
	LinksCreated       int `json:"links_created"`
	LinksUpdated       int `json:"links_updated"`
	BatchesEnqueued    int `json:"batches_enqueued"`
}

// BatchResult summarizes one processed matching job. Deferred means the job
// could not run inside today's budget or caps; the worker records it as a
// terminal deferral, not a failure.
type BatchResult struct {
	ItemsProcessed int
	LinksCreated   int
	LinksUpdated   int
	Deferred       bool
	Reason         string
}

// MatcherDeps contains the collaborators for creating a Matcher.
type MatcherDeps struct {
	Catalog    CatalogStore
	Links      LinkWriter
	Jobs       JobQueue
	Fetcher    Fetcher
	Parser     Parser
	Structural StructuralGate
	Discovery  DiscoveryGate
	Budget     BudgetGate
	Publisher  *events.Publisher
	Metrics    *telemetry.Provider
	Logger     logger.Logger
}

// Matcher owns the two matching entry points: the synchronous quick-start
// run on competitor add, and batch jobs for the catalog tail. Both consult
// the rate limiter, the budget ledger and the discovery quota before paid
// work, and both persist matches through the same idempotent upsert.
type Matcher struct {
	engine *Engine
	cfg    *config.Config
	deps   MatcherDeps
}

// NewMatcher creates a matcher. Publisher and Metrics may be nil.
func NewMatcher(cfg *config.Config, deps MatcherDeps) *Matcher {
	return &Matcher{
		engine: NewEngine(),
		cfg:    cfg,
		deps:   deps,
	}
}

// QuickStart immediately matches the head of the unlinked catalog against a
// newly added competitor. Gate refusals come back as sentinel errors so the
// user-facing caller can react; the batch tail is enqueued for later.
func (m *Matcher) QuickStart(ctx context.Context, competitorStoreID string) (*QuickStartResult, error) {
	now := time.Now().UTC()

	competitor, err := m.deps.Catalog.GetCompetitorStore(ctx, competitorStoreID)
	if err != nil {
		return nil, fmt.Errorf("load competitor store: %w", err)
	}

	allowed, err := m.deps.Structural.CanAddCompetitorStore(ctx, competitor.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("check structural limit: %w", err)
	}
	if !allowed {
		return nil, domain.ErrRateLimited
	}

	canScrape, err := m.deps.Budget.CanScrape(ctx, competitor.UserID, m.cfg.Budget.RequestCost, now)
	if err != nil {
		return nil, fmt.Errorf("check budget: %w", err)
	}
	if !canScrape {
		return nil, domain.ErrBudgetExceeded
	}

	quotaStatus, err := m.deps.Discovery.Status(ctx, competitor.StoreID, now)
	if err != nil {
		return nil, fmt.Errorf("check discovery quota: %w", err)
	}
	if quotaStatus.Remaining <= 0 {
		return nil, domain.ErrQuotaExceeded
	}

	head, err := m.deps.Catalog.ListUnlinkedProducts(ctx, competitor.StoreID, competitor.ID, m.cfg.Matching.QuickStartLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("list unlinked products: %w", err)
	}

	result := &QuickStartResult{ProductsConsidered: len(head)}
	if len(head) == 0 {
		m.deps.Logger.Info("quick-start found no unlinked products",
			logger.String("competitor_store_id", competitor.ID))
		return result, nil
	}

	outcome, err := m.matchSlice(ctx, competitor, head, now, "quick_start")
	if err != nil {
		return nil, err
	}
	if outcome.deferred {
		// The admission check passed moments ago; a concurrent spender
		// got there first. Quick-start is synchronous, so refuse.
		return nil, domain.ErrBudgetExceeded
	}
	result.CandidatesSeen = outcome.candidates
	result.LinksCreated = outcome.created
	result.LinksUpdated = outcome.updated

	if addErr := m.deps.Structural.AddCompetitorStore(ctx, competitor.UserID, now); addErr != nil {
		m.deps.Logger.Error("failed to record competitor store addition",
			logger.String("user_id", competitor.UserID),
			logger.Error(addErr))
	}

	enqueued, err := m.enqueueTail(ctx, competitor, now)
	if err != nil {
		m.deps.Logger.Error("failed to enqueue batch tail",
			logger.String("competitor_store_id", competitor.ID),
			logger.Error(err))
		return result, nil
	}
	result.BatchesEnqueued = enqueued

	m.deps.Logger.Info("quick-start finished",
		logger.String("competitor_store_id", competitor.ID),
		logger.Int("products", result.ProductsConsidered),
		logger.Int("links_created", result.LinksCreated),
		logger.Int("batches_enqueued", result.BatchesEnqueued))

	return result, nil
}

// ProcessBatch runs one claimed matching job. Admissibility is re-validated
// in full: a job queued yesterday may no longer be affordable today.
func (m *Matcher) ProcessBatch(ctx context.Context, job *domain.ScrapeJob) (*BatchResult, error) {
	now := time.Now().UTC()
	result := &BatchResult{}

	allowed, err := m.deps.Structural.CanRunHeavyMatching(ctx, job.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("check structural limit: %w", err)
	}
	if !allowed {
		result.Deferred = true
		result.Reason = "heavy matching daily cap reached"
		return result, nil
	}

	canScrape, err := m.deps.Budget.CanScrape(ctx, job.UserID, m.cfg.Budget.RequestCost, now)
	if err != nil {
		return nil, fmt.Errorf("check budget: %w", err)
	}
	if !canScrape {
		result.Deferred = true
		result.Reason = "scrape budget exhausted"
		return result, nil
	}

	quotaStatus, err := m.deps.Discovery.Status(ctx, job.StoreID, now)
	if err != nil {
		return nil, fmt.Errorf("check discovery quota: %w", err)
	}
	if quotaStatus.Remaining <= 0 {
		result.Deferred = true
		result.Reason = "discovery quota exhausted"
		return result, nil
	}

	competitor, err := m.deps.Catalog.GetCompetitorStore(ctx, job.CompetitorStoreID)
	if err != nil {
		return nil, fmt.Errorf("load competitor store: %w", err)
	}

	offset := (job.BatchNumber - 1) * m.cfg.Matching.BatchSize
	if offset < 0 {
		offset = 0
	}
	products, err := m.deps.Catalog.ListUnlinkedProducts(ctx, job.StoreID, job.CompetitorStoreID, m.cfg.Matching.BatchSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list unlinked products: %w", err)
	}
	result.ItemsProcessed = len(products)
	if len(products) == 0 {
		return result, nil
	}

	outcome, err := m.matchSlice(ctx, competitor, products, now, "batch")
	if err != nil {
		return nil, err
	}
	if outcome.deferred {
		result.Deferred = true
		result.Reason = outcome.reason
		return result, nil
	}
	result.LinksCreated = outcome.created
	result.LinksUpdated = outcome.updated

	if addErr := m.deps.Structural.AddHeavyMatching(ctx, job.UserID, now); addErr != nil {
		m.deps.Logger.Error("failed to record heavy matching run",
			logger.String("user_id", job.UserID),
			logger.Error(addErr))
	}

	return result, nil
}

type sliceOutcome struct {
	deferred   bool
	reason     string
	candidates int
	created    int
	updated    int
}

// matchSlice is the shared scrape-parse-match-upsert pipeline. The discovery
// quota is spent one unit per candidate considered; when only partial
// headroom remains, the candidate list is trimmed to fit rather than refused
// outright.
func (m *Matcher) matchSlice(ctx context.Context, competitor *domain.CompetitorStore, products []domain.Product, now time.Time, kind string) (*sliceOutcome, error) {
	out := &sliceOutcome{}

	res := m.deps.Fetcher.Scrape(ctx, competitor.UserID, competitor.ListingURL, scraper.Options{
		RenderJS: m.cfg.Provider.RenderJS,
		Cost:     m.cfg.Budget.RequestCost,
	})
	if res.Deferred {
		out.deferred = true
		out.reason = "scrape budget exhausted"
		return out, nil
	}
	if !res.Success {
		return nil, fmt.Errorf("scrape listing: %w", res.Err)
	}

	candidates, err := m.deps.Parser.Parse(res.HTML, competitor.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	if len(candidates) == 0 {
		m.deps.Logger.Warn("listing yielded no candidates",
			logger.String("competitor_store_id", competitor.ID),
			logger.String("listing_url", competitor.ListingURL))
		return out, nil
	}

	candidates, deferred, err := m.spendDiscovery(ctx, competitor.StoreID, candidates, now)
	if err != nil {
		return nil, err
	}
	if deferred {
		out.deferred = true
		out.reason = "discovery quota exhausted"
		return out, nil
	}
	out.candidates = len(candidates)

	matches := m.engine.FindBestMatches(products, candidates, m.cfg.Matching.MinScore)
	for i := range matches {
		match := &matches[i]
		linkID, inserted, upsertErr := m.deps.Links.UpsertMatch(ctx,
			competitor.UserID, competitor.StoreID, match.ProductID, competitor.ID, match.URL)
		if upsertErr != nil {
			m.deps.Logger.Error("failed to upsert link",
				logger.String("product_id", match.ProductID),
				logger.Error(upsertErr))
			continue
		}
		if !inserted {
			out.updated++
			continue
		}
		out.created++

		m.deps.Publisher.PublishAsync(events.Event{
			EventType: events.MatchCreated,
			UserID:    competitor.UserID,
			Payload: events.MatchCreatedPayload{
				LinkID:            linkID,
				ProductID:         match.ProductID,
				CompetitorStoreID: competitor.ID,
				URL:               match.URL,
				Score:             match.Score,
			},
		})
	}

	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordMatchingRun(kind, out.created)
	}
	return out, nil
}

// spendDiscovery charges the quota for the candidates and trims the list to
// whatever headroom remains. Returns deferred=true when nothing fits.
func (m *Matcher) spendDiscovery(ctx context.Context, storeID string, candidates []domain.Candidate, now time.Time) ([]domain.Candidate, bool, error) {
	consume, err := m.deps.Discovery.Consume(ctx, storeID, len(candidates), now)
	if err != nil {
		return nil, false, fmt.Errorf("consume discovery quota: %w", err)
	}
	if consume.Allowed {
		return candidates, false, nil
	}
	if consume.Remaining <= 0 {
		return nil, true, nil
	}

	trimmed := candidates[:consume.Remaining]
	consume, err = m.deps.Discovery.Consume(ctx, storeID, len(trimmed), now)
	if err != nil {
		return nil, false, fmt.Errorf("consume discovery quota: %w", err)
	}
	if !consume.Allowed {
		// Lost the race for the final headroom.
		return nil, true, nil
	}

	m.deps.Logger.Info("discovery quota trimmed candidate list",
		logger.String("store_id", storeID),
		logger.Int("kept", len(trimmed)))
	return trimmed, false, nil
}

// enqueueTail creates spaced batch jobs for the products quick-start did not
// cover. Spacing through scheduled_for keeps one competitor from burning a
// whole day's budget in one burst.
func (m *Matcher) enqueueTail(ctx context.Context, competitor *domain.CompetitorStore, now time.Time) (int, error) {
	remainder, err := m.deps.Catalog.CountUnlinkedProducts(ctx, competitor.StoreID, competitor.ID)
	if err != nil {
		return 0, fmt.Errorf("count unlinked products: %w", err)
	}
	if remainder == 0 {
		return 0, nil
	}

	batchSize := m.cfg.Matching.BatchSize
	totalBatches := (remainder + batchSize - 1) / batchSize

	jobs := make([]*domain.ScrapeJob, 0, totalBatches)
	for b := 1; b <= totalBatches; b++ {
		items := batchSize
		if b == totalBatches {
			items = remainder - (totalBatches-1)*batchSize
		}
		job, jobErr := domain.NewMatchingJob(
			competitor.UserID, competitor.StoreID, competitor.ID,
			b, totalBatches, items,
			now.Add(time.Duration(b)*m.cfg.Matching.BatchDelay),
		)
		if jobErr != nil {
			return 0, jobErr
		}
		jobs = append(jobs, job)
	}

	if err := m.deps.Jobs.Enqueue(ctx, jobs); err != nil {
		return 0, err
	}
	return len(jobs), nil
}
