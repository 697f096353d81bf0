// Package scraper wraps the paid scraping provider. Every fetch passes
// through the budget gate first, so remote spend can never outrun the ledger.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/price-tracker/internal/config"
	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/logger"
)

const (
	defaultRequestCost = 1
	defaultTimeout     = 30 * time.Second

	// maxResponseBodyBytes limits the size of fetched page responses.
	maxResponseBodyBytes = 10 * 1024 * 1024 // 10 MB
)

// BudgetGate admits or defers paid fetches against the spend ledger.
type BudgetGate interface {
	CanScrape(ctx context.Context, userID string, cost int, now time.Time) (bool, error)
	Increment(ctx context.Context, userID string, cost int, now time.Time) (*domain.ScrapeBudget, error)
}

// Options tune a single provider call.
type Options struct {
	// RenderJS asks the provider to execute page JavaScript before returning.
	RenderJS bool
	// Timeout overrides the configured hard deadline when positive.
	Timeout time.Duration
	// Cost is the credits this call charges; zero means the default of one.
	Cost int
	// SkipBudgetCheck bypasses the admission check. Spend is still recorded
	// on success.
	SkipBudgetCheck bool
}

// Result is the outcome of one provider call.
type Result struct {
	Success        bool
	HTML           string
	Err            error
	Deferred       bool
	BudgetExceeded bool
	Cost           int
}

// Client fetches pages through the metered provider.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	budget     BudgetGate
	cfg        config.ProviderConfig
	logger     logger.Logger
}

// NewClient creates a provider client. The rate limiter smooths request
// bursts toward the provider independent of the budget ledger.
func NewClient(cfg config.ProviderConfig, budget BudgetGate, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		budget:     budget,
		cfg:        cfg,
		logger:     log,
	}
}

// Scrape fetches one URL through the provider. Missing credentials fail
// before any network call. A budget refusal is a deferral, not an error, and
// never reaches the network either. Spend is recorded only after the
// provider served a 2xx response.
func (c *Client) Scrape(ctx context.Context, userID, target string, opts Options) Result {
	cost := opts.Cost
	if cost <= 0 {
		cost = defaultRequestCost
	}
	now := time.Now().UTC()

	if c.cfg.BaseURL == "" || c.cfg.APIKey == "" {
		return Result{Err: domain.ErrMissingCredentials, Cost: cost}
	}

	if !opts.SkipBudgetCheck {
		allowed, err := c.budget.CanScrape(ctx, userID, cost, now)
		if err != nil {
			return Result{Err: fmt.Errorf("budget check: %w", err), Cost: cost}
		}
		if !allowed {
			c.logger.Info("scrape deferred, budget exhausted",
				logger.String("user_id", userID),
				logger.String("url", target))
			return Result{Deferred: true, BudgetExceeded: true, Err: domain.ErrBudgetExceeded, Cost: cost}
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{Err: fmt.Errorf("provider rate wait: %w", err), Cost: cost}
	}

	html, err := c.fetch(ctx, target, opts)
	if err != nil {
		return Result{Err: err, Cost: cost}
	}

	// Charge only completed calls. A failed increment must not undo the
	// fetch; log it and move on.
	if _, incErr := c.budget.Increment(ctx, userID, cost, now); incErr != nil {
		c.logger.Error("failed to record scrape spend",
			logger.String("user_id", userID),
			logger.Error(incErr))
	}

	return Result{Success: true, HTML: html, Cost: cost}
}

// ScrapeBatch fetches URLs sequentially. Once one call reports a budget
// deferral, the remainder is marked deferred without touching the network,
// so an exhausted ledger does not burn a timeout per URL.
func (c *Client) ScrapeBatch(ctx context.Context, userID string, targets []string, opts Options) []Result {
	results := make([]Result, len(targets))
	exhausted := false

	for i, target := range targets {
		if exhausted {
			results[i] = Result{Deferred: true, BudgetExceeded: true, Err: domain.ErrBudgetExceeded, Cost: opts.Cost}
			continue
		}

		results[i] = c.Scrape(ctx, userID, target, opts)
		if results[i].Deferred {
			exhausted = true
		}
	}

	return results
}

// fetch performs the provider GET with a hard deadline.
func (c *Client) fetch(ctx context.Context, target string, opts Options) (string, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.httpClient.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.buildURL(target, opts.RenderJS), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("provider status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	return string(body), nil
}

func (c *Client) buildURL(target string, renderJS bool) string {
	params := url.Values{}
	params.Set("api_key", c.cfg.APIKey)
	params.Set("url", target)
	params.Set("render_js", strconv.FormatBool(renderJS))
	return c.cfg.BaseURL + "?" + params.Encode()
}
