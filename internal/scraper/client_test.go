package scraper_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonesrussell/price-tracker/internal/config"
	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/logger"
	"github.com/jonesrussell/price-tracker/internal/scraper"
)

type mockGate struct {
	canScrapeFunc func(ctx context.Context, userID string, cost int, now time.Time) (bool, error)
	incrementFunc func(ctx context.Context, userID string, cost int, now time.Time) (*domain.ScrapeBudget, error)
}

func (m *mockGate) CanScrape(ctx context.Context, userID string, cost int, now time.Time) (bool, error) {
	if m.canScrapeFunc != nil {
		return m.canScrapeFunc(ctx, userID, cost, now)
	}
	return true, nil
}

func (m *mockGate) Increment(ctx context.Context, userID string, cost int, now time.Time) (*domain.ScrapeBudget, error) {
	if m.incrementFunc != nil {
		return m.incrementFunc(ctx, userID, cost, now)
	}
	return &domain.ScrapeBudget{UserID: userID}, nil
}

func testProviderConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		BaseURL:           baseURL,
		APIKey:            "test-key",
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             1000,
	}
}

func TestClient_Scrape_MissingCredentials(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testProviderConfig(server.URL)
	cfg.APIKey = ""

	client := scraper.NewClient(cfg, &mockGate{}, logger.NewNop())
	result := client.Scrape(t.Context(), "user-1", "https://shop.example.com/p/1", scraper.Options{})

	if result.Success {
		t.Error("Success = true, want false")
	}
	if !errors.Is(result.Err, domain.ErrMissingCredentials) {
		t.Errorf("Err = %v, want ErrMissingCredentials", result.Err)
	}
	if requestCount.Load() != 0 {
		t.Errorf("made %d network calls, want 0", requestCount.Load())
	}
}

func TestClient_Scrape_BudgetDeferral(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	gate := &mockGate{
		canScrapeFunc: func(_ context.Context, _ string, _ int, _ time.Time) (bool, error) {
			return false, nil
		},
		incrementFunc: func(_ context.Context, _ string, _ int, _ time.Time) (*domain.ScrapeBudget, error) {
			t.Error("Increment should not be called for a deferred scrape")
			return nil, nil
		},
	}

	client := scraper.NewClient(testProviderConfig(server.URL), gate, logger.NewNop())
	result := client.Scrape(t.Context(), "user-1", "https://shop.example.com/p/1", scraper.Options{})

	if result.Success {
		t.Error("Success = true, want false")
	}
	if !result.Deferred || !result.BudgetExceeded {
		t.Errorf("Deferred/BudgetExceeded = %v/%v, want true/true", result.Deferred, result.BudgetExceeded)
	}
	if !errors.Is(result.Err, domain.ErrBudgetExceeded) {
		t.Errorf("Err = %v, want ErrBudgetExceeded", result.Err)
	}
	if requestCount.Load() != 0 {
		t.Errorf("made %d network calls, want 0", requestCount.Load())
	}
}

func TestClient_Scrape_Success(t *testing.T) {
	const target = "https://shop.example.com/products/widget"
	const pageHTML = `<html><body><span class="price">$19.99</span></body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("api_key") != "test-key" {
			t.Errorf("api_key = %q, want %q", query.Get("api_key"), "test-key")
		}
		if query.Get("url") != target {
			t.Errorf("url = %q, want %q", query.Get("url"), target)
		}
		if query.Get("render_js") != "true" {
			t.Errorf("render_js = %q, want %q", query.Get("render_js"), "true")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(pageHTML))
	}))
	defer server.Close()

	var incrementedCost atomic.Int32
	gate := &mockGate{
		incrementFunc: func(_ context.Context, _ string, cost int, _ time.Time) (*domain.ScrapeBudget, error) {
			incrementedCost.Add(int32(cost))
			return &domain.ScrapeBudget{}, nil
		},
	}

	client := scraper.NewClient(testProviderConfig(server.URL), gate, logger.NewNop())
	result := client.Scrape(t.Context(), "user-1", target, scraper.Options{RenderJS: true})

	if !result.Success {
		t.Fatalf("Success = false, Err = %v", result.Err)
	}
	if result.HTML != pageHTML {
		t.Errorf("HTML = %q, want %q", result.HTML, pageHTML)
	}
	if result.Cost != 1 {
		t.Errorf("Cost = %d, want 1", result.Cost)
	}
	if incrementedCost.Load() != 1 {
		t.Errorf("incremented cost = %d, want 1", incrementedCost.Load())
	}
}

func TestClient_Scrape_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	gate := &mockGate{
		incrementFunc: func(_ context.Context, _ string, _ int, _ time.Time) (*domain.ScrapeBudget, error) {
			t.Error("Increment should not be called for a failed fetch")
			return nil, nil
		},
	}

	client := scraper.NewClient(testProviderConfig(server.URL), gate, logger.NewNop())
	result := client.Scrape(t.Context(), "user-1", "https://shop.example.com/p/1", scraper.Options{})

	if result.Success {
		t.Error("Success = true, want false")
	}
	if result.Err == nil {
		t.Error("Err = nil, want provider status error")
	}
	if result.Deferred {
		t.Error("Deferred = true, want false for a provider error")
	}
}

func TestClient_Scrape_SkipBudgetCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	var incremented atomic.Bool
	gate := &mockGate{
		canScrapeFunc: func(_ context.Context, _ string, _ int, _ time.Time) (bool, error) {
			t.Error("CanScrape should not be called when the check is skipped")
			return false, nil
		},
		incrementFunc: func(_ context.Context, _ string, _ int, _ time.Time) (*domain.ScrapeBudget, error) {
			incremented.Store(true)
			return &domain.ScrapeBudget{}, nil
		},
	}

	client := scraper.NewClient(testProviderConfig(server.URL), gate, logger.NewNop())
	result := client.Scrape(t.Context(), "user-1", "https://shop.example.com/p/1", scraper.Options{SkipBudgetCheck: true})

	if !result.Success {
		t.Fatalf("Success = false, Err = %v", result.Err)
	}
	if !incremented.Load() {
		t.Error("expected spend to be recorded even with the check skipped")
	}
}

func TestClient_Scrape_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	gate := &mockGate{
		incrementFunc: func(_ context.Context, _ string, _ int, _ time.Time) (*domain.ScrapeBudget, error) {
			t.Error("Increment should not be called for a timed-out fetch")
			return nil, nil
		},
	}

	client := scraper.NewClient(testProviderConfig(server.URL), gate, logger.NewNop())
	result := client.Scrape(t.Context(), "user-1", "https://shop.example.com/p/1", scraper.Options{Timeout: 20 * time.Millisecond})

	if result.Success {
		t.Error("Success = true, want false after timeout")
	}
	if result.Err == nil {
		t.Error("Err = nil, want timeout error")
	}
}

func TestClient_ScrapeBatch_ShortCircuit(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	// First check passes, every later one refuses: budget ran out after one
	// fetch.
	var checks atomic.Int32
	gate := &mockGate{
		canScrapeFunc: func(_ context.Context, _ string, _ int, _ time.Time) (bool, error) {
			return checks.Add(1) == 1, nil
		},
	}

	client := scraper.NewClient(testProviderConfig(server.URL), gate, logger.NewNop())
	targets := []string{
		"https://shop.example.com/p/1",
		"https://shop.example.com/p/2",
		"https://shop.example.com/p/3",
		"https://shop.example.com/p/4",
		"https://shop.example.com/p/5",
	}

	results := client.ScrapeBatch(t.Context(), "user-1", targets, scraper.Options{})

	if len(results) != len(targets) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(targets))
	}
	if !results[0].Success {
		t.Errorf("results[0].Success = false, Err = %v", results[0].Err)
	}
	for i := 1; i < len(results); i++ {
		if !results[i].Deferred || !results[i].BudgetExceeded {
			t.Errorf("results[%d] Deferred/BudgetExceeded = %v/%v, want true/true",
				i, results[i].Deferred, results[i].BudgetExceeded)
		}
	}
	if requestCount.Load() != 1 {
		t.Errorf("made %d network calls, want exactly 1", requestCount.Load())
	}
	// Only the second URL consults the ledger after exhaustion; the rest
	// short-circuit without any check.
	if checks.Load() != 2 {
		t.Errorf("budget checks = %d, want 2", checks.Load())
	}
}
