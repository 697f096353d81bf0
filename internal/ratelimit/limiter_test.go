package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonesrussell/price-tracker/internal/config"
	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/logger"
	"github.com/jonesrussell/price-tracker/internal/ratelimit"
)

type mockRepository struct {
	getOrCreateFunc         func(ctx context.Context, userID string, day time.Time) (*domain.MatchingRateLimit, error)
	addHeavyMatchingFunc    func(ctx context.Context, userID string, day time.Time, n int) error
	addCompetitorStoresFunc func(ctx context.Context, userID string, day time.Time, n int) error
	addURLsFunc             func(ctx context.Context, userID string, day time.Time, n int) error
}

func (m *mockRepository) GetOrCreate(ctx context.Context, userID string, day time.Time) (*domain.MatchingRateLimit, error) {
	if m.getOrCreateFunc != nil {
		return m.getOrCreateFunc(ctx, userID, day)
	}
	return &domain.MatchingRateLimit{UserID: userID, Day: day}, nil
}

func (m *mockRepository) AddHeavyMatching(ctx context.Context, userID string, day time.Time, n int) error {
	if m.addHeavyMatchingFunc != nil {
		return m.addHeavyMatchingFunc(ctx, userID, day, n)
	}
	return nil
}

func (m *mockRepository) AddCompetitorStores(ctx context.Context, userID string, day time.Time, n int) error {
	if m.addCompetitorStoresFunc != nil {
		return m.addCompetitorStoresFunc(ctx, userID, day, n)
	}
	return nil
}

func (m *mockRepository) AddURLs(ctx context.Context, userID string, day time.Time, n int) error {
	if m.addURLsFunc != nil {
		return m.addURLsFunc(ctx, userID, day, n)
	}
	return nil
}

func testRateLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		HeavyMatchingPerDay:    5,
		CompetitorStoresPerDay: 3,
		URLsPerDay:             100,
	}
}

func recordWith(heavy, stores, urls int) func(ctx context.Context, userID string, day time.Time) (*domain.MatchingRateLimit, error) {
	return func(_ context.Context, userID string, day time.Time) (*domain.MatchingRateLimit, error) {
		return &domain.MatchingRateLimit{
			UserID:                userID,
			Day:                   day,
			HeavyMatchingCount:    heavy,
			CompetitorStoresAdded: stores,
			URLsAdded:             urls,
		}, nil
	}
}

func TestLimiter_CanRunHeavyMatching(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	testCases := []struct {
		name string
		used int
		want bool
	}{
		{name: "unused", used: 0, want: true},
		{name: "one below cap", used: 4, want: true},
		{name: "at cap", used: 5, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockRepository{getOrCreateFunc: recordWith(tc.used, 0, 0)}
			limiter := ratelimit.NewLimiter(repo, testRateLimitConfig(), logger.NewNop())

			got, err := limiter.CanRunHeavyMatching(t.Context(), "user-1", now)
			if err != nil {
				t.Fatalf("CanRunHeavyMatching() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("CanRunHeavyMatching(used=%d) = %v, want %v", tc.used, got, tc.want)
			}
		})
	}
}

func TestLimiter_CanAddCompetitorStore(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	repo := &mockRepository{getOrCreateFunc: recordWith(0, 3, 0)}
	limiter := ratelimit.NewLimiter(repo, testRateLimitConfig(), logger.NewNop())

	got, err := limiter.CanAddCompetitorStore(t.Context(), "user-1", now)
	if err != nil {
		t.Fatalf("CanAddCompetitorStore() error = %v", err)
	}
	if got {
		t.Error("CanAddCompetitorStore() = true at the daily cap, want false")
	}
}

func TestLimiter_CanAddURLsReportsRemaining(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	testCases := []struct {
		name          string
		used          int
		count         int
		wantAllowed   bool
		wantRemaining int
	}{
		{name: "fits", used: 90, count: 10, wantAllowed: true, wantRemaining: 10},
		{name: "overflows", used: 95, count: 10, wantAllowed: false, wantRemaining: 5},
		{name: "cap reached", used: 100, count: 1, wantAllowed: false, wantRemaining: 0},
		{name: "over cap clamps to zero", used: 120, count: 1, wantAllowed: false, wantRemaining: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockRepository{getOrCreateFunc: recordWith(0, 0, tc.used)}
			limiter := ratelimit.NewLimiter(repo, testRateLimitConfig(), logger.NewNop())

			allowed, remaining, err := limiter.CanAddURLs(t.Context(), "user-1", tc.count, now)
			if err != nil {
				t.Fatalf("CanAddURLs() error = %v", err)
			}
			if allowed != tc.wantAllowed {
				t.Errorf("allowed = %v, want %v", allowed, tc.wantAllowed)
			}
			if remaining != tc.wantRemaining {
				t.Errorf("remaining = %d, want %d", remaining, tc.wantRemaining)
			}
		})
	}
}

func TestLimiter_ChecksNeverMutate(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	repo := &mockRepository{
		addHeavyMatchingFunc: func(_ context.Context, _ string, _ time.Time, _ int) error {
			t.Error("a pure check must not increment counters")
			return nil
		},
		addCompetitorStoresFunc: func(_ context.Context, _ string, _ time.Time, _ int) error {
			t.Error("a pure check must not increment counters")
			return nil
		},
		addURLsFunc: func(_ context.Context, _ string, _ time.Time, _ int) error {
			t.Error("a pure check must not increment counters")
			return nil
		},
	}
	limiter := ratelimit.NewLimiter(repo, testRateLimitConfig(), logger.NewNop())

	if _, err := limiter.CanRunHeavyMatching(t.Context(), "user-1", now); err != nil {
		t.Fatalf("CanRunHeavyMatching() error = %v", err)
	}
	if _, err := limiter.CanAddCompetitorStore(t.Context(), "user-1", now); err != nil {
		t.Fatalf("CanAddCompetitorStore() error = %v", err)
	}
	if _, _, err := limiter.CanAddURLs(t.Context(), "user-1", 5, now); err != nil {
		t.Fatalf("CanAddURLs() error = %v", err)
	}
	if _, err := limiter.Status(t.Context(), "user-1", now); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
}

func TestLimiter_AddEnsuresRowForTheDay(t *testing.T) {
	now := time.Date(2025, 6, 10, 23, 59, 0, 0, time.UTC)
	wantDay := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	var calls []string
	repo := &mockRepository{
		getOrCreateFunc: func(_ context.Context, userID string, day time.Time) (*domain.MatchingRateLimit, error) {
			calls = append(calls, "get_or_create")
			if !day.Equal(wantDay) {
				t.Errorf("GetOrCreate day = %v, want %v", day, wantDay)
			}
			return &domain.MatchingRateLimit{UserID: userID, Day: day}, nil
		},
		addHeavyMatchingFunc: func(_ context.Context, _ string, day time.Time, n int) error {
			calls = append(calls, "add")
			if !day.Equal(wantDay) {
				t.Errorf("AddHeavyMatching day = %v, want %v", day, wantDay)
			}
			if n != 1 {
				t.Errorf("AddHeavyMatching n = %d, want 1", n)
			}
			return nil
		},
	}

	limiter := ratelimit.NewLimiter(repo, testRateLimitConfig(), logger.NewNop())
	if err := limiter.AddHeavyMatching(t.Context(), "user-1", now); err != nil {
		t.Fatalf("AddHeavyMatching() error = %v", err)
	}

	if len(calls) != 2 || calls[0] != "get_or_create" || calls[1] != "add" {
		t.Errorf("call order = %v, want [get_or_create add]", calls)
	}
}

func TestLimiter_AddURLsSkipsNonPositiveCount(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	repo := &mockRepository{
		addURLsFunc: func(_ context.Context, _ string, _ time.Time, _ int) error {
			t.Error("AddURLs should not reach the store for a non-positive count")
			return nil
		},
	}
	limiter := ratelimit.NewLimiter(repo, testRateLimitConfig(), logger.NewNop())

	if err := limiter.AddURLs(t.Context(), "user-1", 0, now); err != nil {
		t.Fatalf("AddURLs(0) error = %v", err)
	}
}

func TestLimiter_PropagatesStoreErrors(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	storeErr := errors.New("connection refused")

	repo := &mockRepository{
		getOrCreateFunc: func(_ context.Context, _ string, _ time.Time) (*domain.MatchingRateLimit, error) {
			return nil, storeErr
		},
	}
	limiter := ratelimit.NewLimiter(repo, testRateLimitConfig(), logger.NewNop())

	if _, err := limiter.CanRunHeavyMatching(t.Context(), "user-1", now); !errors.Is(err, storeErr) {
		t.Errorf("CanRunHeavyMatching() error = %v, want wrapped %v", err, storeErr)
	}
	if err := limiter.AddHeavyMatching(t.Context(), "user-1", now); !errors.Is(err, storeErr) {
		t.Errorf("AddHeavyMatching() error = %v, want wrapped %v", err, storeErr)
	}
}
