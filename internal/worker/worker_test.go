package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonesrussell/price-tracker/internal/config"
	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/logger"
	"github.com/jonesrussell/price-tracker/internal/matching"
	"github.com/jonesrussell/price-tracker/internal/worker"
)

type markedJob struct {
	id     string
	items  int
	detail string
}

type mockJobStore struct {
	claimDueFunc   func(ctx context.Context, jobType domain.JobType, limit int) ([]domain.ScrapeJob, error)
	resetStaleFunc func(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error)
	getStatsFunc   func(ctx context.Context) (*domain.QueueStats, error)

	calls     []string
	completed []markedJob
	failed    []markedJob
	deferred  []markedJob
}

func (m *mockJobStore) ClaimDue(ctx context.Context, jobType domain.JobType, limit int) ([]domain.ScrapeJob, error) {
	m.calls = append(m.calls, "claim_due")
	if m.claimDueFunc != nil {
		return m.claimDueFunc(ctx, jobType, limit)
	}
	return nil, nil
}

func (m *mockJobStore) MarkCompleted(_ context.Context, id string, itemsProcessed int) error {
	m.completed = append(m.completed, markedJob{id: id, items: itemsProcessed})
	return nil
}

func (m *mockJobStore) MarkFailed(_ context.Context, id, errorMsg string) error {
	m.failed = append(m.failed, markedJob{id: id, detail: errorMsg})
	return nil
}

func (m *mockJobStore) MarkDeferred(_ context.Context, id, reason string) error {
	m.deferred = append(m.deferred, markedJob{id: id, detail: reason})
	return nil
}

func (m *mockJobStore) ResetStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error) {
	m.calls = append(m.calls, "reset_stale")
	if m.resetStaleFunc != nil {
		return m.resetStaleFunc(ctx, olderThan, maxAttempts)
	}
	return 0, nil
}

func (m *mockJobStore) GetStats(ctx context.Context) (*domain.QueueStats, error) {
	if m.getStatsFunc != nil {
		return m.getStatsFunc(ctx)
	}
	return &domain.QueueStats{}, nil
}

type mockProcessor struct {
	processBatchFunc func(ctx context.Context, job *domain.ScrapeJob) (*matching.BatchResult, error)
	jobs             []string
}

func (m *mockProcessor) ProcessBatch(ctx context.Context, job *domain.ScrapeJob) (*matching.BatchResult, error) {
	m.jobs = append(m.jobs, job.ID)
	if m.processBatchFunc != nil {
		return m.processBatchFunc(ctx, job)
	}
	return &matching.BatchResult{}, nil
}

func workerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		PollInterval: time.Minute,
		StaleAfter:   15 * time.Minute,
	}
}

func claimedJob(id string) domain.ScrapeJob {
	return domain.ScrapeJob{
		ID:                id,
		UserID:            "user-1",
		StoreID:           "store-1",
		CompetitorStoreID: "comp-1",
		JobType:           domain.JobTypeMatching,
		Status:            domain.JobStatusInProgress,
		BatchNumber:       1,
		TotalBatches:      1,
	}
}

func newTestWorker(jobs *mockJobStore, processor *mockProcessor) *worker.Worker {
	return worker.NewWorker(workerConfig(), jobs, processor, nil, logger.NewNop())
}

func TestWorker_RunOnce_CompletesJob(t *testing.T) {
	jobs := &mockJobStore{
		claimDueFunc: func(_ context.Context, jobType domain.JobType, limit int) ([]domain.ScrapeJob, error) {
			if jobType != domain.JobTypeMatching {
				t.Errorf("claimed job type %s, want %s", jobType, domain.JobTypeMatching)
			}
			if limit <= 0 {
				t.Errorf("claim limit = %d, want positive", limit)
			}
			return []domain.ScrapeJob{claimedJob("job-1")}, nil
		},
	}
	processor := &mockProcessor{
		processBatchFunc: func(context.Context, *domain.ScrapeJob) (*matching.BatchResult, error) {
			return &matching.BatchResult{ItemsProcessed: 5, LinksCreated: 2}, nil
		},
	}

	newTestWorker(jobs, processor).RunOnce(t.Context())

	if len(jobs.completed) != 1 {
		t.Fatalf("completed = %d, want 1", len(jobs.completed))
	}
	if jobs.completed[0].id != "job-1" || jobs.completed[0].items != 5 {
		t.Errorf("completed = %+v, want job-1 with 5 items", jobs.completed[0])
	}
	if len(jobs.failed) != 0 || len(jobs.deferred) != 0 {
		t.Errorf("failed/deferred = %d/%d, want 0/0", len(jobs.failed), len(jobs.deferred))
	}
}

func TestWorker_RunOnce_DefersJob(t *testing.T) {
	jobs := &mockJobStore{
		claimDueFunc: func(context.Context, domain.JobType, int) ([]domain.ScrapeJob, error) {
			return []domain.ScrapeJob{claimedJob("job-1")}, nil
		},
	}
	processor := &mockProcessor{
		processBatchFunc: func(context.Context, *domain.ScrapeJob) (*matching.BatchResult, error) {
			return &matching.BatchResult{Deferred: true, Reason: "scrape budget exhausted"}, nil
		},
	}

	newTestWorker(jobs, processor).RunOnce(t.Context())

	if len(jobs.deferred) != 1 {
		t.Fatalf("deferred = %d, want 1", len(jobs.deferred))
	}
	if jobs.deferred[0].detail != "scrape budget exhausted" {
		t.Errorf("deferral reason = %q, want %q", jobs.deferred[0].detail, "scrape budget exhausted")
	}
	if len(jobs.failed) != 0 {
		t.Errorf("failed = %d, want 0; a deferral is not a failure", len(jobs.failed))
	}
}

func TestWorker_RunOnce_FailsJob(t *testing.T) {
	jobs := &mockJobStore{
		claimDueFunc: func(context.Context, domain.JobType, int) ([]domain.ScrapeJob, error) {
			return []domain.ScrapeJob{claimedJob("job-1")}, nil
		},
	}
	processor := &mockProcessor{
		processBatchFunc: func(context.Context, *domain.ScrapeJob) (*matching.BatchResult, error) {
			return nil, errors.New("scrape listing: provider returned 502")
		},
	}

	newTestWorker(jobs, processor).RunOnce(t.Context())

	if len(jobs.failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(jobs.failed))
	}
	if jobs.failed[0].detail != "scrape listing: provider returned 502" {
		t.Errorf("error message = %q, want the processor error", jobs.failed[0].detail)
	}
}

func TestWorker_RunOnce_RecoversStaleClaimsFirst(t *testing.T) {
	var gotOlderThan time.Duration
	jobs := &mockJobStore{
		resetStaleFunc: func(_ context.Context, olderThan time.Duration, maxAttempts int) (int64, error) {
			gotOlderThan = olderThan
			if maxAttempts <= 0 {
				t.Errorf("maxAttempts = %d, want positive", maxAttempts)
			}
			return 2, nil
		},
	}
	processor := &mockProcessor{}

	newTestWorker(jobs, processor).RunOnce(t.Context())

	if len(jobs.calls) < 2 || jobs.calls[0] != "reset_stale" || jobs.calls[1] != "claim_due" {
		t.Errorf("call order = %v, want stale recovery before claiming", jobs.calls)
	}
	if gotOlderThan != 15*time.Minute {
		t.Errorf("olderThan = %v, want the configured stale window", gotOlderThan)
	}
}

func TestWorker_RunOnce_ClaimErrorEndsCycle(t *testing.T) {
	jobs := &mockJobStore{
		claimDueFunc: func(context.Context, domain.JobType, int) ([]domain.ScrapeJob, error) {
			return nil, errors.New("connection refused")
		},
	}
	processor := &mockProcessor{}

	newTestWorker(jobs, processor).RunOnce(t.Context())

	if len(processor.jobs) != 0 {
		t.Errorf("processed = %d, want 0 when claiming fails", len(processor.jobs))
	}
}

func TestWorker_StartStop(t *testing.T) {
	processed := make(chan struct{}, 1)
	jobs := &mockJobStore{
		claimDueFunc: func(context.Context, domain.JobType, int) ([]domain.ScrapeJob, error) {
			select {
			case processed <- struct{}{}:
			default:
			}
			return nil, nil
		},
	}
	w := worker.NewWorker(config.WorkerConfig{
		PollInterval: 10 * time.Millisecond,
		StaleAfter:   time.Minute,
	}, jobs, &mockProcessor{}, nil, logger.NewNop())

	w.Start(t.Context())
	defer w.Stop()

	if !w.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never polled the queue")
	}

	// A second Start is a no-op rather than a second loop.
	w.Start(t.Context())
}
