// Package worker drains the scrape job queue in the background. One worker
// claims due matching jobs, runs them through the matcher and records the
// terminal outcome. Claims use SKIP LOCKED on the store side, so several
// workers can share a queue.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/price-tracker/internal/config"
	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/logger"
	"github.com/jonesrussell/price-tracker/internal/matching"
	"github.com/jonesrussell/price-tracker/internal/telemetry"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultStaleAfter   = 15 * time.Minute

	// claimBatchSize caps jobs taken per cycle so one worker cannot hold a
	// large claim across a slow provider.
	claimBatchSize = 10
	// maxClaimAttempts bounds how often a crashed claim is retried before
	// the job is failed outright.
	maxClaimAttempts = 3
)

// JobStore is the queue surface the worker drives.
type JobStore interface {
	ClaimDue(ctx context.Context, jobType domain.JobType, limit int) ([]domain.ScrapeJob, error)
	MarkCompleted(ctx context.Context, id string, itemsProcessed int) error
	MarkFailed(ctx context.Context, id, errorMsg string) error
	MarkDeferred(ctx context.Context, id, reason string) error
	ResetStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error)
	GetStats(ctx context.Context) (*domain.QueueStats, error)
}

// Processor runs one claimed batch job.
type Processor interface {
	ProcessBatch(ctx context.Context, job *domain.ScrapeJob) (*matching.BatchResult, error)
}

// Worker polls the job queue and processes due matching batches.
type Worker struct {
	jobs      JobStore
	processor Processor
	metrics   *telemetry.Provider
	log       logger.Logger

	pollInterval time.Duration
	staleAfter   time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewWorker creates a worker. Metrics may be nil.
func NewWorker(cfg config.WorkerConfig, jobs JobStore, processor Processor, metrics *telemetry.Provider, log logger.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}

	return &Worker{
		jobs:         jobs,
		processor:    processor,
		metrics:      metrics,
		log:          log,
		pollInterval: cfg.PollInterval,
		staleAfter:   cfg.StaleAfter,
		stopChan:     make(chan struct{}),
	}
}

// Start begins the polling loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.log.Info("job worker started",
		logger.Duration("poll_interval", w.pollInterval),
		logger.Duration("stale_after", w.staleAfter))
}

// Stop gracefully stops the worker, waiting for the in-flight cycle.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	w.log.Info("job worker stopped")
}

// IsRunning reports whether Start has been called.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Process immediately on start.
	w.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce executes one drain cycle: recover stale claims, then claim and
// process due matching jobs.
func (w *Worker) RunOnce(ctx context.Context) {
	reset, err := w.jobs.ResetStale(ctx, w.staleAfter, maxClaimAttempts)
	if err != nil {
		w.log.Error("failed to reset stale jobs", logger.Error(err))
	} else if reset > 0 {
		w.log.Warn("recovered stale jobs", logger.Int64("reset", reset))
	}

	jobs, err := w.jobs.ClaimDue(ctx, domain.JobTypeMatching, claimBatchSize)
	if err != nil {
		w.log.Error("failed to claim due jobs", logger.Error(err))
		return
	}
	for i := range jobs {
		w.processJob(ctx, &jobs[i])
	}

	w.refreshQueueMetrics(ctx)
}

func (w *Worker) processJob(ctx context.Context, job *domain.ScrapeJob) {
	outcome := "completed"

	result, err := w.processor.ProcessBatch(ctx, job)
	switch {
	case err != nil:
		outcome = "failed"
		w.log.Error("matching job failed",
			logger.String("job_id", job.ID),
			logger.Int("batch_number", job.BatchNumber),
			logger.Error(err))
		if markErr := w.jobs.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			w.logMarkError(job.ID, outcome, markErr)
		}
	case result.Deferred:
		outcome = "deferred"
		w.log.Info("matching job deferred",
			logger.String("job_id", job.ID),
			logger.String("reason", result.Reason))
		if markErr := w.jobs.MarkDeferred(ctx, job.ID, result.Reason); markErr != nil {
			w.logMarkError(job.ID, outcome, markErr)
		}
	default:
		w.log.Info("matching job completed",
			logger.String("job_id", job.ID),
			logger.Int("batch_number", job.BatchNumber),
			logger.Int("items", result.ItemsProcessed),
			logger.Int("links_created", result.LinksCreated))
		if markErr := w.jobs.MarkCompleted(ctx, job.ID, result.ItemsProcessed); markErr != nil {
			w.logMarkError(job.ID, outcome, markErr)
		}
	}

	if w.metrics != nil {
		w.metrics.RecordJob(string(job.JobType), outcome)
	}
}

func (w *Worker) logMarkError(jobID, outcome string, err error) {
	w.log.Error("failed to persist job outcome",
		logger.String("job_id", jobID),
		logger.String("outcome", outcome),
		logger.Error(err))
}

func (w *Worker) refreshQueueMetrics(ctx context.Context) {
	if w.metrics == nil {
		return
	}

	stats, err := w.jobs.GetStats(ctx)
	if err != nil {
		w.log.Error("failed to read queue stats", logger.Error(err))
		return
	}
	w.metrics.SetQueueDepth("pending", stats.Pending)
	w.metrics.SetQueueDepth("in_progress", stats.InProgress)
	w.metrics.SetQueueDepth("due", stats.Due)
}
