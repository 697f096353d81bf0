package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/price-tracker/internal/domain"
)

// jobSelectList is the column list for SELECT/RETURNING on scrape_jobs.
const jobSelectList = `id, user_id, store_id, competitor_store_id, job_type, status,
			batch_number, total_batches, scheduled_for, items_processed,
			items_total, retry_count, error_message, started_at, completed_at,
			created_at, updated_at`

// JobRepository manages the scrape job queue in PostgreSQL.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue inserts pending job rows. IDs are assigned here when absent.
func (r *JobRepository) Enqueue(ctx context.Context, jobs []*domain.ScrapeJob) error {
	query := `
		INSERT INTO scrape_jobs (
			id, user_id, store_id, competitor_store_id, job_type, status,
			batch_number, total_batches, scheduled_for, items_processed,
			items_total, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())`

	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		_, err := r.db.ExecContext(ctx, query,
			job.ID, job.UserID, job.StoreID, job.CompetitorStoreID,
			job.JobType, job.Status, job.BatchNumber, job.TotalBatches,
			job.ScheduledFor, job.ItemsProcessed, job.ItemsTotal,
		)
		if err != nil {
			return fmt.Errorf("enqueue job %d/%d: %w", job.BatchNumber, job.TotalBatches, err)
		}
	}
	return nil
}

// ClaimDue atomically claims due pending jobs of one type.
// Uses FOR UPDATE SKIP LOCKED for concurrent worker safety.
func (r *JobRepository) ClaimDue(ctx context.Context, jobType domain.JobType, limit int) ([]domain.ScrapeJob, error) {
	query := `
		UPDATE scrape_jobs
		SET status = 'in_progress', started_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM scrape_jobs
			WHERE status = 'pending'
			  AND job_type = $1
			  AND scheduled_for <= NOW()
			ORDER BY scheduled_for ASC, batch_number ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobSelectList

	rows, err := r.db.QueryxContext(ctx, query, jobType, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// GetByID retrieves a single job.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.ScrapeJob, error) {
	query := `SELECT ` + jobSelectList + ` FROM scrape_jobs WHERE id = $1`

	var j domain.ScrapeJob
	err := r.db.GetContext(ctx, &j, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// MarkCompleted finishes a job successfully.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, itemsProcessed int) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'completed',
		    items_processed = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, id, itemsProcessed); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

// MarkFailed finishes a job with an error. Failed is terminal; stale recovery
// is the only path that re-runs claimed work, and only before this point.
func (r *JobRepository) MarkFailed(ctx context.Context, id, errorMsg string) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'failed',
		    error_message = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, id, errorMsg); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// MarkDeferred finishes a job that could not run inside budget or rate
// limits. Deferred is terminal: the next scheduled batch picks the work up,
// nothing resurrects this row.
func (r *JobRepository) MarkDeferred(ctx context.Context, id, reason string) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'deferred',
		    error_message = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, id, reason); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark job deferred: %w", err)
	}
	return nil
}

// ResetStale returns crashed in_progress jobs to pending, up to maxAttempts
// claims per job; beyond that the job is failed outright.
func (r *JobRepository) ResetStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error) {
	failQuery := `
		UPDATE scrape_jobs
		SET status = 'failed',
		    error_message = 'stale: exceeded max claim attempts',
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE status = 'in_progress'
		  AND updated_at < NOW() - $1::interval
		  AND retry_count >= $2`

	if _, err := r.db.ExecContext(ctx, failQuery, olderThan.String(), maxAttempts); err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}

	resetQuery := `
		UPDATE scrape_jobs
		SET status = 'pending',
		    retry_count = retry_count + 1,
		    started_at = NULL,
		    updated_at = NOW()
		WHERE status = 'in_progress'
		  AND updated_at < NOW() - $1::interval
		  AND retry_count < $2`

	result, err := r.db.ExecContext(ctx, resetQuery, olderThan.String(), maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	return result.RowsAffected()
}

// CleanupTerminal removes old completed, failed and deferred rows.
func (r *JobRepository) CleanupTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM scrape_jobs
		WHERE status IN ('completed', 'failed', 'deferred')
		  AND completed_at < NOW() - $1::interval`

	result, err := r.db.ExecContext(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup terminal jobs: %w", err)
	}
	return result.RowsAffected()
}

// GetStats returns queue statistics.
func (r *JobRepository) GetStats(ctx context.Context) (*domain.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status = 'in_progress') as in_progress,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'failed') as failed,
			COUNT(*) FILTER (WHERE status = 'deferred') as deferred,
			COUNT(*) FILTER (WHERE status = 'pending' AND scheduled_for <= NOW()) as due
		FROM scrape_jobs`

	var stats domain.QueueStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Pending,
		&stats.InProgress,
		&stats.Completed,
		&stats.Failed,
		&stats.Deferred,
		&stats.Due,
	)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}

// execExpectOneRow runs an exec and returns domain.ErrNotFound when no row was affected.
func (r *JobRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("get affected rows: %w", rowsErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// initialJobCapacity is a reasonable default for batch claims.
const initialJobCapacity = 50

func scanJobs(rows *sqlx.Rows) ([]domain.ScrapeJob, error) {
	jobs := make([]domain.ScrapeJob, 0, initialJobCapacity)
	for rows.Next() {
		var j domain.ScrapeJob
		if err := rows.StructScan(&j); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
