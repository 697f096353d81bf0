package domain

import (
	"fmt"
	"time"
)

// JobType identifies what a scrape job does.
type JobType string

const (
	JobTypeTracking   JobType = "tracking"
	JobTypeQuickStart JobType = "quick_start_matching"
	JobTypeMatching   JobType = "matching"
)

// JobStatus represents the state of a scrape job.
// pending and in_progress are transient; the other three are terminal and
// final, no job is resurrected out of them automatically.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDeferred   JobStatus = "deferred"
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusDeferred
}

// ScrapeJob is one queued unit of matching or tracking work. Batch jobs are
// spread over time through scheduled_for rather than in-process timers, so
// the dispatcher decides when a row becomes claimable.
type ScrapeJob struct {
	ID                string     `db:"id"                  json:"id"`
	UserID            string     `db:"user_id"             json:"user_id"`
	StoreID           string     `db:"store_id"            json:"store_id"`
	CompetitorStoreID string     `db:"competitor_store_id" json:"competitor_store_id"`
	JobType           JobType    `db:"job_type"            json:"job_type"`
	Status            JobStatus  `db:"status"              json:"status"`
	BatchNumber       int        `db:"batch_number"        json:"batch_number"`
	TotalBatches      int        `db:"total_batches"       json:"total_batches"`
	ScheduledFor      time.Time  `db:"scheduled_for"       json:"scheduled_for"`
	ItemsProcessed    int        `db:"items_processed"     json:"items_processed"`
	ItemsTotal        int        `db:"items_total"         json:"items_total"`
	RetryCount        int        `db:"retry_count"         json:"retry_count"`
	ErrorMessage      *string    `db:"error_message"       json:"error_message,omitempty"`
	StartedAt         *time.Time `db:"started_at"          json:"started_at,omitempty"`
	CompletedAt       *time.Time `db:"completed_at"        json:"completed_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"          json:"updated_at"`
}

// NewMatchingJob creates one batch-matching job row.
// batchNumber is 1-based; scheduledFor controls when the worker may claim it.
func NewMatchingJob(userID, storeID, competitorStoreID string, batchNumber, totalBatches, itemsTotal int, scheduledFor time.Time) (*ScrapeJob, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidJob)
	}
	if competitorStoreID == "" {
		return nil, fmt.Errorf("%w: competitor_store_id is required", ErrInvalidJob)
	}
	if batchNumber < 1 || totalBatches < batchNumber {
		return nil, fmt.Errorf("%w: batch %d of %d", ErrInvalidJob, batchNumber, totalBatches)
	}

	now := time.Now().UTC()
	return &ScrapeJob{
		UserID:            userID,
		StoreID:           storeID,
		CompetitorStoreID: competitorStoreID,
		JobType:           JobTypeMatching,
		Status:            JobStatusPending,
		BatchNumber:       batchNumber,
		TotalBatches:      totalBatches,
		ScheduledFor:      scheduledFor,
		ItemsTotal:        itemsTotal,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// QueueStats holds job-queue counts for monitoring.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"in_progress"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Deferred   int64 `json:"deferred"`
	Due        int64 `json:"due"`
}
