// Package events publishes tracking lifecycle events to Redis Streams.
// Downstream consumers (notifiers, analytics) read the stream; the tracker
// itself never does.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/price-tracker/internal/logger"
)

// asyncPublishTimeout is the context timeout for async publish operations.
const asyncPublishTimeout = 5 * time.Second

// EventType represents the type of tracking event.
type EventType string

const (
	// PriceChanged indicates a tracked competitor price moved.
	PriceChanged EventType = "PRICE_CHANGED"
	// MatchCreated indicates a matcher linked a local product to a competitor page.
	MatchCreated EventType = "MATCH_CREATED"
	// BudgetExhausted indicates a user's scrape budget ran out mid-pass.
	BudgetExhausted EventType = "BUDGET_EXHAUSTED"
)

// Event is the envelope for all tracking events.
type Event struct {
	EventID   uuid.UUID `json:"event_id"`
	EventType EventType `json:"event_type"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// PriceChangedPayload contains data for PRICE_CHANGED events.
type PriceChangedPayload struct {
	LinkID            string   `json:"link_id"`
	ProductID         string   `json:"product_id"`
	CompetitorStoreID string   `json:"competitor_store_id"`
	PreviousPrice     *float64 `json:"previous_price,omitempty"`
	NewPrice          float64  `json:"new_price"`
	Currency          string   `json:"currency"`
	Available         bool     `json:"available"`
}

// MatchCreatedPayload contains data for MATCH_CREATED events.
type MatchCreatedPayload struct {
	LinkID            string `json:"link_id"`
	ProductID         string `json:"product_id"`
	CompetitorStoreID string `json:"competitor_store_id"`
	URL               string `json:"url"`
	Score             int    `json:"score"`
}

// BudgetExhaustedPayload contains data for BUDGET_EXHAUSTED events.
type BudgetExhaustedPayload struct {
	DailyUsed    int `json:"daily_used"`
	DailyLimit   int `json:"daily_limit"`
	MonthlyUsed  int `json:"monthly_used"`
	MonthlyLimit int `json:"monthly_limit"`
}

// Publisher publishes tracking events to a capped Redis stream.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
	log    logger.Logger
}

// NewPublisher creates a new event publisher.
// Returns nil if client is nil; a nil Publisher is a safe no-op.
func NewPublisher(client *redis.Client, stream string, maxLen int64, log logger.Logger) *Publisher {
	if client == nil {
		return nil
	}
	return &Publisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		log:    log,
	}
}

// Publish sends an event to the Redis stream.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.client == nil {
		return nil // No-op if publisher not configured
	}

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"event": string(payload),
		},
	})

	if publishErr := result.Err(); publishErr != nil {
		if p.log != nil {
			p.log.Error("Failed to publish event",
				logger.String("event_type", string(event.EventType)),
				logger.String("user_id", event.UserID),
				logger.Error(publishErr),
			)
		}
		return fmt.Errorf("publish to stream: %w", publishErr)
	}

	if p.log != nil {
		p.log.Debug("Published tracking event",
			logger.String("event_type", string(event.EventType)),
			logger.String("user_id", event.UserID),
			logger.String("stream_id", result.Val()),
		)
	}

	return nil
}

// PublishAsync publishes an event asynchronously.
// Errors are logged but not returned.
func (p *Publisher) PublishAsync(event Event) {
	if p == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		defer cancel()

		if err := p.Publish(ctx, event); err != nil && p.log != nil {
			p.log.Error("Async publish failed",
				logger.String("event_type", string(event.EventType)),
				logger.String("user_id", event.UserID),
				logger.Error(err),
			)
		}
	}()
}
