package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamClient is the part of the Redis client the relay needs.
type StreamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxRepo is the outbox storage the relay reads from.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

// Relay moves outbox events to their Redis streams so dashboard consumers
// learn about new scrapes.
type Relay struct {
	redis     StreamClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// RelayConfig controls how often and how much the relay polls.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// NewRelay creates a relay over the outbox in db publishing to rdb.
func NewRelay(db *DB, rdb StreamClient, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		redis:     rdb,
		outbox:    NewOutboxRepository(db),
		logger:    logger.With("component", "relay"),
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
	}
}

// Run polls the outbox until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.processEvents(ctx); err != nil {
			r.logger.Error("failed to process events", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processEvents publishes one batch. A failing event is marked and does
// not stop the rest of the batch.
func (r *Relay) processEvents(ctx context.Context) error {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	r.logger.Debug("processing events", "count", len(events))

	for _, event := range events {
		if err := r.publish(ctx, event); err != nil {
			r.logger.Error("failed to publish event",
				"event_id", event.ID,
				"aggregate_id", event.AggregateID,
				"error", err)
			if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
				r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
			}
			continue
		}

		if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
			r.logger.Error("failed to mark event as processed", "event_id", event.ID, "error", err)
			continue
		}

		r.logger.Debug("event published",
			"event_id", event.ID,
			"event_type", event.EventType,
			"target_stream", event.TargetStream)
	}

	if len(events) == r.batchSize {
		r.logBacklog(ctx)
	}

	return nil
}

// logBacklog reports how many events are still waiting after a full batch.
func (r *Relay) logBacklog(ctx context.Context) {
	n, err := r.outbox.CountByStatus(ctx, OutboxStatusPending, OutboxStatusFailed)
	if err != nil {
		r.logger.Warn("failed to count outbox backlog", "error", err)
		return
	}
	r.logger.Info("outbox backlog", "waiting", n, "batch_size", r.batchSize)
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	if !json.Valid(event.Payload) {
		return fmt.Errorf("event %s has invalid payload", event.ID)
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]interface{}{
			"event_id":     event.ID.String(),
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID,
			"payload":      string(event.Payload),
			"timestamp":    strconv.FormatInt(event.CreatedAt.UnixMilli(), 10),
			"source":       "affiliate-scraper",
		},
	}

	if err := r.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}
