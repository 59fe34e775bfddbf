package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the number of failed publishes after which an event
	// is parked as dead letter.
	MaxRetryCount = 5

	maxRetryBackoff = 5 * time.Minute
)

// OutboxEvent is a scrape event waiting to be published to a Redis stream.
type OutboxEvent struct {
	ID           uuid.UUID
	AggregateID  string
	EventType    string
	Payload      json.RawMessage
	TargetStream string
	Status       string
	RetryCount   int
	ErrorMessage *string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	NextRetryAt  time.Time
}

// OutboxRepository handles outbox event operations.
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository creates a new outbox repository.
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx adds event to the outbox as part of tx, filling defaults.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = ScrapeStream
	}
	event.CreatedAt = time.Now()
	if event.NextRetryAt.IsZero() {
		event.NextRetryAt = event.CreatedAt
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO scrape_outbox (
			id, aggregate_id, event_type, payload, target_stream,
			status, retry_count, created_at, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.AggregateID, event.EventType, event.Payload, event.TargetStream,
		event.Status, event.RetryCount, event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// GetPending returns events due for (re)publishing, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, aggregate_id, event_type, payload, target_stream,
			status, retry_count, error_message, created_at, processed_at, next_retry_at
		FROM scrape_outbox
		WHERE status IN ($1, $2) AND next_retry_at <= $3
		ORDER BY created_at ASC
		LIMIT $4`,
		OutboxStatusPending, OutboxStatusFailed, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		e := &OutboxEvent{}
		if err := rows.Scan(
			&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.TargetStream,
			&e.Status, &e.RetryCount, &e.ErrorMessage, &e.CreatedAt, &e.ProcessedAt, &e.NextRetryAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

// MarkProcessed marks an event as successfully published.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE scrape_outbox SET status = $1, processed_at = $2 WHERE id = $3`,
		OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event not found: %s", id)
	}
	return nil
}

// MarkFailed records a failed publish and schedules the next attempt with
// exponential backoff. After MaxRetryCount failures the event is parked.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, publishErr error) error {
	var retries int
	if err := r.db.pool.QueryRow(ctx,
		`SELECT retry_count FROM scrape_outbox WHERE id = $1`, id).Scan(&retries); err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}
	retries++

	status := OutboxStatusFailed
	if retries >= MaxRetryCount {
		status = OutboxStatusDeadLetter
	}

	_, err := r.db.pool.Exec(ctx, `
		UPDATE scrape_outbox
		SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
		WHERE id = $5`,
		status, retries, publishErr.Error(), time.Now().Add(retryBackoff(retries)), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// CountByStatus counts events in any of the given statuses.
func (r *OutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	var n int64
	if err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scrape_outbox WHERE status = ANY($1)`, statuses).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return n, nil
}

// retryBackoff doubles from one second and caps at five minutes.
func retryBackoff(retries int) time.Duration {
	if retries > 9 {
		return maxRetryBackoff
	}
	d := time.Duration(1<<retries) * time.Second
	if d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}
