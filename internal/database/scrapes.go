package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/affiliate-scraper/internal/models"
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100

	EventProductScraped = "PRODUCT_SCRAPED"
	ScrapeStream        = "stream:product_scrapes"
)

// ScrapeRecord is one row of scrape history.
type ScrapeRecord struct {
	ID          uuid.UUID `json:"id"`
	SourceURL   string    `json:"source_url"`
	ResolvedURL string    `json:"resolved_url"`
	Title       string    `json:"title"`
	Price       string    `json:"price"`
	Image       string    `json:"image"`
	Partial     bool      `json:"partial"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// ScrapeRepository stores the scrape history.
type ScrapeRepository struct {
	db     *DB
	outbox *OutboxRepository
}

// NewScrapeRepository creates a new scrape repository.
func NewScrapeRepository(db *DB) *ScrapeRepository {
	return &ScrapeRepository{
		db:     db,
		outbox: NewOutboxRepository(db),
	}
}

// Save records a scrape and queues a PRODUCT_SCRAPED event in the same
// transaction.
func (r *ScrapeRepository) Save(ctx context.Context, product *models.ScrapedProduct) error {
	rec := recordFromProduct(product)

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal scrape event: %w", err)
	}

	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO product_scrapes (id, source_url, resolved_url, title, price, image, partial, scraped_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.ID, rec.SourceURL, rec.ResolvedURL, rec.Title, rec.Price, rec.Image, rec.Partial, rec.ScrapedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert scrape: %w", err)
		}

		return r.outbox.InsertWithTx(ctx, tx, &OutboxEvent{
			AggregateID:  rec.ID.String(),
			EventType:    EventProductScraped,
			Payload:      payload,
			TargetStream: ScrapeStream,
		})
	})
}

// Recent returns the newest scrapes first. limit is clamped to
// [1, MaxRecentLimit]; zero or less means DefaultRecentLimit.
func (r *ScrapeRepository) Recent(ctx context.Context, limit int) ([]*ScrapeRecord, error) {
	limit = ClampLimit(limit)

	rows, err := r.db.pool.Query(ctx, `
		SELECT id, source_url, resolved_url, title, price, image, partial, scraped_at
		FROM product_scrapes
		ORDER BY scraped_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scrapes: %w", err)
	}
	defer rows.Close()

	records := make([]*ScrapeRecord, 0, limit)
	for rows.Next() {
		rec := &ScrapeRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.SourceURL, &rec.ResolvedURL, &rec.Title,
			&rec.Price, &rec.Image, &rec.Partial, &rec.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scrape: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// ClampLimit maps a requested page size onto 1..MaxRecentLimit, using
// DefaultRecentLimit for zero or negative values.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}

func recordFromProduct(p *models.ScrapedProduct) *ScrapeRecord {
	scrapedAt := p.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}
	resolved := p.ResolvedURL
	if resolved == "" {
		resolved = p.URL
	}
	return &ScrapeRecord{
		ID:          uuid.New(),
		SourceURL:   p.URL,
		ResolvedURL: resolved,
		Title:       p.Title,
		Price:       p.Price,
		Image:       p.Image,
		Partial:     !p.IsComplete(),
		ScrapedAt:   scrapedAt.UTC(),
	}
}
