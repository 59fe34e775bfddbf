package scraper

import (
	"context"
	"log/slog"

	"github.com/maltedev/affiliate-scraper/internal/models"
)

// ProductScraper is the orchestrator as seen by the service.
type ProductScraper interface {
	ScrapeProduct(ctx context.Context, rawURL string) *models.ScrapedProduct
}

// ProductCache stores scraped products by requested URL.
type ProductCache interface {
	Get(ctx context.Context, rawURL string) (*models.ScrapedProduct, bool, error)
	Set(ctx context.Context, product *models.ScrapedProduct) error
}

// HistoryStore records every successful scrape.
type HistoryStore interface {
	Save(ctx context.Context, product *models.ScrapedProduct) error
}

// Service puts the result cache and scrape history around a ProductScraper.
// Cache and history are optional; their failures are logged and never fail
// the request.
type Service struct {
	scraper ProductScraper
	cache   ProductCache
	history HistoryStore
	logger  *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache enables the result cache.
func WithCache(c ProductCache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithHistory enables scrape history.
func WithHistory(h HistoryStore) ServiceOption {
	return func(s *Service) { s.history = h }
}

// NewService creates a new scrape service.
func NewService(scraper ProductScraper, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		scraper: scraper,
		logger:  logger.With("component", "scrape_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape returns a cached result when one exists, otherwise scrapes.
// models.ErrScrapeFailed is returned when the scraper produced nothing.
func (s *Service) Scrape(ctx context.Context, rawURL string) (*models.ScrapedProduct, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, rawURL)
		switch {
		case err != nil:
			s.logger.Warn("cache lookup failed", "url", rawURL, "error", err)
		case ok:
			s.logger.Debug("cache hit", "url", rawURL)
			return cached, nil
		}
	}

	product := s.scraper.ScrapeProduct(ctx, rawURL)
	if product == nil {
		return nil, models.ErrScrapeFailed
	}

	if s.history != nil {
		if err := s.history.Save(ctx, product); err != nil {
			s.logger.Warn("failed to save scrape history", "url", rawURL, "error", err)
		}
	}

	// Partial results are re-scraped next time.
	if s.cache != nil && product.IsComplete() && product.Debug == nil {
		if err := s.cache.Set(ctx, product); err != nil {
			s.logger.Warn("failed to cache product", "url", rawURL, "error", err)
		}
	}

	return product, nil
}
