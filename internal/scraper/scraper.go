package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/affiliate-scraper/internal/browser"
	"github.com/maltedev/affiliate-scraper/internal/models"
)

// DefaultNavigationTimeout bounds a single navigation. Navigation returns
// as soon as the DOM is interactive.
const DefaultNavigationTimeout = 60 * time.Second

// Resolver maps a short link to the URL it redirects to.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) string
}

// PagePool hands out browser pages.
type PagePool interface {
	Acquire(ctx context.Context) (*browser.Session, error)
}

// Extractor reads a product from a navigated page.
type Extractor interface {
	Extract(ctx context.Context, page browser.Page) (*models.ScrapedProduct, error)
}

// Scraper runs one product scrape end to end: resolve the link, take a page
// from the pool, navigate, extract, and give the page back.
type Scraper struct {
	resolver   Resolver
	pool       PagePool
	extractor  Extractor
	navTimeout time.Duration
	logger     *slog.Logger
}

// New creates a Scraper with the default navigation timeout.
func New(resolver Resolver, pool PagePool, extractor Extractor, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		resolver:   resolver,
		pool:       pool,
		extractor:  extractor,
		navTimeout: DefaultNavigationTimeout,
		logger:     logger.With("component", "scraper"),
	}
}

// ScrapeProduct scrapes rawURL and returns nil on any failure. The failure
// is logged with the URL and elapsed time.
func (s *Scraper) ScrapeProduct(ctx context.Context, rawURL string) *models.ScrapedProduct {
	start := time.Now()

	product, err := s.Scrape(ctx, rawURL)
	if err != nil {
		s.logger.Error("scrape failed",
			"url", rawURL,
			"elapsed", time.Since(start),
			"error", err,
		)
		return nil
	}

	s.logger.Info("scrape finished",
		"url", rawURL,
		"resolved_url", product.ResolvedURL,
		"complete", product.IsComplete(),
		"elapsed", time.Since(start),
	)
	return product
}

// Scrape is ScrapeProduct with the error returned. The result always
// carries rawURL, not the resolved address. A panic in the browser driver
// or the extractor comes back as an error.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (product *models.ScrapedProduct, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scrape panicked", "url", rawURL, "panic", r)
			product = nil
			err = fmt.Errorf("scrape of %s panicked: %v", rawURL, r)
		}
	}()

	resolved := s.resolver.Resolve(ctx, rawURL)

	session, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire page: %w", err)
	}
	defer session.Release()

	if err := session.Goto(resolved, s.navTimeout); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", resolved, err)
	}

	product, err = s.extractor.Extract(ctx, session)
	if err != nil {
		return nil, err
	}

	product.URL = rawURL
	product.ResolvedURL = resolved
	return product, nil
}
