package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/affiliate-scraper/internal/browser"
	"github.com/maltedev/affiliate-scraper/internal/models"
)

// DefaultInterstitialMarkers are the localized "continue shopping" phrases
// Amazon shows on its pre-product interstitial.
var DefaultInterstitialMarkers = []string{
	"Continue shopping",
	"Weiter shoppen",
	"Continuar comprando",
	"Continuer les achats",
}

const (
	DefaultBypassSelector = `button.a-button-text[type="submit"]`
	ProductTitleSelector  = "#productTitle"
)

// Options holds the extractor timeouts and bypass settings.
type Options struct {
	LoadTimeout         time.Duration
	BypassClickTimeout  time.Duration
	BypassWaitTimeout   time.Duration
	InterstitialMarkers []string
	BypassSelector      string
	DebugTextLimit      int
}

// DefaultOptions returns the timeouts used in production.
func DefaultOptions() *Options {
	return &Options{
		LoadTimeout:         15 * time.Second,
		BypassClickTimeout:  5 * time.Second,
		BypassWaitTimeout:   15 * time.Second,
		InterstitialMarkers: DefaultInterstitialMarkers,
		BypassSelector:      DefaultBypassSelector,
		DebugTextLimit:      500,
	}
}

// Extractor reads product fields from a loaded page.
type Extractor struct {
	opts   *Options
	title  Chain
	price  Chain
	image  Chain
	logger *slog.Logger
}

// New creates an Extractor. A nil opts uses DefaultOptions.
func New(opts *Options, logger *slog.Logger) *Extractor {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Extractor{
		opts:   opts,
		title:  TitleRules,
		price:  PriceRules,
		image:  ImageRules,
		logger: logger.With("component", "extractor"),
	}
}

// Extract reads the product fields from a page that has already been
// navigated. A page that never gets past the bot interstitial yields
// models.ErrBotDetection. Missing fields are not errors: they come back as
// sentinel values with debug info attached.
func (e *Extractor) Extract(ctx context.Context, page browser.Page) (*models.ScrapedProduct, error) {
	if err := page.WaitForLoad(e.opts.LoadTimeout); err != nil {
		return nil, fmt.Errorf("page did not reach DOM ready: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if text := bodyText(page); e.isInterstitial(text) {
		if err := e.bypass(page); err != nil {
			return nil, err
		}
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page content: %w", err)
	}

	product := models.NewScrapedProduct(page.URL())

	if v, i := e.title.First(doc); i >= 0 {
		product.Title = v
	}
	if v, i := e.price.First(doc); i >= 0 {
		product.Price = v
		e.logger.Debug("price matched", "rule", i, "selector", e.price[i].Selector)
	}
	if v, i := e.image.First(doc); i >= 0 {
		product.Image = v
	}

	if !product.IsComplete() {
		product.Debug = e.debugInfo(page)
		e.logger.Warn("incomplete extraction",
			"url", page.URL(),
			"missing", product.MissingFields(),
			"page_title", product.Debug.PageTitle,
		)
	}

	return product, nil
}

func (e *Extractor) isInterstitial(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range e.opts.InterstitialMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// bypass clicks through the interstitial and waits for the product page.
// A failed click is not fatal since the page may already be moving on;
// only the missing product title is.
func (e *Extractor) bypass(page browser.Page) error {
	e.logger.Info("bot interstitial detected", "url", page.URL())

	if err := page.Click(e.opts.BypassSelector, e.opts.BypassClickTimeout); err != nil {
		e.logger.Debug("bypass click failed", "selector", e.opts.BypassSelector, "error", err)
	}

	start := time.Now()
	if err := page.WaitForSelector(ProductTitleSelector, e.opts.BypassWaitTimeout); err != nil {
		e.logger.Warn("product page did not load after bypass",
			"url", page.URL(),
			"elapsed", time.Since(start),
			"error", err,
		)
		return models.ErrBotDetection
	}

	e.logger.Info("interstitial bypassed", "url", page.URL(), "elapsed", time.Since(start))
	return nil
}

func (e *Extractor) debugInfo(page browser.Page) *models.DebugInfo {
	title, err := page.Title()
	if err != nil {
		e.logger.Debug("failed to read page title", "error", err)
	}

	return &models.DebugInfo{
		PageText:    truncate(bodyText(page), e.opts.DebugTextLimit),
		PageTitle:   title,
		ResolvedURL: page.URL(),
	}
}

func bodyText(page browser.Page) string {
	text, err := page.InnerText("body")
	if err != nil {
		return ""
	}
	return text
}

// truncate cuts s to at most n characters without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
