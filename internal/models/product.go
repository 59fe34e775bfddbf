package models

import (
	"errors"
	"time"
)

const (
	NoTitleFound = "No Title Found"
	NoPriceFound = "No Price Found"
)

var (
	// ErrBotDetection is returned when an interstitial stays in place after
	// the bypass attempt and the product title never shows up.
	ErrBotDetection = errors.New("bot detection: product page did not load")
	ErrInvalidURL   = errors.New("invalid product url")
	ErrScrapeFailed = errors.New("scrape failed")
)

// ScrapedProduct is the result of scraping one product page.
type ScrapedProduct struct {
	Title string     `json:"title"`
	Price string     `json:"price"`
	Image string     `json:"image"`
	URL   string     `json:"url"`
	Debug *DebugInfo `json:"debug,omitempty"`

	// ResolvedURL is the address actually navigated to after shortener
	// resolution. It is stored with the scrape history only.
	ResolvedURL string    `json:"-"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// DebugInfo is attached when title or price extraction fell back to a sentinel.
type DebugInfo struct {
	PageText    string `json:"page_text"`
	PageTitle   string `json:"page_title"`
	ResolvedURL string `json:"resolved_url"`
}

// NewScrapedProduct returns a product for url with sentinel title and price.
func NewScrapedProduct(url string) *ScrapedProduct {
	return &ScrapedProduct{
		Title:     NoTitleFound,
		Price:     NoPriceFound,
		URL:       url,
		ScrapedAt: time.Now(),
	}
}

// HasTitle reports whether a real title was extracted.
func (p *ScrapedProduct) HasTitle() bool {
	return p.Title != "" && p.Title != NoTitleFound
}

// HasPrice reports whether a real price was extracted.
func (p *ScrapedProduct) HasPrice() bool {
	return p.Price != "" && p.Price != NoPriceFound
}

// IsComplete reports whether both title and price were found.
func (p *ScrapedProduct) IsComplete() bool {
	return p.HasTitle() && p.HasPrice()
}

// MissingFields lists the fields that came back empty or as sentinels.
func (p *ScrapedProduct) MissingFields() []string {
	var missing []string
	if p.URL == "" {
		missing = append(missing, "url")
	}
	if !p.HasTitle() {
		missing = append(missing, "title")
	}
	if !p.HasPrice() {
		missing = append(missing, "price")
	}
	return missing
}
