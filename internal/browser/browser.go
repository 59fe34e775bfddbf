package browser

import (
	"context"
	"time"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultMaxPagesPerBrowser is the number of sessions served by one
	// browser process before it is recycled.
	DefaultMaxPagesPerBrowser = 10
)

// Page is one browser tab bound to a single scrape request.
type Page interface {
	// Goto navigates and returns once the DOM content is loaded.
	Goto(url string, timeout time.Duration) error
	WaitForLoad(timeout time.Duration) error
	WaitForSelector(selector string, timeout time.Duration) error
	Click(selector string, timeout time.Duration) error
	InnerText(selector string) (string, error)
	Content() (string, error)
	Title() (string, error)
	URL() string
	Close() error
}

// Instance is one running browser process.
type Instance interface {
	NewPage(opts PageOptions) (Page, error)
	IsConnected() bool
	Close() error
}

// Launcher starts browser processes. Implementations decide which binary
// and which evasion layer are used.
type Launcher interface {
	Name() string
	Launch(ctx context.Context) (Instance, error)
}

// Options configure how a browser process is started.
type Options struct {
	Headless       bool
	ExecutablePath string
	CDPEndpoint    string
	ProxyServer    string
	LaunchTimeout  time.Duration
	ExtraArgs      []string
}

// DefaultOptions returns headless launch options with a 30s launch timeout.
func DefaultOptions() *Options {
	return &Options{
		Headless:      true,
		LaunchTimeout: 30 * time.Second,
	}
}

// PageOptions configure every session handed out by the pool.
type PageOptions struct {
	DefaultTimeout    time.Duration
	NavigationTimeout time.Duration
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	Locale            string
	ExtraHeaders      map[string]string
}

// DefaultPageOptions returns the per-session timeouts, user agent and viewport.
func DefaultPageOptions() PageOptions {
	return PageOptions{
		DefaultTimeout:    30 * time.Second,
		NavigationTimeout: 30 * time.Second,
		UserAgent:         DefaultUserAgent,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		Locale:            "en-US",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"DNT":             "1",
		},
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
