package resolver

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultShortenerHosts are the Amazon short-link hosts resolved before navigation.
var DefaultShortenerHosts = []string{
	"amzn.to",
	"amzn.eu",
	"amzn.asia",
	"a.co",
}

// Options configures a Resolver.
type Options struct {
	Timeout        time.Duration
	ShortenerHosts []string
	UserAgent      string
	// Transport overrides http.DefaultTransport.
	Transport      http.RoundTripper
}

// DefaultOptions returns a 10s timeout and the Amazon short-link hosts.
func DefaultOptions() *Options {
	return &Options{
		Timeout:        10 * time.Second,
		ShortenerHosts: DefaultShortenerHosts,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// Resolver turns short links into the product URL they point to. It never
// fails: anything unexpected yields the input URL.
type Resolver struct {
	client    *http.Client
	hosts     map[string]struct{}
	userAgent string
	logger    *slog.Logger
}

// New creates a Resolver. A nil opts uses DefaultOptions.
func New(opts *Options, logger *slog.Logger) *Resolver {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	hosts := make(map[string]struct{}, len(opts.ShortenerHosts))
	for _, h := range opts.ShortenerHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts[h] = struct{}{}
		}
	}

	return &Resolver{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		hosts:     hosts,
		userAgent: opts.UserAgent,
		logger:    logger.With("component", "resolver"),
	}
}

// IsShortener reports whether rawURL points at a known short-link host.
func (r *Resolver) IsShortener(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	_, ok := r.hosts[strings.ToLower(u.Hostname())]
	return ok
}

// Resolve issues a single HEAD request for short links and returns the
// Location of a 3xx response. Other URLs are returned without a network call.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) string {
	if !r.IsShortener(rawURL) {
		return rawURL
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		r.logger.Warn("failed to build redirect request", "url", rawURL, "error", err)
		return rawURL
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("redirect resolution failed", "url", rawURL, "error", err)
		return rawURL
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		r.logger.Debug("short link did not redirect", "url", rawURL, "status", resp.StatusCode)
		return rawURL
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return rawURL
	}

	resolved := location
	if loc, err := url.Parse(location); err == nil && !loc.IsAbs() {
		resolved = req.URL.ResolveReference(loc).String()
	}

	r.logger.Info("resolved short link",
		"url", rawURL,
		"resolved_url", resolved,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	return resolved
}
