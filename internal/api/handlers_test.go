package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/affiliate-scraper/internal/browser"
	"github.com/maltedev/affiliate-scraper/internal/database"
	"github.com/maltedev/affiliate-scraper/internal/models"
	"github.com/maltedev/affiliate-scraper/internal/ratelimit"
)

type MockScraper struct {
	mock.Mock
}

func (m *MockScraper) Scrape(ctx context.Context, rawURL string) (*models.ScrapedProduct, error) {
	args := m.Called(ctx, rawURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ScrapedProduct), args.Error(1)
}

type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) Recent(ctx context.Context, limit int) ([]*database.ScrapeRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*database.ScrapeRecord), args.Error(1)
}

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

type stubPool struct {
	stats browser.PoolStats
}

func (s stubPool) Stats() browser.PoolStats { return s.stats }

func newTestServer(t *testing.T, sc Scraper, history History, limiter *ratelimit.KeyedLimiter) *httptest.Server {
	t.Helper()
	h := NewHandlers(sc, history, stubPool{stats: browser.PoolStats{Provider: "fake", State: "ready", PagesServed: 3}}, newTestValidator(), nil)
	srv := httptest.NewServer(NewRouter(h, RouterConfig{Limiter: limiter}))
	t.Cleanup(srv.Close)
	return srv
}

func postScrape(t *testing.T, srv *httptest.Server, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/scrape", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestScrapeHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		sc := new(MockScraper)
		sc.On("Scrape", mock.Anything, "https://amzn.to/XXXX").Return(&models.ScrapedProduct{
			Title: "Echo Dot",
			Price: "$49.99",
			Image: "https://m.media-amazon.com/images/I/echo.jpg",
			URL:   "https://amzn.to/XXXX",
		}, nil)

		srv := newTestServer(t, sc, nil, nil)
		resp, body := postScrape(t, srv, `{"url":"https://amzn.to/XXXX"}`)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Echo Dot", body["title"])
		assert.Equal(t, "$49.99", body["price"])
		assert.Equal(t, "https://amzn.to/XXXX", body["url"])
		assert.NotContains(t, body, "debug")
		sc.AssertExpectations(t)
	})

	t.Run("scrape failure maps to 500", func(t *testing.T) {
		sc := new(MockScraper)
		sc.On("Scrape", mock.Anything, mock.Anything).Return(nil, models.ErrScrapeFailed)

		srv := newTestServer(t, sc, nil, nil)
		resp, body := postScrape(t, srv, `{"url":"https://www.amazon.com/dp/B0BOTBLOCK"}`)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "Failed to scrape product", body["error"])
	})

	t.Run("invalid url is rejected before scraping", func(t *testing.T) {
		sc := new(MockScraper)
		srv := newTestServer(t, sc, nil, nil)

		resp, body := postScrape(t, srv, `{"url":"https://169.254.169.254/latest"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body["error"], "invalid product url")
		sc.AssertNotCalled(t, "Scrape", mock.Anything, mock.Anything)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := newTestServer(t, new(MockScraper), nil, nil)
		resp, body := postScrape(t, srv, `{"url":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid request body", body["error"])
	})

	t.Run("scrape context survives client cancellation", func(t *testing.T) {
		sc := new(MockScraper)
		sc.On("Scrape", mock.MatchedBy(func(ctx context.Context) bool {
			_, hasDeadline := ctx.Deadline()
			return ctx.Done() == nil && !hasDeadline
		}), "https://www.amazon.com/dp/B08N5WRWNW").Return(&models.ScrapedProduct{Title: "T", Price: "P"}, nil)

		srv := newTestServer(t, sc, nil, nil)
		resp, _ := postScrape(t, srv, `{"url":"https://www.amazon.com/dp/B08N5WRWNW"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		sc.AssertExpectations(t)
	})
}

func TestScrapeHandler_RateLimit(t *testing.T) {
	sc := new(MockScraper)
	sc.On("Scrape", mock.Anything, mock.Anything).Return(&models.ScrapedProduct{Title: "T", Price: "P"}, nil)

	limiter := ratelimit.NewKeyedLimiter(ratelimit.Config{RequestsPerMinute: 5})
	srv := newTestServer(t, sc, nil, limiter)

	for i := 0; i < 5; i++ {
		resp, _ := postScrape(t, srv, `{"url":"https://www.amazon.com/dp/B08N5WRWNW"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	resp, body := postScrape(t, srv, `{"url":"https://www.amazon.com/dp/B08N5WRWNW"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "Too many requests", body["error"])
	sc.AssertNumberOfCalls(t, "Scrape", 5)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/scrape", strings.NewReader(`{"url":"https://www.amazon.com/dp/B08N5WRWNW"}`))
	require.NoError(t, err)
	req.Header.Set("X-Real-IP", "198.51.100.20")
	other, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	other.Body.Close()
	assert.Equal(t, http.StatusOK, other.StatusCode)
}

func TestRecentScrapesHandler(t *testing.T) {
	t.Run("no database", func(t *testing.T) {
		srv := newTestServer(t, new(MockScraper), nil, nil)
		resp, err := http.Get(srv.URL + "/api/v1/scrapes")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("returns records with clamped limit", func(t *testing.T) {
		history := new(MockHistory)
		history.On("Recent", mock.Anything, database.MaxRecentLimit).Return([]*database.ScrapeRecord{
			{SourceURL: "https://amzn.to/a", Title: "A"},
			{SourceURL: "https://amzn.to/b", Title: "B", Partial: true},
		}, nil)

		srv := newTestServer(t, new(MockScraper), history, nil)
		resp, err := http.Get(srv.URL + "/api/v1/scrapes?limit=500")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Scrapes []database.ScrapeRecord `json:"scrapes"`
			Count   int                     `json:"count"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 2, body.Count)
		assert.Equal(t, "https://amzn.to/a", body.Scrapes[0].SourceURL)
		history.AssertExpectations(t)
	})

	t.Run("bad limit", func(t *testing.T) {
		srv := newTestServer(t, new(MockScraper), new(MockHistory), nil)
		resp, err := http.Get(srv.URL + "/api/v1/scrapes?limit=abc")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("query failure", func(t *testing.T) {
		history := new(MockHistory)
		history.On("Recent", mock.Anything, database.DefaultRecentLimit).Return(nil, errors.New("connection reset"))

		srv := newTestServer(t, new(MockScraper), history, nil)
		resp, err := http.Get(srv.URL + "/api/v1/scrapes")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(t, new(MockScraper), nil, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status  string            `json:"status"`
		Browser browser.PoolStats `json:"browser"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "fake", body.Browser.Provider)
	assert.Equal(t, 3, body.Browser.PagesServed)
}

func TestHealthHandler_Dependencies(t *testing.T) {
	h := NewHandlers(new(MockScraper), nil, nil, newTestValidator(), nil).
		WithDependency("cache", stubPinger{}).
		WithDependency("database", stubPinger{err: errors.New("connection refused")})
	srv := httptest.NewServer(NewRouter(h, RouterConfig{}))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["cache"])
	assert.Equal(t, "error: connection refused", body.Dependencies["database"])
}

func TestScrapeHandler_OutlivesRequestTimeout(t *testing.T) {
	sc := new(MockScraper)
	sc.On("Scrape", mock.Anything, "https://www.amazon.com/dp/B0SLOWPAGE").
		After(150*time.Millisecond).
		Return(&models.ScrapedProduct{Title: "Slow Kettle", Price: "$24.99"}, nil)

	h := NewHandlers(sc, nil, nil, newTestValidator(), nil)
	srv := httptest.NewServer(NewRouter(h, RouterConfig{RequestTimeout: 50 * time.Millisecond}))
	t.Cleanup(srv.Close)

	resp, body := postScrape(t, srv, `{"url":"https://www.amazon.com/dp/B0SLOWPAGE"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Slow Kettle", body["title"])
}
