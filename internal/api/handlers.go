package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/maltedev/affiliate-scraper/internal/browser"
	"github.com/maltedev/affiliate-scraper/internal/database"
	"github.com/maltedev/affiliate-scraper/internal/models"
)

const (
	maxBodyBytes  = 4 << 10
	pingTimeout   = 2 * time.Second
	healthOK      = "ok"
	healthDegrade = "degraded"
)

// Scraper runs one product scrape.
type Scraper interface {
	Scrape(ctx context.Context, rawURL string) (*models.ScrapedProduct, error)
}

// History lists recent scrapes.
type History interface {
	Recent(ctx context.Context, limit int) ([]*database.ScrapeRecord, error)
}

// PoolStats reports browser pool counters.
type PoolStats interface {
	Stats() browser.PoolStats
}

// Pinger is a backing service checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type dependency struct {
	name   string
	pinger Pinger
}

// Handlers serves the HTTP API.
type Handlers struct {
	scraper   Scraper
	history   History
	pool      PoolStats
	deps      []dependency
	validator *URLValidator
	logger    *slog.Logger
}

// NewHandlers wires the HTTP handlers. history and pool may be nil.
func NewHandlers(scraper Scraper, history History, pool PoolStats, validator *URLValidator, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		scraper:   scraper,
		history:   history,
		pool:      pool,
		validator: validator,
		logger:    logger.With("component", "api"),
	}
}

// WithDependency adds a backing service to the health report.
func (h *Handlers) WithDependency(name string, p Pinger) *Handlers {
	h.deps = append(h.deps, dependency{name: name, pinger: p})
	return h
}

// ScrapeRequest is the body of POST /api/v1/scrape.
type ScrapeRequest struct {
	URL string `json:"url"`
}

// Scrape handles POST /api/v1/scrape.
func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := h.validator.Validate(req.URL)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A started scrape runs to its own timeouts even if the client leaves.
	product, err := h.scraper.Scrape(context.WithoutCancel(r.Context()), target)
	if err != nil {
		if !errors.Is(err, models.ErrScrapeFailed) {
			h.logger.Error("scrape failed", "url", target, "error", err)
		}
		h.respondError(w, http.StatusInternalServerError, "Failed to scrape product")
		return
	}

	h.respondJSON(w, http.StatusOK, product)
}

// RecentScrapes handles GET /api/v1/scrapes.
func (h *Handlers) RecentScrapes(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondError(w, http.StatusServiceUnavailable, "scrape history is not configured")
		return
	}

	limit := database.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = database.ClampLimit(n)
	}

	records, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load scrape history", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load scrape history")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"scrapes": records,
		"count":   len(records),
	})
}

// Health handles GET /health. A failing dependency marks the service
// degraded; scrapes still work without cache or history.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := healthOK
	health := map[string]interface{}{}
	if h.pool != nil {
		health["browser"] = h.pool.Stats()
	}

	if len(h.deps) > 0 {
		deps := make(map[string]string, len(h.deps))
		for _, d := range h.deps {
			ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
			err := d.pinger.Ping(ctx)
			cancel()
			if err != nil {
				h.logger.Warn("health check failed", "dependency", d.name, "error", err)
				deps[d.name] = "error: " + err.Error()
				status = healthDegrade
				continue
			}
			deps[d.name] = healthOK
		}
		health["dependencies"] = deps
	}

	health["status"] = status
	h.respondJSON(w, http.StatusOK, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
