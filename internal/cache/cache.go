package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/affiliate-scraper/internal/models"
)

const (
	KeyPrefix  = "affiliate:scrape:"
	DefaultTTL = 15 * time.Minute
)

// ProductCache stores scraped products in Redis keyed by the requested URL.
// A nil *ProductCache is usable and never hits.
type ProductCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a cache over rdb. A non-positive ttl uses DefaultTTL.
func New(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *ProductCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductCache{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With("component", "cache"),
	}
}

// Key returns the Redis key for rawURL.
func Key(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached product for rawURL. A miss is not an error.
func (c *ProductCache) Get(ctx context.Context, rawURL string) (*models.ScrapedProduct, bool, error) {
	if c == nil || c.rdb == nil {
		return nil, false, nil
	}

	data, err := c.rdb.Get(ctx, Key(rawURL)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached product: %w", err)
	}

	var product models.ScrapedProduct
	if err := json.Unmarshal(data, &product); err != nil {
		c.logger.Warn("dropping undecodable cache entry", "url", rawURL, "error", err)
		if err := c.Delete(ctx, rawURL); err != nil {
			c.logger.Warn("failed to drop cache entry", "url", rawURL, "error", err)
		}
		return nil, false, nil
	}

	return &product, true, nil
}

// Set stores product under its requested URL for the cache TTL.
func (c *ProductCache) Set(ctx context.Context, product *models.ScrapedProduct) error {
	if c == nil || c.rdb == nil {
		return nil
	}

	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to encode product: %w", err)
	}

	if err := c.rdb.Set(ctx, Key(product.URL), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache product: %w", err)
	}

	c.logger.Debug("product cached", "url", product.URL, "ttl", c.ttl)
	return nil
}

// Delete removes the cached product for rawURL.
func (c *ProductCache) Delete(ctx context.Context, rawURL string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, Key(rawURL)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached product: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *ProductCache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}
