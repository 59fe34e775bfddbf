package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/affiliate-scraper/internal/api"
	"github.com/maltedev/affiliate-scraper/internal/browser"
	"github.com/maltedev/affiliate-scraper/internal/cache"
	"github.com/maltedev/affiliate-scraper/internal/config"
	"github.com/maltedev/affiliate-scraper/internal/database"
	"github.com/maltedev/affiliate-scraper/internal/extractor"
	"github.com/maltedev/affiliate-scraper/internal/ratelimit"
	"github.com/maltedev/affiliate-scraper/internal/resolver"
	"github.com/maltedev/affiliate-scraper/internal/scraper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	launcher, err := browser.NewLauncher(cfg.Browser.Provider, &browser.Options{
		Headless:       cfg.Browser.Headless,
		ExecutablePath: cfg.Browser.ExecutablePath,
		CDPEndpoint:    cfg.Browser.CDPEndpoint,
		ProxyServer:    cfg.Browser.ProxyServer,
		LaunchTimeout:  cfg.Browser.LaunchTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to select browser provider", "error", err)
		os.Exit(1)
	}

	poolOpts := browser.DefaultPoolOptions()
	poolOpts.MaxPagesPerBrowser = cfg.Browser.MaxPagesPerBrowser
	pool := browser.NewPool(launcher, poolOpts, logger)

	resolverOpts := resolver.DefaultOptions()
	resolverOpts.Timeout = cfg.Resolver.Timeout
	resolverOpts.ShortenerHosts = cfg.Resolver.ShortenerHosts

	orchestrator := scraper.New(
		resolver.New(resolverOpts, logger),
		pool,
		extractor.New(nil, logger),
		logger,
	)

	var serviceOpts []scraper.ServiceOption
	var history api.History
	var productCache *cache.ProductCache
	var store *database.DB

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, result cache disabled", "addr", cfg.Redis.Addr, "error", err)
			redisClient = nil
		} else {
			productCache = cache.New(redisClient, cfg.Redis.CacheTTL, logger)
			serviceOpts = append(serviceOpts, scraper.WithCache(productCache))
			logger.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Database.Enabled() {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = db

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		repo := database.NewScrapeRepository(db)
		serviceOpts = append(serviceOpts, scraper.WithHistory(repo))
		history = repo

		if redisClient != nil {
			relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{
				PollInterval: cfg.Relay.PollInterval,
				BatchSize:    cfg.Relay.BatchSize,
			})
			go func() {
				if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("relay stopped with error", "error", err)
				}
			}()
		}
	}

	service := scraper.NewService(orchestrator, logger, serviceOpts...)

	limiter := ratelimit.NewKeyedLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.API.RequestsPerMinute,
		Burst:             cfg.API.Burst,
	})
	go limiter.Run(ctx)

	handlers := api.NewHandlers(
		service,
		history,
		pool,
		api.NewURLValidator(cfg.API.AllowedDomains, cfg.Resolver.ShortenerHosts),
		logger,
	)
	if productCache != nil {
		handlers.WithDependency("cache", productCache)
	}
	if store != nil {
		handlers.WithDependency("database", store)
	}

	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewRouter(handlers, api.RouterConfig{
			AllowedOrigins: cfg.API.AllowedOrigins,
			Limiter:        limiter,
			Logger:         logger,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		cancel()
	}()

	logger.Info("server starting",
		"addr", server.Addr,
		"provider", launcher.Name(),
		"max_pages_per_browser", cfg.Browser.MaxPagesPerBrowser,
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	if err := pool.Close(); err != nil {
		logger.Error("failed to close browser pool", "error", err)
	}
	logger.Info("server stopped")
}
