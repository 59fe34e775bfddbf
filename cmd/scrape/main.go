package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/affiliate-scraper/internal/browser"
	"github.com/maltedev/affiliate-scraper/internal/extractor"
	"github.com/maltedev/affiliate-scraper/internal/resolver"
	"github.com/maltedev/affiliate-scraper/internal/scraper"
)

var (
	provider       string
	headless       bool
	executablePath string
	cdpEndpoint    string
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Scrape title, price and image from one Amazon product link",
	Example: `  scrape https://amzn.to/3xyzABC
  scrape https://www.amazon.de/dp/B09B8V1LZ3 --headless=false
  scrape https://www.amazon.com/dp/B09B8V1LZ3 --provider serverless --cdp ws://127.0.0.1:9222`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&provider, "provider", "p", browser.ProviderAuto, "Browser provider: auto, local or serverless")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "Run the browser without a window")
	rootCmd.Flags().StringVar(&executablePath, "executable", "", "Path to a Chromium binary")
	rootCmd.Flags().StringVar(&cdpEndpoint, "cdp", "", "Connect to a running browser over CDP (serverless provider)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
}

func run(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := browser.DefaultOptions()
	opts.Headless = headless
	opts.ExecutablePath = executablePath
	opts.CDPEndpoint = cdpEndpoint

	launcher, err := browser.NewLauncher(provider, opts, logger)
	if err != nil {
		return err
	}

	pool := browser.NewPool(launcher, nil, logger)
	defer pool.Close()

	s := scraper.New(resolver.New(nil, logger), pool, extractor.New(nil, logger), logger)

	start := time.Now()
	product, err := s.Scrape(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("scrape %s: %w", args[0], err)
	}
	logger.Info("done", "elapsed", time.Since(start))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(product)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
