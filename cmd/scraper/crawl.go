package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-books-spider/config"
	"github.com/aluiziolira/go-books-spider/models"
	"github.com/aluiziolira/go-books-spider/pipeline"
	"github.com/aluiziolira/go-books-spider/scraper"
)

type crawlFlags struct {
	baseURL         string
	pages           int
	parallel        int
	delay           time.Duration
	randomDelay     time.Duration
	maxRetries      int
	retryBackoff    time.Duration
	retryBackoffMax time.Duration
	respectRobots   bool
	output          string
	format          string
	metricsAddr     string
}

func crawlCmd() *cobra.Command {
	defaults := config.DefaultConfig()
	flags := &crawlFlags{}

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the catalog and write entries to the configured sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(verbose)

			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return runCrawl(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.baseURL, "base-url", defaults.BaseURL, "catalog root to crawl")
	f.IntVarP(&flags.pages, "pages", "p", defaults.MaxPages, "maximum listing pages to crawl")
	f.IntVarP(&flags.parallel, "parallel", "n", defaults.Parallelism, "number of concurrent requests")
	f.DurationVar(&flags.delay, "delay", defaults.Delay, "delay between requests")
	f.DurationVar(&flags.randomDelay, "random-delay", defaults.RandomDelay, "random jitter added to delay")
	f.IntVar(&flags.maxRetries, "max-retries", defaults.MaxRetries, "maximum retry attempts per URL")
	f.DurationVar(&flags.retryBackoff, "retry-backoff", defaults.RetryBackoff, "initial retry backoff")
	f.DurationVar(&flags.retryBackoffMax, "retry-backoff-max", defaults.RetryBackoffMax, "maximum retry backoff")
	f.BoolVar(&flags.respectRobots, "respect-robots", defaults.RespectRobotsTxt, "respect robots.txt directives")
	f.StringVarP(&flags.output, "output", "o", defaults.OutputFile, "output file path")
	f.StringVarP(&flags.format, "format", "f", defaults.OutputFormat, "output format: csv, json, dual, mongo, postgres")
	f.StringVar(&flags.metricsAddr, "metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")

	return cmd
}

// loadConfig layers explicitly set flags over the file and environment.
func loadConfig(cmd *cobra.Command, flags *crawlFlags) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	set := cmd.Flags().Changed
	if set("base-url") {
		cfg.BaseURL = flags.baseURL
	}
	if set("pages") {
		cfg.MaxPages = flags.pages
	}
	if set("parallel") {
		cfg.Parallelism = flags.parallel
	}
	if set("delay") {
		cfg.Delay = flags.delay
	}
	if set("random-delay") {
		cfg.RandomDelay = flags.randomDelay
	}
	if set("max-retries") {
		cfg.MaxRetries = flags.maxRetries
	}
	if set("retry-backoff") {
		cfg.RetryBackoff = flags.retryBackoff
	}
	if set("retry-backoff-max") {
		cfg.RetryBackoffMax = flags.retryBackoffMax
	}
	if set("respect-robots") {
		cfg.RespectRobotsTxt = flags.respectRobots
	}
	if set("output") {
		cfg.OutputFile = flags.output
	}
	if set("format") {
		cfg.OutputFormat = strings.ToLower(flags.format)
	}
	if set("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if verbose {
		cfg.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runCrawl(cfg *config.Config) error {
	slog.Info("starting crawl",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("workers", cfg.Parallelism),
		slog.String("format", cfg.OutputFormat),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	writer, err := pipeline.NewWriter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics)

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(cfg.Parallelism)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, err := s.Run(ctx, p)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}

	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, time.Since(startTime), pipeline.Destination(cfg), p.GetMetrics())
	return nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func printSummary(result *models.ScraperResult, duration time.Duration, destination string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")

	written, _ := metrics["processed_entries"].(int64)
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(written) / duration.Seconds()
	}

	fmt.Printf("  Entries:       %d written, %d extracted\n", written, result.TotalCount)
	fmt.Printf("  Listing pages: %d\n", result.ListingPages)
	fmt.Printf("  Detail pages:  %d\n", result.DetailPages)
	fmt.Printf("  Skipped cards: %d\n", result.SkippedItems)
	if len(result.ExtractionErrors) > 0 {
		fmt.Printf("  Extraction:    %v\n", result.ExtractionErrors)
	}

	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Printf("  Output:        %s\n", destination)
	fmt.Println(separator)
}
