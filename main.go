package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"ebay-harvester/config"
	"ebay-harvester/metrics"
	"ebay-harvester/models"
	"ebay-harvester/proxy"
	"ebay-harvester/scraper/ebay"
	"ebay-harvester/services"
	"ebay-harvester/storage"
	"ebay-harvester/utils"
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [store-url ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		utils.NewLogger().Error("Invalid configuration: %v", err)
		return 1
	}
	logger := utils.NewFileLogger(cfg.LogFile, utils.ParseLevel(cfg.LogLevel))

	stores := storeURLs(cfg.StoreURLs, flag.Args())
	if len(stores) == 0 {
		logger.Error("No store URLs given. Set STORE_URLS or pass them as arguments.")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== eBay store harvester starting ===")
	logger.Info("Config | stores: %d | page: %d | batch: %d | rotate every: %d | concurrency: %d | store: %s",
		len(stores), cfg.PageSize, cfg.BatchSize, cfg.RotateEvery, cfg.MaxConcurrency, cfg.Store)

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, m, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	retry := &utils.RetryConfig{MaxAttempts: cfg.MaxRetries, BaseDelay: time.Second, Logger: logger}

	writer, err := openStore(ctx, cfg, retry)
	if err != nil {
		logger.Error("Failed to open %s store: %v", cfg.Store, err)
		if cfg.Store == "postgres" {
			logger.Error("Make sure Docker is running: docker compose up -d")
		}
		return 1
	}
	defer writer.Close()

	proxies := loadProxies(ctx, cfg, retry, logger)

	fetcher := ebay.NewFetcher(ebay.NewHTTPTransport(), ebay.FetcherOptions{
		PageSize:  cfg.PageSize,
		Timeout:   cfg.FetchTimeout,
		UserAgent: cfg.UserAgent,
		Referer:   cfg.Referer,
	})
	harvester := ebay.New(
		fetcher,
		services.NewNormalizer(logger),
		services.NewIngestor(writer, logger, cfg.IngestTimeout),
		logger,
		ebay.Options{
			PageSize:    fetcher.PageSize(),
			BatchSize:   cfg.BatchSize,
			RotateEvery: cfg.RotateEvery,
			MinDelay:    cfg.MinDelay,
			MaxDelay:    cfg.MaxDelay,
			Proxies:     proxies,
			Metrics:     m,
		},
	)

	var (
		mu        sync.Mutex
		summaries []*models.RunSummary
	)
	pool := utils.NewWorkerPool(cfg.MaxConcurrency, cfg.RateLimitMs)
	for _, store := range stores {
		ok := pool.Submit(ctx, func(ctx context.Context) {
			sum := harvester.Run(ctx, store)
			mu.Lock()
			summaries = append(summaries, sum)
			mu.Unlock()
		})
		if !ok {
			logger.Warn("Shutdown requested, %s not started", store)
		}
	}
	pool.Wait()

	services.NewReporter(logger, os.Stdout).Print(summaries)

	for _, s := range summaries {
		if s.State != models.RunDone {
			return 1
		}
	}
	return 0
}

// storeURLs merges configured and command-line store URLs without duplicates.
func storeURLs(configured, args []string) []string {
	seen := utils.NewURLSet()
	var out []string
	for _, u := range append(append([]string{}, configured...), args...) {
		u = strings.TrimSpace(u)
		if seen.Add(u) {
			out = append(out, u)
		}
	}
	return out
}

func openStore(ctx context.Context, cfg *config.Config, retry *utils.RetryConfig) (storage.BatchWriter, error) {
	if cfg.Store == "memory" {
		return storage.NewMemoryStore(), nil
	}
	pw, err := storage.NewPostgresWriter(ctx, cfg.DSN(), retry)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

func loadProxies(ctx context.Context, cfg *config.Config, retry *utils.RetryConfig, logger *utils.Logger) []string {
	loader := &proxy.Loader{
		Static:   cfg.Proxies,
		ListURL:  cfg.ProxyListURL,
		CacheTTL: cfg.ProxyCacheTTL,
		Retry:    retry,
		Logger:   logger,
	}
	if cfg.RedisAddr != "" && cfg.ProxyListURL != "" {
		cache, err := proxy.NewRedisListCache(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.ProxyListURL)
		if err != nil {
			logger.Warn("[proxy] Redis cache unavailable, downloading list directly: %v", err)
		} else {
			defer cache.Close()
			loader.Cache = cache
		}
	}

	proxies := loader.Load(ctx)
	if len(proxies) == 0 {
		logger.Info("[proxy] No proxies configured, fetching direct")
	} else {
		logger.Info("[proxy] %d candidate proxies", len(proxies))
	}
	return proxies
}

func serveMetrics(addr string, m *metrics.Metrics, logger *utils.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("[metrics] Listening on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[metrics] Server stopped: %v", err)
		}
	}()
	return srv
}
