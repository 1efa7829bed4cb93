// Package main wires together the public-record orchestrator service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/justice-rest/Intel-sub005/internal/aggregate"
	"github.com/justice-rest/Intel-sub005/internal/api"
	"github.com/justice-rest/Intel-sub005/internal/breaker"
	"github.com/justice-rest/Intel-sub005/internal/cache"
	"github.com/justice-rest/Intel-sub005/internal/cache/pgstore"
	"github.com/justice-rest/Intel-sub005/internal/cache/sqlitestore"
	"github.com/justice-rest/Intel-sub005/internal/config"
	apiengine "github.com/justice-rest/Intel-sub005/internal/engine/api"
	"github.com/justice-rest/Intel-sub005/internal/engine/browser"
	"github.com/justice-rest/Intel-sub005/internal/engine/httpx"
	"github.com/justice-rest/Intel-sub005/internal/enrich"
	"github.com/justice-rest/Intel-sub005/internal/events"
	"github.com/justice-rest/Intel-sub005/internal/events/sinks"
	"github.com/justice-rest/Intel-sub005/internal/logging"
	pub "github.com/justice-rest/Intel-sub005/internal/publisher"
	pubsubpublisher "github.com/justice-rest/Intel-sub005/internal/publisher/pubsub"
	"github.com/justice-rest/Intel-sub005/internal/ratelimit"
	"github.com/justice-rest/Intel-sub005/internal/record"
	"github.com/justice-rest/Intel-sub005/internal/router"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sources := cfg.SourceList()
	if len(sources) == 0 {
		logger.Warn("no sources configured; every search will come back empty")
	}

	durable, err := buildDurableStore(ctx, cfg.Cache)
	if err != nil {
		logger.Fatal("durable cache init failed", zap.Error(err))
	}
	resultCache := cache.New(cache.Config{
		TTL:        cfg.Cache.TTL(),
		MaxEntries: cfg.Cache.MaxEntries,
		Durable:    durable,
		Logger:     logger.Named("cache"),
	})

	limiter := ratelimit.New(ratelimit.Config{
		Default: ratelimit.Limits{
			RequestsPerMinute: cfg.RateLimit.DefaultRequestsPerMinute,
			Burst:             cfg.RateLimit.DefaultBurst,
		},
		PerSource: sourceLimits(sources),
	})

	circuits := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		FailureWindow:    time.Duration(cfg.Breaker.FailureWindowSeconds) * time.Second,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutSeconds) * time.Second,
	})

	httpCfg := httpx.Config{
		Timeout:    time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.HTTP.MaxRetries,
		RetryDelay: time.Duration(cfg.HTTP.RetryDelayMs) * time.Millisecond,
	}
	if cfg.HTTP.UserAgent != "" {
		// A pinned agent replaces the built-in rotation pool.
		httpCfg.UserAgents = []string{cfg.HTTP.UserAgent}
	}
	httpEngine := httpx.New(httpCfg, logger.Named("httpx"))

	apiEngine := apiengine.New(apiengine.Config{
		Timeout:   time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		UserAgent: cfg.HTTP.UserAgent,
	}, logger.Named("api-engine"))

	var browserEngine *browser.Engine
	if cfg.Browser.Enabled {
		browserEngine, err = browser.New(browser.Config{
			MaxParallel: cfg.Browser.MaxParallel,
			NavTimeout:  time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
			WaitTimeout: time.Duration(cfg.Browser.WaitTimeoutSec) * time.Second,
		}, logger.Named("browser"))
		if err != nil {
			logger.Warn("browser engine init failed, headless tier disabled", zap.Error(err))
			browserEngine = nil
		} else {
			defer browserEngine.Close()
		}
	}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("metrics sink init failed", zap.Error(err))
	}
	hub := events.NewHub(events.Config{Logger: logger.Named("events")},
		sinks.NewLogSink(logger.Named("scrape-events")),
		promSink,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("event hub close failed", zap.Error(err))
		}
	}()

	var browserFetcher enrich.Fetcher
	engines := router.Engines{API: apiEngine, HTTP: httpEngine}
	if browserEngine != nil {
		engines.Browser = browserEngine
		browserFetcher = browserEngine
	}

	enricher := enrich.New(enrich.Config{
		BatchSize:  cfg.Enrich.BatchSize,
		BatchDelay: time.Duration(cfg.Enrich.BatchDelayMs) * time.Millisecond,
	}, httpEngine, browserFetcher, logger.Named("enrich"))

	unified := router.New(router.Config{
		Sources:  sources,
		Engines:  engines,
		Limiter:  limiter,
		Breaker:  circuits,
		Cache:    resultCache,
		Enricher: enricher,
		Emitter:  hub,
		Logger:   logger.Named("router"),
	})

	var publisher pub.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		psPublisher, err := pubsubpublisher.Connect(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Warn("pubsub connect failed, completion events disabled", zap.Error(err))
		} else {
			defer func() {
				if err := psPublisher.Close(); err != nil {
					logger.Warn("pubsub close failed", zap.Error(err))
				}
			}()
			publisher = psPublisher
		}
	}

	aggregator := aggregate.New(aggregate.Config{
		MaxConcurrent:   cfg.Scraper.MaxConcurrent,
		ContinueOnError: cfg.Scraper.ContinueOnError,
		CompletionTopic: cfg.PubSub.TopicName,
	}, unified, hub, publisher, logger.Named("aggregate"))

	apiServer := api.NewServer(api.Config{
		Router:       unified,
		Aggregator:   aggregator,
		DefaultLimit: cfg.Scraper.DefaultLimit,
		Logger:       logger.Named("api"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if durable != nil {
		if err := durable.Close(); err != nil {
			logger.Warn("durable cache close failed", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

func buildDurableStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Durable {
	case "":
		return nil, nil
	case "sqlite":
		store, err := sqlitestore.New(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{DSN: cfg.DSN})
		if err != nil {
			return nil, fmt.Errorf("open postgres cache: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown durable cache backend %q", cfg.Durable)
	}
}

func sourceLimits(sources []record.Source) map[string]ratelimit.Limits {
	out := make(map[string]ratelimit.Limits)
	for _, s := range sources {
		if s.Config.RequestsPerMinute > 0 {
			out[s.ID] = ratelimit.Limits{
				RequestsPerMinute: s.Config.RequestsPerMinute,
				Burst:             s.Config.Burst,
			}
		}
	}
	return out
}
