package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/integritystudio/tcad-scraper/internal/analytics"
	"github.com/integritystudio/tcad-scraper/internal/cache"
	"github.com/integritystudio/tcad-scraper/internal/clock"
	"github.com/integritystudio/tcad-scraper/internal/config"
	"github.com/integritystudio/tcad-scraper/internal/fetcher"
	"github.com/integritystudio/tcad-scraper/internal/hygiene"
	"github.com/integritystudio/tcad-scraper/internal/observability"
	"github.com/integritystudio/tcad-scraper/internal/persistence/postgres"
	"github.com/integritystudio/tcad-scraper/internal/queue"
	"github.com/integritystudio/tcad-scraper/internal/token"
	"github.com/integritystudio/tcad-scraper/internal/worker"
)

// cmd/scraper-worker hosts the token supervisor, the worker pool, and
// the hygiene sweeper in one process, as spec.md §5 describes: one
// background refresh loop alongside W workers and an independent
// hygiene ticker, coordinating only through the broker itself.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp, logger, err := observability.InitLogger(ctx, observability.Config{
		Enabled:     cfg.Observability.OTelEnabled,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown logger provider", "error", err)
		}
	}()
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, observability.Config{Enabled: cfg.Observability.OTelEnabled, ServiceName: cfg.Observability.ServiceName})
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	slog.InfoContext(ctx, "starting scraper worker")

	gw, err := postgres.NewGateway(ctx, postgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Database.ConnMaxIdleTime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}
	defer gw.Close()

	rdb := cache.New(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	gw.SetCacheInvalidator(rdb)

	broker := queue.New(gw.Pool())
	recorder := analytics.New(gw)

	tokens := token.New(cfg.Fetcher.TokenEndpointURL, &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}, logger)
	if err := tokens.Refresh(ctx); err != nil {
		logger.WarnContext(ctx, "initial token refresh failed; will retry on schedule", "error", err)
	}
	tokens.StartAutoRefresh(ctx, cfg.Fetcher.TokenRefreshInterval)
	defer tokens.Stop()

	f := fetcher.New(fetcher.Config{
		BaseURL:      cfg.Fetcher.UpstreamBaseURL,
		RateLimitRPS: cfg.Fetcher.RateLimitRPS,
	}, &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}, clock.RealClock{}, logger)

	pool := worker.New(broker, gw, f, tokens, recorder, logger, worker.Config{
		Concurrency:   cfg.Concurrency,
		APIYear:       cfg.Fetcher.APIYear,
		ShutdownGrace: cfg.ShutdownGrace,
	})

	sweeper := hygiene.New(broker, gw, logger, hygiene.Config{
		Interval:    cfg.HygieneInterval,
		GracePeriod: cfg.HygieneGracePeriod,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pool.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	wg.Wait()
	slog.InfoContext(ctx, "scraper worker shut down")
	return nil
}
