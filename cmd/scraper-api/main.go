package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/integritystudio/tcad-scraper/internal/analytics"
	"github.com/integritystudio/tcad-scraper/internal/cache"
	"github.com/integritystudio/tcad-scraper/internal/config"
	"github.com/integritystudio/tcad-scraper/internal/control"
	"github.com/integritystudio/tcad-scraper/internal/httpapi"
	"github.com/integritystudio/tcad-scraper/internal/observability"
	"github.com/integritystudio/tcad-scraper/internal/persistence/postgres"
	"github.com/integritystudio/tcad-scraper/internal/queue"
	"github.com/integritystudio/tcad-scraper/internal/token"
)

// cmd/scraper-api hosts the control surface (component J) plus the thin
// REST landing strip: enqueue/inspect scrapes, manage monitors, and
// report health/stats. No property CRUD, no LLM query parsing, no auth
// middleware — those are explicitly out of scope (spec.md §1).
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAPIConfig()
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

	slog.InfoContext(ctx, "starting scraper api")

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

	// The API process never refreshes tokens itself (that's
	// cmd/scraper-worker's job); this Supervisor only exists so
	// control.Surface.Health has something to report against, and will
	// correctly show IsRunning=false since StartAutoRefresh is never called.
	tokens := token.New("", &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}, logger)

	surface := control.New(gw, broker, recorder, tokens, control.Config{
		Cooldown: cfg.RateLimitCooldown,
	})

	h := httpapi.NewHandler(surface, logger)
	router := httpapi.NewRouter(h, logger, httpapi.Config{MaxBodyBytes: cfg.MaxBodyBytes})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: otelhttp.NewHandler(router, "scraper-api"),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "scraper api listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down scraper api")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown server gracefully", "error", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
