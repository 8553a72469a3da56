package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/integritystudio/tcad-scraper/internal/config"
	"github.com/integritystudio/tcad-scraper/internal/observability"
	"github.com/integritystudio/tcad-scraper/internal/persistence/postgres"
	"github.com/integritystudio/tcad-scraper/internal/queue"
	"github.com/integritystudio/tcad-scraper/internal/scheduler"
)

// cmd/scraper-scheduler hosts only the four recurring re-scrape
// triggers (spec.md §4.H), so it can scale and restart independently
// of the worker fleet. It takes no lease; duplicate enqueues from N
// replicas are collapsed by the hygiene sweeper's per-term de-duplication.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadSchedulerConfig()
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

	slog.InfoContext(ctx, "starting scraper scheduler")

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

	broker := queue.New(gw.Pool())

	sched, err := scheduler.New(broker, gw, logger)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}

	sched.Start()
	slog.InfoContext(ctx, "scraper scheduler running", "triggers", 4)

	<-ctx.Done()
	slog.InfoContext(ctx, "shutting down scraper scheduler")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	sched.Stop(shutdownCtx)

	return nil
}
