package queue

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/integritystudio/tcad-scraper/internal/persistence/postgres"
)

// setupTestBroker opens a Broker against the same SCRAPER_TEST_POSTGRES_DSN
// gate the persistence package tests use, sharing one gateway's pool and
// running migrations through it.
func setupTestBroker(t *testing.T) (*Broker, context.Context) {
	t.Helper()

	dsn := os.Getenv("SCRAPER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCRAPER_TEST_POSTGRES_DSN not set; skipping queue integration test")
	}

	ctx := context.Background()
	gw, err := postgres.NewGateway(ctx, postgres.DBConfig{DSN: dsn})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = gw.Pool().Exec(ctx, `TRUNCATE TABLE scrape_queue_jobs, scrape_dead_letter_jobs CASCADE`)
		gw.Close()
	})

	return New(gw.Pool()), ctx
}
