package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestGateway opens a Gateway against SCRAPER_TEST_POSTGRES_DSN,
// running migrations, and truncates every table after the test. Tests
// skip when the DSN is unset, the same gating the teacher's
// tests/integration/postgres/testhelper.go used for Postgres.
func setupTestGateway(t *testing.T) (*Gateway, context.Context) {
	t.Helper()

	dsn := os.Getenv("SCRAPER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCRAPER_TEST_POSTGRES_DSN not set; skipping Postgres integration test")
	}

	ctx := context.Background()
	gw, err := NewGateway(ctx, DBConfig{DSN: dsn})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = gw.pool.Exec(ctx, `TRUNCATE TABLE
			property_records, scrape_jobs, monitored_searches,
			scrape_queue_jobs, scrape_dead_letter_jobs, search_term_stats,
			scraper_cron_leases CASCADE`)
		gw.Close()
	})

	return gw, ctx
}
