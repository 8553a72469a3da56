package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/integritystudio/tcad-scraper/internal/model"
)

const upsertChunkSize = 500

// Upsert inserts or updates records keyed by property_id, chunked into
// round-trips of at most 500 records each (spec.md §4.D). Each chunk is
// a single atomic transaction; a chunk failure fails the whole call.
// Returns the count of records accepted.
func (g *Gateway) Upsert(ctx context.Context, records []model.PropertyRecord, searchTerm string) (int, error) {
	accepted := 0
	now := time.Now().UTC()

	for start := 0; start < len(records); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(records))
		chunk := records[start:end]

		if err := g.upsertChunk(ctx, chunk, searchTerm, now); err != nil {
			return accepted, fmt.Errorf("%w: %w", ErrUpsertFailed, err)
		}
		accepted += len(chunk)
	}

	if g.cache != nil && accepted > 0 {
		if err := g.cache.DeletePattern(ctx, "properties:list:*"); err != nil {
			return accepted, fmt.Errorf("postgres: invalidate list cache: %w", err)
		}
		if err := g.cache.Delete(ctx, "properties:stats:all"); err != nil {
			return accepted, fmt.Errorf("postgres: invalidate stats cache: %w", err)
		}
	}

	return accepted, nil
}

func (g *Gateway) upsertChunk(ctx context.Context, chunk []model.PropertyRecord, searchTerm string, scrapedAt time.Time) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const stmt = `
		INSERT INTO property_records
			(property_id, owner_name, prop_type, city, address, assessed_value,
			 appraised_value, geo_id, description, search_term, scraped_at,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, $11)
		ON CONFLICT (property_id) DO UPDATE SET
			owner_name      = EXCLUDED.owner_name,
			prop_type       = EXCLUDED.prop_type,
			city            = EXCLUDED.city,
			address         = EXCLUDED.address,
			assessed_value  = EXCLUDED.assessed_value,
			appraised_value = EXCLUDED.appraised_value,
			geo_id          = EXCLUDED.geo_id,
			description     = EXCLUDED.description,
			search_term     = EXCLUDED.search_term,
			scraped_at      = EXCLUDED.scraped_at,
			updated_at      = EXCLUDED.updated_at`

	batch := &pgx.Batch{}
	for _, r := range chunk {
		term := searchTerm
		if r.SearchTerm != "" {
			term = r.SearchTerm
		}
		batch.Queue(stmt,
			r.PropertyID, r.OwnerName, r.PropType, r.City, r.Address,
			r.AssessedValue, r.AppraisedValue, r.GeoID, r.Description, term, scrapedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range chunk {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// BeginJob creates a new scrape_jobs row in status processing and returns its id.
func (g *Gateway) BeginJob(ctx context.Context, searchTerm string) (string, error) {
	id := uuid.New()
	_, err := g.pool.Exec(ctx, `
		INSERT INTO scrape_jobs (id, search_term, status, started_at)
		VALUES ($1, $2, 'processing', now())`,
		id, searchTerm)
	if err != nil {
		return "", fmt.Errorf("postgres: begin job: %w", err)
	}
	return id.String(), nil
}

// CompleteJob marks a job completed with its result count.
func (g *Gateway) CompleteJob(ctx context.Context, jobID string, resultCount int) error {
	tag, err := g.pool.Exec(ctx, `
		UPDATE scrape_jobs
		SET status = 'completed', result_count = $2, completed_at = now()
		WHERE id = $1`,
		jobID, resultCount)
	if err != nil {
		return fmt.Errorf("postgres: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// FailJob marks a job failed with an error message.
func (g *Gateway) FailJob(ctx context.Context, jobID string, errMsg string) error {
	tag, err := g.pool.Exec(ctx, `
		UPDATE scrape_jobs
		SET status = 'failed', error = $2, completed_at = now()
		WHERE id = $1`,
		jobID, errMsg)
	if err != nil {
		return fmt.Errorf("postgres: fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetJob reads back a scrape job by id.
func (g *Gateway) GetJob(ctx context.Context, jobID string) (*model.ScrapeJob, error) {
	var job model.ScrapeJob
	err := g.pool.QueryRow(ctx, `
		SELECT id, search_term, status, result_count, error, started_at, completed_at
		FROM scrape_jobs WHERE id = $1`, jobID,
	).Scan(&job.ID, &job.SearchTerm, &job.Status, &job.ResultCount, &job.Error, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}
	return &job, nil
}

// IsTermCompleted reports whether a scrape_jobs row with status=completed
// exists for searchTerm (consulted by the hygiene sweeper, spec.md §4.G).
func (g *Gateway) IsTermCompleted(ctx context.Context, searchTerm string) (bool, error) {
	var exists bool
	err := g.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM scrape_jobs WHERE search_term = $1 AND status = 'completed')`,
		searchTerm,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check term completed: %w", err)
	}
	return exists, nil
}

// AddMonitor upserts a MonitoredSearch row.
func (g *Gateway) AddMonitor(ctx context.Context, searchTerm string, frequency model.Frequency) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO monitored_searches (search_term, active, frequency, created_at, updated_at)
		VALUES ($1, true, $2, now(), now())
		ON CONFLICT (search_term) DO UPDATE SET
			frequency = EXCLUDED.frequency,
			active = true,
			updated_at = now()`,
		searchTerm, frequency)
	if err != nil {
		return fmt.Errorf("postgres: add monitor: %w", err)
	}
	return nil
}

// ListMonitors returns all monitored searches.
func (g *Gateway) ListMonitors(ctx context.Context) ([]model.MonitoredSearch, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT search_term, active, frequency, last_run, next_run, created_at, updated_at
		FROM monitored_searches ORDER BY search_term`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list monitors: %w", err)
	}
	defer rows.Close()

	var out []model.MonitoredSearch
	for rows.Next() {
		var m model.MonitoredSearch
		if err := rows.Scan(&m.SearchTerm, &m.Active, &m.Frequency, &m.LastRun, &m.NextRun, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan monitor: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListActiveMonitorsByFrequency returns active monitors for one cron
// trigger (spec.md §4.H).
func (g *Gateway) ListActiveMonitorsByFrequency(ctx context.Context, frequency model.Frequency) ([]model.MonitoredSearch, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT search_term, active, frequency, last_run, next_run, created_at, updated_at
		FROM monitored_searches WHERE active = true AND frequency = $1`, frequency)
	if err != nil {
		return nil, fmt.Errorf("postgres: list monitors by frequency: %w", err)
	}
	defer rows.Close()

	var out []model.MonitoredSearch
	for rows.Next() {
		var m model.MonitoredSearch
		if err := rows.Scan(&m.SearchTerm, &m.Active, &m.Frequency, &m.LastRun, &m.NextRun, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan monitor: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMonitorRunTimes sets last_run/next_run after the scheduler enqueues a term.
func (g *Gateway) UpdateMonitorRunTimes(ctx context.Context, searchTerm string, lastRun, nextRun time.Time) error {
	_, err := g.pool.Exec(ctx, `
		UPDATE monitored_searches SET last_run = $2, next_run = $3, updated_at = now()
		WHERE search_term = $1`,
		searchTerm, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("postgres: update monitor run times: %w", err)
	}
	return nil
}

// RecordTermStats mirrors one analytics.Record call to search_term_stats
// (spec.md §4.I).
func (g *Gateway) RecordTermStats(ctx context.Context, searchTerm string, success bool, recordCount int, errMsg string) error {
	successInc, failureInc := 0, 0
	if success {
		successInc = 1
	} else {
		failureInc = 1
	}

	var lastErrArg any
	if errMsg != "" {
		lastErrArg = errMsg
	}

	_, err := g.pool.Exec(ctx, `
		INSERT INTO search_term_stats (search_term, success_count, failure_count, total_records, last_error, last_run_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (search_term) DO UPDATE SET
			success_count = search_term_stats.success_count + EXCLUDED.success_count,
			failure_count = search_term_stats.failure_count + EXCLUDED.failure_count,
			total_records = search_term_stats.total_records + EXCLUDED.total_records,
			last_error    = COALESCE(EXCLUDED.last_error, search_term_stats.last_error),
			last_run_at   = now(),
			updated_at    = now()`,
		searchTerm, successInc, failureInc, recordCount, lastErrArg)
	if err != nil {
		return fmt.Errorf("postgres: record term stats: %w", err)
	}
	return nil
}

// TryAcquireExclusiveRun grants an exclusive, lease-bound run of runType
// to holderID, so only one instance executes it cluster-wide at a time
// (spec.md §3 scraper_cron_leases). Its caller is the hygiene sweeper.
func (g *Gateway) TryAcquireExclusiveRun(ctx context.Context, runType, holderID string, leaseDuration time.Duration) (acquired bool, err error) {
	expiresAt := time.Now().UTC().Add(leaseDuration)

	tag, err := g.pool.Exec(ctx, `
		INSERT INTO scraper_cron_leases (run_type, holder_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_type) DO UPDATE SET
			holder_id = EXCLUDED.holder_id,
			expires_at = EXCLUDED.expires_at
		WHERE scraper_cron_leases.expires_at < now()`,
		runType, holderID, expiresAt)
	if err != nil {
		return false, fmt.Errorf("postgres: acquire exclusive run: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
