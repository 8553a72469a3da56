// Package queue is the Postgres-backed queue broker adapter (spec.md
// §4.E): the {waiting, active, delayed, completed, failed} state
// machine backing the worker pool, hygiene sweeper, and scheduler.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/integritystudio/tcad-scraper/internal/model"
)

const (
	// DefaultAttempts is opts.Attempts when Enqueue leaves it at zero.
	DefaultAttempts = 3
	// DefaultBackoffBase is the exponential backoff base (spec.md §4.E).
	DefaultBackoffBase = 2 * time.Second
	// StallTimeout is how long a claimed job may run before another
	// worker is allowed to reclaim it (spec.md §4.E "stall recovery").
	StallTimeout = 5 * time.Minute
	// pollInterval is how often Fetch re-polls for a claimable job.
	pollInterval = 500 * time.Millisecond
)

// EnqueueOptions configures one Enqueue call.
type EnqueueOptions struct {
	Attempts  int // default DefaultAttempts
	Priority  int // lower wins; default 0
	Delay     time.Duration
	Scheduled bool
}

// Broker is a Postgres-backed implementation of the queue interface in
// spec.md §4.E, sharing the persistence gateway's connection pool.
type Broker struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool (shared with internal/persistence/postgres.Gateway.Pool()).
func New(pool *pgxpool.Pool) *Broker {
	return &Broker{pool: pool}
}

// Enqueue inserts a new job in waiting or delayed state.
func (b *Broker) Enqueue(ctx context.Context, searchTerm string, opts EnqueueOptions) (string, error) {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	id := uuid.New()
	runAfter := time.Now().UTC().Add(opts.Delay)
	status := model.QueueJobWaiting
	if opts.Delay > 0 {
		status = model.QueueJobDelayed
	}

	_, err := b.pool.Exec(ctx, `
		INSERT INTO scrape_queue_jobs
			(id, search_term, scheduled, attempt, max_attempts, priority, status, run_after, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, now(), now())`,
		id, searchTerm, opts.Scheduled, attempts, opts.Priority, status, runAfter)
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return id.String(), nil
}

// Fetch blocks, polling on pollInterval, until a job is claimed or ctx
// is done. Claiming promotes a due waiting/delayed row to active via
// SELECT ... FOR UPDATE SKIP LOCKED, the pattern grounded on the
// teacher's ClaimNextJob.
func (b *Broker) Fetch(ctx context.Context, workerID string) (*model.QueueJob, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, err := b.claimOne(ctx, workerID)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Broker) claimOne(ctx context.Context, workerID string) (*model.QueueJob, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var job model.QueueJob
	err = tx.QueryRow(ctx, `
		SELECT id, search_term, scheduled, attempt, priority, status, run_after, created_at, updated_at
		FROM scrape_queue_jobs
		WHERE (status IN ('waiting', 'delayed') AND run_after <= now())
		   OR (status = 'active' AND available_at < now())
		ORDER BY priority ASC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`,
	).Scan(&job.ID, &job.SearchTerm, &job.Scheduled, &job.Attempt, &job.Priority, &job.Status, &job.RunAfter, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: claim next job: %w", err)
	}

	availableAt := time.Now().UTC().Add(StallTimeout)
	_, err = tx.Exec(ctx, `
		UPDATE scrape_queue_jobs
		SET status = 'active', claimed_by = $2, available_at = $3, updated_at = now()
		WHERE id = $1`,
		job.ID, workerID, availableAt)
	if err != nil {
		return nil, fmt.Errorf("queue: mark job active: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("queue: commit claim: %w", err)
	}

	job.Status = model.QueueJobActive
	job.ClaimedBy = workerID
	return &job, nil
}

// Ack marks a job completed, subject to an ownership check: a job
// reclaimed by another worker after a stall timeout no longer belongs
// to this caller.
func (b *Broker) Ack(ctx context.Context, jobID, workerID string) error {
	tag, err := b.pool.Exec(ctx, `
		UPDATE scrape_queue_jobs
		SET status = 'completed', updated_at = now()
		WHERE id = $1 AND claimed_by = $2`,
		jobID, workerID)
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOwnershipLost
	}
	return nil
}

// Fail records a failure. If retryable and attempts remain, the job is
// re-delayed per exponential backoff with full jitter; otherwise (or
// when retryable is false) it is moved to the dead-letter table.
func (b *Broker) Fail(ctx context.Context, jobID, workerID string, retryable bool, errMsg string) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("queue: begin fail tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var job model.QueueJob
	var maxAttempts int
	err = tx.QueryRow(ctx, `
		SELECT id, search_term, scheduled, attempt, max_attempts, priority, status, run_after, created_at, updated_at
		FROM scrape_queue_jobs WHERE id = $1 AND claimed_by = $2 FOR UPDATE`,
		jobID, workerID,
	).Scan(&job.ID, &job.SearchTerm, &job.Scheduled, &job.Attempt, &maxAttempts, &job.Priority, &job.Status, &job.RunAfter, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOwnershipLost
		}
		return fmt.Errorf("queue: fetch job for failure: %w", err)
	}

	newAttempt := job.Attempt + 1

	if !retryable || newAttempt >= maxAttempts {
		if _, err := tx.Exec(ctx, `
			INSERT INTO scrape_dead_letter_jobs (original_job_id, search_term, scheduled, attempt, last_error)
			VALUES ($1, $2, $3, $4, $5)`,
			job.ID, job.SearchTerm, job.Scheduled, newAttempt, errMsg,
		); err != nil {
			return fmt.Errorf("queue: move to dead letter: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE scrape_queue_jobs
			SET status = 'failed', attempt = $2, last_error = $3, updated_at = now()
			WHERE id = $1 AND claimed_by = $4`,
			job.ID, newAttempt, errMsg, workerID)
		if err != nil {
			return fmt.Errorf("queue: mark job failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrOwnershipLost
		}
		return tx.Commit(ctx)
	}

	delay := backoffWithFullJitter(newAttempt, DefaultBackoffBase)
	runAfter := time.Now().UTC().Add(delay)

	tag, err := tx.Exec(ctx, `
		UPDATE scrape_queue_jobs
		SET status = 'delayed', attempt = $2, run_after = $3, last_error = $4,
		    claimed_by = NULL, available_at = NULL, updated_at = now()
		WHERE id = $1 AND claimed_by = $5`,
		job.ID, newAttempt, runAfter, errMsg, workerID)
	if err != nil {
		return fmt.Errorf("queue: schedule retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOwnershipLost
	}
	return tx.Commit(ctx)
}

// backoffWithFullJitter computes delay = base * 2^(attempt-1), then
// returns a uniformly-random duration in [0, delay) (spec.md §4.E),
// grounded on the teacher's calculateRetryDelay.
func backoffWithFullJitter(attempt int, base time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt-1))
	if backoff <= 0 {
		return base
	}
	return time.Duration(rand.Int64N(int64(backoff)))
}

// Progress is observational; the broker does not persist it (spec.md
// §4.E "observational" — no percent-complete column exists).
func (b *Broker) Progress(ctx context.Context, jobID string, pct int) error {
	return nil
}

// Counts reports the size of each broker state, for Health/Stats.
func (b *Broker) Counts(ctx context.Context) (map[model.QueueJobStatus]int, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT status, count(*) FROM scrape_queue_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue: counts: %w", err)
	}
	defer rows.Close()

	counts := map[model.QueueJobStatus]int{
		model.QueueJobWaiting:   0,
		model.QueueJobActive:    0,
		model.QueueJobDelayed:   0,
		model.QueueJobCompleted: 0,
		model.QueueJobFailed:    0,
	}
	for rows.Next() {
		var status model.QueueJobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("queue: scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListWaitingAndDelayed returns every non-terminal, non-active job, for
// the hygiene sweeper's de-duplication pass (spec.md §4.G).
func (b *Broker) ListWaitingAndDelayed(ctx context.Context) ([]model.QueueJob, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, search_term, scheduled, attempt, priority, status, run_after, created_at, updated_at
		FROM scrape_queue_jobs
		WHERE status IN ('waiting', 'delayed')
		ORDER BY search_term, priority ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("queue: list waiting/delayed: %w", err)
	}
	defer rows.Close()

	var out []model.QueueJob
	for rows.Next() {
		var j model.QueueJob
		if err := rows.Scan(&j.ID, &j.SearchTerm, &j.Scheduled, &j.Attempt, &j.Priority, &j.Status, &j.RunAfter, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("queue: scan waiting/delayed job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Remove deletes a job by id regardless of state (used by the hygiene
// sweeper to drop superseded duplicates and pruned terminal records).
func (b *Broker) Remove(ctx context.Context, jobID string) error {
	tag, err := b.pool.Exec(ctx, `DELETE FROM scrape_queue_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("queue: remove %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// PruneTerminal deletes completed/failed jobs older than olderThan, the
// retention step of the hygiene sweeper (spec.md §4.G step 5).
func (b *Broker) PruneTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := b.pool.Exec(ctx, `
		DELETE FROM scrape_queue_jobs
		WHERE status IN ('completed', 'failed') AND updated_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("queue: prune terminal jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
