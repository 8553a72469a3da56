package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/integritystudio/tcad-scraper/internal/model"
)

func TestEnqueueFetchAck_HappyPath(t *testing.T) {
	b, ctx := setupTestBroker(t)

	id, err := b.Enqueue(ctx, "Smith", EnqueueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := b.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
	assert.Equal(t, model.QueueJobActive, job.Status)

	require.NoError(t, b.Ack(ctx, job.ID, "worker-1"))

	counts, err := b.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.QueueJobCompleted])
}

func TestFetch_BlocksUntilContextCancelled(t *testing.T) {
	b, ctx := setupTestBroker(t)

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := b.Fetch(cctx, "worker-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFail_RetryableReschedulesWithBackoff(t *testing.T) {
	b, ctx := setupTestBroker(t)

	id, err := b.Enqueue(ctx, "Jones", EnqueueOptions{Attempts: 3})
	require.NoError(t, err)

	job, err := b.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	require.NoError(t, b.Fail(ctx, job.ID, "worker-1", true, "temporary upstream error"))

	counts, err := b.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.QueueJobDelayed])
}

func TestFail_ExhaustedAttemptsMovesToDeadLetter(t *testing.T) {
	b, ctx := setupTestBroker(t)

	id, err := b.Enqueue(ctx, "Park", EnqueueOptions{Attempts: 1})
	require.NoError(t, err)

	job, err := b.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	require.NoError(t, b.Fail(ctx, job.ID, "worker-1", true, "unrecoverable"))

	counts, err := b.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.QueueJobFailed])

	var dlqCount int
	require.NoError(t, b.pool.QueryRow(ctx, `SELECT count(*) FROM scrape_dead_letter_jobs WHERE original_job_id = $1`, job.ID).Scan(&dlqCount))
	assert.Equal(t, 1, dlqCount)
}

func TestFail_NonRetryableMovesToDeadLetterImmediately(t *testing.T) {
	b, ctx := setupTestBroker(t)

	id, err := b.Enqueue(ctx, "Corp", EnqueueOptions{Attempts: 5})
	require.NoError(t, err)

	job, err := b.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	require.NoError(t, b.Fail(ctx, job.ID, "worker-1", false, "permanent parse error"))

	counts, err := b.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.QueueJobFailed])
}

func TestAck_WrongOwnerReturnsOwnershipLost(t *testing.T) {
	b, ctx := setupTestBroker(t)

	id, err := b.Enqueue(ctx, "Garcia", EnqueueOptions{})
	require.NoError(t, err)

	job, err := b.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	err = b.Ack(ctx, job.ID, "worker-2")
	assert.ErrorIs(t, err, ErrOwnershipLost)
}

func TestListWaitingAndDelayed_ExcludesActiveAndTerminal(t *testing.T) {
	b, ctx := setupTestBroker(t)

	_, err := b.Enqueue(ctx, "Waiting", EnqueueOptions{})
	require.NoError(t, err)
	_, err = b.Enqueue(ctx, "AlsoDelayed", EnqueueOptions{Delay: time.Hour})
	require.NoError(t, err)

	activeID, err := b.Enqueue(ctx, "Active", EnqueueOptions{Priority: -1})
	require.NoError(t, err)
	_, err = b.Fetch(ctx, "worker-1")
	require.NoError(t, err)

	jobs, err := b.ListWaitingAndDelayed(ctx)
	require.NoError(t, err)

	var terms []string
	for _, j := range jobs {
		terms = append(terms, j.SearchTerm)
		assert.NotEqual(t, activeID, j.ID)
	}
	assert.ElementsMatch(t, []string{"Waiting", "AlsoDelayed"}, terms)
}

func TestPruneTerminal_RemovesOldCompletedAndFailed(t *testing.T) {
	b, ctx := setupTestBroker(t)

	id, err := b.Enqueue(ctx, "Old", EnqueueOptions{})
	require.NoError(t, err)
	job, err := b.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.NoError(t, b.Ack(ctx, job.ID, "worker-1"))

	_, err = b.pool.Exec(ctx, `UPDATE scrape_queue_jobs SET updated_at = now() - interval '48 hours' WHERE id = $1`, id)
	require.NoError(t, err)

	removed, err := b.PruneTerminal(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
