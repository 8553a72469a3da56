package postgres

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/integritystudio/tcad-scraper/internal/model"
)

func float64Ptr(f float64) *float64 { return &f }

// TestUpsert_RoundTripIdempotence covers invariants 1-2 and the
// round-trip property from spec.md §8: upserting the same input twice
// yields the same final state, with updated_at advanced.
func TestUpsert_RoundTripIdempotence(t *testing.T) {
	gw, ctx := setupTestGateway(t)

	records := []model.PropertyRecord{
		{PropertyID: "101", OwnerName: "Alice", AppraisedValue: 1000, AssessedValue: float64Ptr(900)},
		{PropertyID: "102", OwnerName: "Bob", AppraisedValue: 2000},
	}

	count, err := gw.Upsert(ctx, records, "Trust")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = gw.Upsert(ctx, records, "Trust")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var total int
	require.NoError(t, gw.pool.QueryRow(ctx, `SELECT count(*) FROM property_records`).Scan(&total))
	assert.Equal(t, 2, total, "property_id is the natural key; re-upserting must not duplicate rows")
}

func TestUpsert_ChunksOverFiveHundred(t *testing.T) {
	gw, ctx := setupTestGateway(t)

	records := make([]model.PropertyRecord, 0, 1200)
	for i := 0; i < 1200; i++ {
		records = append(records, model.PropertyRecord{
			PropertyID:     fmt.Sprintf("bulk-%d", i),
			AppraisedValue: 1,
		})
	}

	count, err := gw.Upsert(ctx, records, "Bulk")
	require.NoError(t, err)
	assert.Equal(t, 1200, count)
}

func TestJobLifecycle_BeginCompleteFail(t *testing.T) {
	gw, ctx := setupTestGateway(t)

	jobID, err := gw.BeginJob(ctx, "Smith")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	require.NoError(t, gw.CompleteJob(ctx, jobID, 42))

	job, err := gw.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.ScrapeJobCompleted, job.Status)
	require.NotNil(t, job.ResultCount)
	assert.Equal(t, 42, *job.ResultCount)
	require.NotNil(t, job.CompletedAt)
	assert.False(t, job.CompletedAt.Before(job.StartedAt))
}

func TestJobLifecycle_Fail(t *testing.T) {
	gw, ctx := setupTestGateway(t)

	jobID, err := gw.BeginJob(ctx, "Failed Term")
	require.NoError(t, err)

	require.NoError(t, gw.FailJob(ctx, jobID, "upstream unrecoverable"))

	job, err := gw.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.ScrapeJobFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "upstream unrecoverable", *job.Error)
}

func TestIsTermCompleted(t *testing.T) {
	gw, ctx := setupTestGateway(t)

	ok, err := gw.IsTermCompleted(ctx, "Park")
	require.NoError(t, err)
	assert.False(t, ok)

	jobID, err := gw.BeginJob(ctx, "Park")
	require.NoError(t, err)
	require.NoError(t, gw.CompleteJob(ctx, jobID, 3))

	ok, err = gw.IsTermCompleted(ctx, "Park")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMonitors_AddListUpdateRunTimes(t *testing.T) {
	gw, ctx := setupTestGateway(t)

	require.NoError(t, gw.AddMonitor(ctx, "Family", model.FrequencyDaily))

	monitors, err := gw.ListMonitors(ctx)
	require.NoError(t, err)
	require.Len(t, monitors, 1)
	assert.Equal(t, "Family", monitors[0].SearchTerm)
	assert.Equal(t, model.FrequencyDaily, monitors[0].Frequency)
	assert.True(t, monitors[0].Active)

	daily, err := gw.ListActiveMonitorsByFrequency(ctx, model.FrequencyDaily)
	require.NoError(t, err)
	require.Len(t, daily, 1)

	now := monitors[0].CreatedAt
	require.NoError(t, gw.UpdateMonitorRunTimes(ctx, "Family", now, now.AddDate(0, 0, 1)))

	monitors, err = gw.ListMonitors(ctx)
	require.NoError(t, err)
	require.NotNil(t, monitors[0].LastRun)
}

func TestTryAcquireExclusiveRun_SecondCallerBlockedUntilExpiry(t *testing.T) {
	gw, ctx := setupTestGateway(t)

	acquired, err := gw.TryAcquireExclusiveRun(ctx, "hygiene", "worker-a", time.Hour)
	require.NoError(t, err)
	assert.True(t, acquired, "first acquisition always succeeds")

	acquired, err = gw.TryAcquireExclusiveRun(ctx, "hygiene", "worker-b", time.Hour)
	require.NoError(t, err)
	assert.False(t, acquired, "worker-a's lease is still live; worker-b must not steal it")
}

func TestTryAcquireExclusiveRun_StealableOnceExpired(t *testing.T) {
	gw, ctx := setupTestGateway(t)

	acquired, err := gw.TryAcquireExclusiveRun(ctx, "scheduler", "worker-a", -time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = gw.TryAcquireExclusiveRun(ctx, "scheduler", "worker-b", time.Hour)
	require.NoError(t, err)
	assert.True(t, acquired, "worker-a's lease already expired; worker-b must be able to take over")
}

func TestRecordTermStats_AccumulatesAcrossCalls(t *testing.T) {
	gw, ctx := setupTestGateway(t)

	require.NoError(t, gw.RecordTermStats(ctx, "Corp", true, 10, ""))
	require.NoError(t, gw.RecordTermStats(ctx, "Corp", false, 0, "timeout"))

	var success, failure, total int64
	var lastErr *string
	err := gw.pool.QueryRow(ctx, `
		SELECT success_count, failure_count, total_records, last_error
		FROM search_term_stats WHERE search_term = $1`, "Corp",
	).Scan(&success, &failure, &total, &lastErr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), success)
	assert.Equal(t, int64(1), failure)
	assert.Equal(t, int64(10), total)
	require.NotNil(t, lastErr)
	assert.Equal(t, "timeout", *lastErr)
}
