package postgres

import "errors"

// Sentinel errors surfaced by the persistence gateway, for callers to
// classify via errors.Is (spec.md §7).
var (
	// ErrUpsertFailed wraps a failed batch upsert round-trip.
	ErrUpsertFailed = errors.New("postgres: upsert failed")

	// ErrJobNotFound indicates CompleteJob/FailJob/GetJob referenced a
	// scrape_jobs row that does not exist.
	ErrJobNotFound = errors.New("postgres: scrape job not found")
)
