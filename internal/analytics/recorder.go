// Package analytics tracks append-only per-search-term counters
// (spec.md §4.I): success/failure counts, total records produced, and
// the last error/run, mirrored to durable storage on every Record call.
package analytics

import (
	"context"
	"sync"
	"time"
)

// Stats is one term's counters, exposed to the control surface.
type Stats struct {
	SearchTerm   string
	SuccessCount int64
	FailureCount int64
	TotalRecords int64
	LastError    string
	LastRunAt    time.Time
}

// Mirror is the durable sink a Recorder writes through to. Satisfied by
// internal/persistence/postgres.Gateway.RecordTermStats.
type Mirror interface {
	RecordTermStats(ctx context.Context, searchTerm string, success bool, recordCount int, errMsg string) error
}

// Recorder holds an in-memory view of per-term counters guarded by a
// single RWMutex, mirroring the teacher's mutex-guarded counters shape.
// It is read far more often (control-surface Stats calls) than written
// (one Record per completed job), hence RWMutex over a plain Mutex.
type Recorder struct {
	mu    sync.RWMutex
	stats map[string]*Stats

	mirror Mirror
}

// New builds a Recorder that mirrors every Record call through to mirror.
func New(mirror Mirror) *Recorder {
	return &Recorder{
		stats:  make(map[string]*Stats),
		mirror: mirror,
	}
}

// Record appends one job outcome to term's counters and mirrors it to
// durable storage. Mirror failures are swallowed with a best-effort
// semantic: analytics is explicitly "not on the hot path of a fetch"
// (spec.md §4.I), so a mirror write failure must not fail the job.
func (r *Recorder) Record(term string, recordCount int, success bool, errMsg string) {
	r.mu.Lock()
	s, ok := r.stats[term]
	if !ok {
		s = &Stats{SearchTerm: term}
		r.stats[term] = s
	}
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	s.TotalRecords += int64(recordCount)
	if errMsg != "" {
		s.LastError = errMsg
	}
	s.LastRunAt = time.Now().UTC()
	r.mu.Unlock()

	if r.mirror != nil {
		_ = r.mirror.RecordTermStats(context.Background(), term, success, recordCount, errMsg)
	}
}

// Get returns a snapshot of one term's in-memory counters.
func (r *Recorder) Get(term string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[term]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// All returns a snapshot of every tracked term's counters.
func (r *Recorder) All() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stats, 0, len(r.stats))
	for _, s := range r.stats {
		out = append(out, *s)
	}
	return out
}
