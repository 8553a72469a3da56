// Package control is the core control surface exposed to the thin API
// transport layer (spec.md §4.J): protocol-agnostic use-case methods
// over the persistence gateway, queue broker, and analytics recorder.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/integritystudio/tcad-scraper/internal/analytics"
	"github.com/integritystudio/tcad-scraper/internal/model"
	"github.com/integritystudio/tcad-scraper/internal/persistence/postgres"
	"github.com/integritystudio/tcad-scraper/internal/queue"
	"github.com/integritystudio/tcad-scraper/internal/token"
)

// DefaultCooldown is how soon the same term may be re-enqueued
// (spec.md §4.J, `scraper_rate_limit_cooldown`).
const DefaultCooldown = 5 * time.Second

// ErrRateLimited is returned by EnqueueScrape when term was enqueued
// within the cooldown window.
var ErrRateLimited = errors.New("control: term enqueued too recently")

// Config holds configuration for a Surface.
type Config struct {
	Cooldown time.Duration
}

// Surface is the protocol-agnostic façade cmd/scraper-api wraps in
// HTTP handlers, grounded on the teacher's application/todo.Service
// shape: a thin struct over a repository/broker, exposing use-case
// methods with application-layer defaults applied in the constructor.
type Surface struct {
	gateway  *postgres.Gateway
	broker   *queue.Broker
	recorder *analytics.Recorder
	tokens   *token.Supervisor
	cooldown time.Duration

	mu          sync.Mutex
	lastEnqueue map[string]time.Time
}

// New builds a Surface. Applies DefaultCooldown for a zero cfg.Cooldown.
func New(gateway *postgres.Gateway, broker *queue.Broker, recorder *analytics.Recorder, tokens *token.Supervisor, cfg Config) *Surface {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Surface{
		gateway:     gateway,
		broker:      broker,
		recorder:    recorder,
		tokens:      tokens,
		cooldown:    cooldown,
		lastEnqueue: make(map[string]time.Time),
	}
}

// EnqueueScrape enqueues an ad-hoc scrape of term, rejecting requests
// for the same term within the cooldown window.
func (s *Surface) EnqueueScrape(ctx context.Context, term string) (string, error) {
	s.mu.Lock()
	if last, ok := s.lastEnqueue[term]; ok && time.Since(last) < s.cooldown {
		s.mu.Unlock()
		return "", ErrRateLimited
	}
	s.lastEnqueue[term] = time.Now().UTC()
	s.mu.Unlock()

	jobID, err := s.broker.Enqueue(ctx, term, queue.EnqueueOptions{})
	if err != nil {
		return "", fmt.Errorf("control: enqueue scrape: %w", err)
	}
	return jobID, nil
}

// JobView is the read-model returned by GetJob.
type JobView struct {
	State       model.ScrapeJobStatus
	ResultCount *int
	Error       *string
	CreatedAt   time.Time
	CompletedAt *time.Time

	// ProgressPct is derived, not persisted: broker.Progress is a
	// documented no-op (spec.md §4.E), so there is no durable mid-run
	// value to report. 0 while pending/processing, 100 once terminal.
	ProgressPct int
}

// GetJob reads back a scrape job's durable state.
func (s *Surface) GetJob(ctx context.Context, jobID string) (*JobView, error) {
	job, err := s.gateway.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	progressPct := 0
	if job.Status == model.ScrapeJobCompleted || job.Status == model.ScrapeJobFailed {
		progressPct = 100
	}

	return &JobView{
		State:       job.Status,
		ResultCount: job.ResultCount,
		Error:       job.Error,
		CreatedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		ProgressPct: progressPct,
	}, nil
}

// AddMonitor upserts a recurring monitored search.
func (s *Surface) AddMonitor(ctx context.Context, term string, frequency model.Frequency) error {
	return s.gateway.AddMonitor(ctx, term, frequency)
}

// ListMonitors returns every monitored search.
func (s *Surface) ListMonitors(ctx context.Context) ([]model.MonitoredSearch, error) {
	return s.gateway.ListMonitors(ctx)
}

// Health is a point-in-time liveness/readiness snapshot.
type Health struct {
	TokenHealth token.Health
	QueueCounts map[model.QueueJobStatus]int
}

// Health reports the core's operational state.
func (s *Surface) Health(ctx context.Context) (Health, error) {
	counts, err := s.broker.Counts(ctx)
	if err != nil {
		return Health{}, fmt.Errorf("control: health: %w", err)
	}
	return Health{
		TokenHealth: s.tokens.HealthSnapshot(),
		QueueCounts: counts,
	}, nil
}

// Stats returns per-term analytics counters.
func (s *Surface) Stats(ctx context.Context) []analytics.Stats {
	return s.recorder.All()
}
