// Package hygiene runs the periodic de-duplication and backlog pruning
// pass over the queue broker (spec.md §4.G).
package hygiene

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/integritystudio/tcad-scraper/internal/model"
	"github.com/integritystudio/tcad-scraper/internal/persistence/postgres"
	"github.com/integritystudio/tcad-scraper/internal/queue"
)

// leaseRunType identifies this sweeper's exclusive-run lease row, so
// only one instance runs cluster-wide at a time (spec.md §4.G).
const leaseRunType = "backlog-hygiene-sweep"

// Config configures a Sweeper.
type Config struct {
	WorkerID         string
	Interval         time.Duration // default 1h
	GracePeriod      time.Duration // default 24h
	LeaseDuration    time.Duration // default 2x Interval
	MaxStartupJitter time.Duration // default 30s
	RateLimitDelay   time.Duration // default 50ms between term groups
}

// Sweeper runs the de-duplication and retention pass.
type Sweeper struct {
	broker  *queue.Broker
	gateway *postgres.Gateway
	logger  *slog.Logger
	cfg     Config
}

// New builds a Sweeper, applying defaults to zero-valued Config fields.
func New(broker *queue.Broker, gateway *postgres.Gateway, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 24 * time.Hour
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 2 * cfg.Interval
	}
	if cfg.MaxStartupJitter <= 0 {
		cfg.MaxStartupJitter = 30 * time.Second
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 50 * time.Millisecond
	}
	return &Sweeper{broker: broker, gateway: gateway, logger: logger, cfg: cfg}
}

// Run loops until ctx is done, starting with a jittered delay to avoid
// a thundering herd of freshly-deployed instances all racing for the
// exclusive lease at once, grounded on the teacher's ReconciliationWorker.Run.
func (s *Sweeper) Run(ctx context.Context) {
	if s.cfg.MaxStartupJitter > 0 {
		jitter := rand.N(s.cfg.MaxStartupJitter)
		timer := time.NewTimer(jitter)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	if err := s.sweepOnce(ctx); err != nil {
		s.logger.ErrorContext(ctx, "initial hygiene sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "hygiene sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) error {
	acquired, err := s.gateway.TryAcquireExclusiveRun(ctx, leaseRunType, s.cfg.WorkerID, s.cfg.LeaseDuration)
	if err != nil {
		return err
	}
	if !acquired {
		s.logger.DebugContext(ctx, "hygiene sweep skipped, another instance holds the lease")
		return nil
	}

	if err := s.dedupe(ctx); err != nil {
		return err
	}

	removed, err := s.broker.PruneTerminal(ctx, s.cfg.GracePeriod)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.InfoContext(ctx, "hygiene sweep pruned terminal jobs", "removed", removed)
	}
	return nil
}

// dedupe implements spec.md §4.G steps 1-4: group waiting/delayed jobs
// by search_term, keep the highest-priority (lowest numeric priority,
// ties by insertion order) entry per group and drop the rest, and
// separately drop any non-scheduled waiting/delayed job whose term
// already has a completed ScrapeJob row.
func (s *Sweeper) dedupe(ctx context.Context) error {
	jobs, err := s.broker.ListWaitingAndDelayed(ctx)
	if err != nil {
		return err
	}

	groups := make(map[string][]model.QueueJob)
	for _, j := range jobs {
		groups[j.SearchTerm] = append(groups[j.SearchTerm], j)
	}

	first := true
	for term, group := range groups {
		if !first && s.cfg.RateLimitDelay > 0 {
			time.Sleep(s.cfg.RateLimitDelay)
		}
		first = false

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.dedupeGroup(ctx, term, group); err != nil {
			s.logger.ErrorContext(ctx, "hygiene: failed to dedupe group", "term", term, "error", err)
		}
	}
	return nil
}

func (s *Sweeper) dedupeGroup(ctx context.Context, term string, group []model.QueueJob) error {
	if len(group) > 1 {
		keep := group[0]
		for _, j := range group[1:] {
			if j.Priority < keep.Priority {
				keep = j
			}
		}
		for _, j := range group {
			if j.ID == keep.ID {
				continue
			}
			if err := s.broker.Remove(ctx, j.ID); err != nil && !errors.Is(err, queue.ErrJobNotFound) {
				return err
			}
		}
		group = []model.QueueJob{keep}
	}

	completed, err := s.gateway.IsTermCompleted(ctx, term)
	if err != nil {
		return err
	}
	if !completed {
		return nil
	}

	for _, j := range group {
		if j.Scheduled {
			continue
		}
		if err := s.broker.Remove(ctx, j.ID); err != nil && !errors.Is(err, queue.ErrJobNotFound) {
			return err
		}
	}
	return nil
}
