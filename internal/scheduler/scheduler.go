// Package scheduler drives the four recurring re-scrape triggers
// (spec.md §4.H) on top of github.com/robfig/cron/v3.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/integritystudio/tcad-scraper/internal/model"
	"github.com/integritystudio/tcad-scraper/internal/persistence/postgres"
	"github.com/integritystudio/tcad-scraper/internal/queue"
)

// maxJitter bounds the per-term random delay added to every scheduled
// enqueue, to desynchronize upstream load (spec.md §4.H).
const maxJitter = 60 * time.Second

// trigger pairs one cron expression with the monitor frequency it fires.
type trigger struct {
	expr      string
	frequency model.Frequency
}

var triggers = []trigger{
	{expr: "0 * * * *", frequency: model.FrequencyHourly},
	{expr: "0 2 * * *", frequency: model.FrequencyDaily},
	{expr: "0 3 * * 0", frequency: model.FrequencyWeekly},
	{expr: "0 4 1 * *", frequency: model.FrequencyMonthly},
}

// Scheduler wraps a cron.Cron with the four registered schedules.
type Scheduler struct {
	cron    *cron.Cron
	broker  *queue.Broker
	gateway *postgres.Gateway
	logger  *slog.Logger
}

// New registers all four triggers against broker/gateway.
func New(broker *queue.Broker, gateway *postgres.Gateway, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		broker:  broker,
		gateway: gateway,
		logger:  logger,
	}

	for _, trg := range triggers {
		frequency := trg.frequency
		if _, err := s.cron.AddFunc(trg.expr, func() {
			s.fireTrigger(context.Background(), frequency)
		}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start begins running registered schedules in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the cron scheduler from firing new triggers, then blocks
// until any running trigger finishes or ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) fireTrigger(ctx context.Context, frequency model.Frequency) {
	monitors, err := s.gateway.ListActiveMonitorsByFrequency(ctx, frequency)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduler: failed to list monitors", "frequency", frequency, "error", err)
		return
	}

	now := time.Now().UTC()
	nextRun := nextRunFor(frequency, now)

	for _, m := range monitors {
		jitter := rand.N(maxJitter)
		if _, err := s.broker.Enqueue(ctx, m.SearchTerm, queue.EnqueueOptions{Scheduled: true, Delay: jitter}); err != nil {
			s.logger.ErrorContext(ctx, "scheduler: enqueue failed", "term", m.SearchTerm, "error", err)
			continue
		}
		if err := s.gateway.UpdateMonitorRunTimes(ctx, m.SearchTerm, now, nextRun); err != nil {
			s.logger.ErrorContext(ctx, "scheduler: failed to update run times", "term", m.SearchTerm, "error", err)
		}
	}
}

// nextRunFor computes the next occurrence of frequency after from, used
// to populate MonitoredSearch.next_run immediately after enqueuing.
func nextRunFor(frequency model.Frequency, from time.Time) time.Time {
	switch frequency {
	case model.FrequencyHourly:
		return from.Add(time.Hour)
	case model.FrequencyDaily:
		return from.AddDate(0, 0, 1)
	case model.FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case model.FrequencyMonthly:
		return from.AddDate(0, 1, 0)
	default:
		return from.Add(time.Hour)
	}
}
