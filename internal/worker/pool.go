// Package worker runs the bounded-concurrency pool that drains the
// queue broker: fetch, persist, and report back per job (spec.md §4.F).
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/integritystudio/tcad-scraper/internal/analytics"
	"github.com/integritystudio/tcad-scraper/internal/fetcher"
	"github.com/integritystudio/tcad-scraper/internal/persistence/postgres"
	"github.com/integritystudio/tcad-scraper/internal/queue"
	"github.com/integritystudio/tcad-scraper/internal/token"
)

// Pool runs W worker goroutines pulling jobs from a Broker, matching
// the teacher's Worker.Start ticker/WaitGroup/done-channel shutdown
// shape, generalized from a ticker loop to a bounded goroutine pool
// blocking on broker.Fetch.
type Pool struct {
	broker   *queue.Broker
	gateway  *postgres.Gateway
	fetcher  *fetcher.Fetcher
	tokens   *token.Supervisor
	recorder *analytics.Recorder
	logger   *slog.Logger

	concurrency   int
	apiYear       string
	shutdownGrace time.Duration

	workerIDPrefix string
	done           chan struct{}
	wg             sync.WaitGroup
}

// Config configures a Pool.
type Config struct {
	Concurrency    int
	APIYear        string
	ShutdownGrace  time.Duration
	WorkerIDPrefix string
}

// New builds a Pool wired to its dependencies.
func New(broker *queue.Broker, gateway *postgres.Gateway, f *fetcher.Fetcher, tokens *token.Supervisor, recorder *analytics.Recorder, logger *slog.Logger, cfg Config) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	shutdownGrace := cfg.ShutdownGrace
	if shutdownGrace <= 0 {
		shutdownGrace = 10 * time.Second
	}
	prefix := cfg.WorkerIDPrefix
	if prefix == "" {
		prefix = "scraper-worker"
	}

	return &Pool{
		broker:         broker,
		gateway:        gateway,
		fetcher:        f,
		tokens:         tokens,
		recorder:       recorder,
		logger:         logger,
		concurrency:    concurrency,
		apiYear:        cfg.APIYear,
		shutdownGrace:  shutdownGrace,
		workerIDPrefix: prefix,
		done:           make(chan struct{}),
	}
}

// Start launches the worker goroutines. It returns once ctx is
// cancelled and all workers have drained or the shutdown grace period
// has elapsed, whichever comes first; Stop alone does not make it return.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", p.workerIDPrefix, i)
		p.wg.Add(1)
		go func(id string) {
			defer p.wg.Done()
			p.runLoop(ctx, id)
		}(workerID)
	}

	<-ctx.Done()
	p.logger.InfoContext(ctx, "worker pool shutting down", "grace", p.shutdownGrace)

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(p.shutdownGrace):
		p.logger.WarnContext(ctx, "shutdown grace period elapsed; abandoning in-flight jobs to stall recovery")
	}
}

// Stop signals all workers to stop pulling new jobs once they finish
// any job already in flight.
func (p *Pool) Stop() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

func (p *Pool) runLoop(ctx context.Context, workerID string) {
	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.broker.Fetch(ctx, workerID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			p.logger.ErrorContext(ctx, "broker fetch failed", "worker_id", workerID, "error", err)
			continue
		}

		p.process(ctx, workerID, job.ID, job.SearchTerm, job.Attempt)
	}
}

// process runs one job end to end, exactly per spec.md §4.F's
// catch-block behavior. BeginJob happens-before Upsert happens-before
// CompleteJob/FailJob.
func (p *Pool) process(ctx context.Context, workerID, jobID, term string, attempt int) {
	row, err := p.gateway.BeginJob(ctx, term)
	if err != nil {
		p.logger.ErrorContext(ctx, "begin job row failed", "worker_id", workerID, "term", term, "error", err)
		_ = p.broker.Fail(ctx, jobID, workerID, true, err.Error())
		return
	}

	tok, ok := p.tokens.Current()
	if !ok {
		_ = p.gateway.FailJob(ctx, row, "no upstream token available")
		p.recorder.Record(term, 0, false, "no upstream token available")
		_ = p.broker.Fail(ctx, jobID, workerID, true, "no upstream token available")
		return
	}

	result, err := p.fetcher.Fetch(ctx, tok, term, p.apiYear)
	if err != nil {
		p.handleFetchError(ctx, workerID, jobID, row, term, err)
		return
	}

	count, err := p.gateway.Upsert(ctx, result.Records, term)
	if err != nil {
		_ = p.gateway.FailJob(ctx, row, err.Error())
		p.recorder.Record(term, count, false, err.Error())
		_ = p.broker.Fail(ctx, jobID, workerID, true, err.Error())
		return
	}

	if err := p.gateway.CompleteJob(ctx, row, count); err != nil {
		p.logger.ErrorContext(ctx, "complete job row failed", "worker_id", workerID, "job_id", row, "error", err)
	}
	p.recorder.Record(term, count, true, "")
	if err := p.broker.Ack(ctx, jobID, workerID); err != nil {
		p.logger.WarnContext(ctx, "ack failed, job likely stall-recovered", "worker_id", workerID, "error", err)
	}
}

func (p *Pool) handleFetchError(ctx context.Context, workerID, jobID, row, term string, err error) {
	var upstream fetcher.UpstreamError
	switch {
	case errors.Is(err, fetcher.ErrTokenExpired):
		if rerr := p.tokens.Refresh(ctx); rerr != nil {
			p.logger.ErrorContext(ctx, "token refresh after expiry failed", "error", rerr)
		}
		_ = p.broker.Fail(ctx, jobID, workerID, true, err.Error())
	case errors.As(err, &upstream) && (upstream.Status == 409 || upstream.Status >= 500):
		_ = p.broker.Fail(ctx, jobID, workerID, true, err.Error())
	default:
		_ = p.gateway.FailJob(ctx, row, err.Error())
		p.recorder.Record(term, 0, false, err.Error())
		_ = p.broker.Fail(ctx, jobID, workerID, true, err.Error())
	}
}
