package config

import (
	"fmt"
	"time"

	"github.com/integritystudio/tcad-scraper/internal/env"
)

// WorkerConfig holds all configuration for cmd/scraper-worker: the token
// supervisor, the worker pool, and the hygiene sweeper share one process.
type WorkerConfig struct {
	Database      DatabaseConfig
	Redis         RedisConfig
	Fetcher       FetcherConfig
	Observability ObservabilityConfig

	// Concurrency is W in spec.md §4.F.
	Concurrency int `env:"SCRAPER_WORKER_CONCURRENCY"`

	// ShutdownGrace bounds how long the pool waits, after the shutdown
	// signal, for its workers to return. In-flight jobs run on the same
	// cancelled context, so their I/O fails fast; a job left unacknowledged
	// is recovered via stall timeout.
	ShutdownGrace time.Duration `env:"SCRAPER_WORKER_SHUTDOWN_GRACE"`

	// QueuePollInterval is loaded (default 2s) but not passed to the
	// broker: queue.Broker.Fetch re-polls on its own fixed 500ms interval.
	QueuePollInterval time.Duration `env:"SCRAPER_WORKER_POLL_INTERVAL"`

	HygieneInterval     time.Duration `env:"SCRAPER_QUEUE_CLEANUP_INTERVAL"`
	HygieneGracePeriod  time.Duration `env:"SCRAPER_QUEUE_CLEANUP_GRACE_PERIOD"`
}

// LoadWorkerConfig loads and validates the worker configuration from the
// environment, applying defaults the way the teacher's consuming code
// does (env.Load itself does not support struct-tag defaults).
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load worker config: %w", err)
	}

	cfg.Database.applyDefaults()
	cfg.Redis.applyDefaults()
	cfg.Fetcher.applyDefaults()
	cfg.Observability.applyDefaults(observabilityDefaultWorker)

	if cfg.Concurrency == 0 {
		cfg.Concurrency = 2
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.QueuePollInterval == 0 {
		cfg.QueuePollInterval = 2 * time.Second
	}
	if cfg.HygieneInterval == 0 {
		cfg.HygieneInterval = time.Hour
	}
	if cfg.HygieneGracePeriod == 0 {
		cfg.HygieneGracePeriod = 24 * time.Hour
	}

	return cfg, nil
}

const observabilityDefaultWorker = "tcad-scraper-worker"
