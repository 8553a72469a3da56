package config

import (
	"fmt"

	"github.com/integritystudio/tcad-scraper/internal/env"
)

// SchedulerConfig holds configuration for cmd/scraper-scheduler.
type SchedulerConfig struct {
	Database      DatabaseConfig
	Observability ObservabilityConfig
}

// LoadSchedulerConfig loads and validates scheduler configuration.
func LoadSchedulerConfig() (*SchedulerConfig, error) {
	cfg := &SchedulerConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load scheduler config: %w", err)
	}
	cfg.Database.applyDefaults()
	cfg.Observability.applyDefaults("tcad-scraper-scheduler")
	return cfg, nil
}
