package config

import (
	"fmt"
	"time"

	"github.com/integritystudio/tcad-scraper/internal/env"
)

// APIConfig holds configuration for cmd/scraper-api, the thin REST
// landing strip over internal/control.Surface.
type APIConfig struct {
	Database      DatabaseConfig
	Redis         RedisConfig
	Observability ObservabilityConfig

	ListenAddr string `env:"SCRAPER_API_LISTEN_ADDR"`

	// RateLimitCooldown gates EnqueueScrape re-submission of the same term.
	RateLimitCooldown time.Duration `env:"SCRAPER_RATE_LIMIT_COOLDOWN"`

	MaxBodyBytes int64 `env:"SCRAPER_API_MAX_BODY_BYTES"`
}

// LoadAPIConfig loads and validates API configuration.
func LoadAPIConfig() (*APIConfig, error) {
	cfg := &APIConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load api config: %w", err)
	}
	cfg.Database.applyDefaults()
	cfg.Redis.applyDefaults()
	cfg.Observability.applyDefaults("tcad-scraper-api")

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.RateLimitCooldown == 0 {
		cfg.RateLimitCooldown = 5 * time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20 // 1 MiB
	}
	return cfg, nil
}
