package config

import (
	"errors"
	"time"
)

// ErrUpstreamBaseURLRequired is returned when the upstream search endpoint
// is not configured.
var ErrUpstreamBaseURLRequired = errors.New("SCRAPER_UPSTREAM_BASE_URL is required")

// ErrTokenEndpointRequired is returned when the token endpoint is not
// configured.
var ErrTokenEndpointRequired = errors.New("SCRAPER_TOKEN_ENDPOINT_URL is required")

// FetcherConfig configures the upstream fetcher (component C) and the
// token supervisor's refresh protocol (component B).
type FetcherConfig struct {
	UpstreamBaseURL  string        `env:"SCRAPER_UPSTREAM_BASE_URL"`
	TokenEndpointURL string        `env:"SCRAPER_TOKEN_ENDPOINT_URL"`
	APIYear          string        `env:"SCRAPER_API_YEAR"`
	TokenRefreshInterval time.Duration `env:"SCRAPER_TOKEN_REFRESH_INTERVAL"`

	// RateLimitRPS bounds outbound requests to the upstream beyond the
	// fixed 1-second inter-page sleep. 0 (unset) means the default of 5;
	// a negative value disables the limiter.
	RateLimitRPS float64 `env:"SCRAPER_FETCHER_RATE_LIMIT_RPS"`
}

// Validate implements env.Validator.
func (c *FetcherConfig) Validate() error {
	if c.UpstreamBaseURL == "" {
		return ErrUpstreamBaseURLRequired
	}
	if c.TokenEndpointURL == "" {
		return ErrTokenEndpointRequired
	}
	return nil
}

func (c *FetcherConfig) applyDefaults() {
	if c.APIYear == "" {
		c.APIYear = time.Now().Format("2006")
	}
	if c.TokenRefreshInterval == 0 {
		c.TokenRefreshInterval = 4 * time.Minute
	}
	if c.RateLimitRPS == 0 {
		c.RateLimitRPS = 5
	}
}
