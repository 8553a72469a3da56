package config

// ObservabilityConfig holds OpenTelemetry bootstrap configuration, shared
// by every binary.
type ObservabilityConfig struct {
	OTelEnabled bool   `env:"SCRAPER_OTEL_ENABLED"`
	ServiceName string `env:"SCRAPER_OTEL_SERVICE_NAME"`
}

func (c *ObservabilityConfig) applyDefaults(serviceName string) {
	if c.ServiceName == "" {
		c.ServiceName = serviceName
	}
}
