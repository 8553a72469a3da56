package config

// RedisConfig holds the read-side cache connection settings.
type RedisConfig struct {
	Addr     string `env:"SCRAPER_REDIS_ADDR"`
	Password string `env:"SCRAPER_REDIS_PASSWORD"`
	DB       int    `env:"SCRAPER_REDIS_DB"`
}

func (c *RedisConfig) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
}
