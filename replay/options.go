package replay

import (
	"log/slog"
	"time"
)

// config holds settings shared by the stores
type config struct {
	retention time.Duration
	keyPrefix string
	now       func() time.Time
	logger    *slog.Logger
}

func newConfig(opts []Option) *config {
	c := &config{
		keyPrefix: "x402:consumed:",
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a store
type Option func(*config)

// WithRetention sets how long records are kept.
//
// MemoryStore drops expired records lazily and RedisStore sets a key expiry.
// SQL stores keep everything until Prune is called.
//
// Default: 0 (keep forever)
func WithRetention(retention time.Duration) Option {
	return func(c *config) {
		c.retention = retention
	}
}

// WithKeyPrefix sets the Redis key prefix.
//
// Default: "x402:consumed:"
func WithKeyPrefix(prefix string) Option {
	return func(c *config) {
		c.keyPrefix = prefix
	}
}

// WithClock overrides the time source used for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// WithLogger sets the logger Open reports its store choice to
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
