package replay

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config selects and configures a store
type Config struct {
	// Driver is one of "memory", "redis", "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`

	// Path is the SQLite database file.
	Path string `mapstructure:"path"`

	// URL is the PostgreSQL connection string.
	URL string `mapstructure:"url"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`

	Retention time.Duration `mapstructure:"retention"`
}

// Open builds the store described by cfg
func Open(ctx context.Context, cfg Config, opts ...Option) (Store, error) {
	if cfg.Retention > 0 {
		opts = append(opts, WithRetention(cfg.Retention))
	}
	if cfg.KeyPrefix != "" {
		opts = append(opts, WithKeyPrefix(cfg.KeyPrefix))
	}

	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		newConfig(opts).logger.Warn("in-memory replay store selected; consumed proofs are lost on restart",
			"driver", "memory")
		return NewMemoryStore(opts...), nil
	case "redis":
		return DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...)
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("replay store sqlite requires a path")
		}
		return OpenSQLite(ctx, cfg.Path, opts...)
	case "postgres", "postgresql":
		if cfg.URL == "" {
			return nil, fmt.Errorf("replay store postgres requires a url")
		}
		return OpenPostgres(ctx, cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unknown replay store driver %q", cfg.Driver)
	}
}
