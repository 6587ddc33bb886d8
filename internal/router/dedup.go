package router

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// Deduper reports whether an event id was already routed. First returns true
// the first time it sees id.
type Deduper interface {
	First(ctx context.Context, id string) (bool, error)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisDeduper remembers ids in Redis with SET NX so several router
// processes share one view of what was already forwarded.
type RedisDeduper struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisDeduper, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MinIdleConns: 4,
		PoolSize:     32,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("connected to Redis for dedup")
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &RedisDeduper{rdb: rdb, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

func (d *RedisDeduper) First(ctx context.Context, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", id, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Close() error { return d.rdb.Close() }

// dedupFilter drops events whose Field value was already seen. Events
// without the field, and lookups that fail, pass through.
type dedupFilter struct {
	store  Deduper
	field  string
	logger zerolog.Logger
}

func (f dedupFilter) admit(ctx context.Context, ev *pipeline.Event) bool {
	v, ok := ev.Get(f.field)
	if !ok || v == nil {
		return true
	}
	id := fmt.Sprint(v)
	first, err := f.store.First(ctx, id)
	if err != nil {
		f.logger.Warn().Err(err).Str("id", id).Msg("dedup lookup failed, forwarding")
		return true
	}
	if !first {
		f.logger.Debug().Str("id", id).Msg("duplicate event dropped")
	}
	return first
}
