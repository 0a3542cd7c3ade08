// Package cache provides forecast diff caches. Diffs between two forecast
// versions never change, so entries are written once and only expire.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kilianp07/roster/core/factory"
	"github.com/kilianp07/roster/core/forecast"
	"github.com/kilianp07/roster/core/logger"
	"github.com/kilianp07/roster/core/model"
	infralogger "github.com/kilianp07/roster/infra/logger"
)

// RedisConfig configures the redis diff cache.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// Prefix is prepended to every key.
	Prefix string `json:"prefix"`
	// TTLSeconds bounds how long a diff is kept. Zero keeps it forever.
	TTLSeconds int `json:"ttl_seconds"`
}

// RedisDiffCache stores diffs as JSON values in redis.
type RedisDiffCache struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	log    logger.Logger
}

const pingTimeout = 5 * time.Second

// NewRedisDiffCache connects to redis and checks the connection.
func NewRedisDiffCache(cfg RedisConfig) (*RedisDiffCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis cache: addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis cache: ping %s: %w", cfg.Addr, err)
	}
	log := infralogger.New("diff-cache")
	log.Infof("connected to redis at %s", cfg.Addr)
	return &RedisDiffCache{
		rdb:    rdb,
		prefix: cfg.Prefix,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
		log:    log,
	}, nil
}

func (c *RedisDiffCache) key(oldID, newID string) string {
	return c.prefix + forecast.CacheKey(oldID, newID)
}

func (c *RedisDiffCache) Get(ctx context.Context, oldID, newID string) ([]model.DiffRecord, bool, error) {
	b, err := c.rdb.Get(ctx, c.key(oldID, newID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var recs []model.DiffRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, false, fmt.Errorf("decode cached diff: %w", err)
	}
	return recs, true, nil
}

// Put stores recs unless the pair is already cached.
func (c *RedisDiffCache) Put(ctx context.Context, oldID, newID string, recs []model.DiffRecord) error {
	if recs == nil {
		recs = []model.DiffRecord{}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	ok, err := c.rdb.SetNX(ctx, c.key(oldID, newID), b, c.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		c.log.Debugf("diff %s already cached", c.key(oldID, newID))
	}
	return nil
}

// Close releases the redis connection.
func (c *RedisDiffCache) Close() error { return c.rdb.Close() }

var registry = factory.NewRegistry[forecast.DiffCache]()

func init() {
	_ = registry.Register("memory", func(map[string]any) (forecast.DiffCache, error) {
		return forecast.NewMemoryDiffCache(), nil
	})
	_ = registry.Register("redis", func(conf map[string]any) (forecast.DiffCache, error) {
		var cfg RedisConfig
		if err := factory.Decode(conf, &cfg); err != nil {
			return nil, err
		}
		return NewRedisDiffCache(cfg)
	})
}

// New builds the diff cache described by cfg. An empty type selects the
// in-memory cache.
func New(cfg factory.ModuleConfig) (forecast.DiffCache, error) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	return registry.Create(cfg)
}
