package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-audit/internal/config"
	"github.com/sells-group/deal-audit/internal/model"
)

// NewRedisClient creates a go-redis client from cfg and checks the
// connection. Returns nil when no URL is configured.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "redis: parse url")
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeoutSecs > 0 {
		opts.DialTimeout = time.Duration(cfg.DialTimeoutSecs) * time.Second
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrap(err, "redis: ping")
	}
	return client, nil
}

// CachedStore fronts a Store's dedup hash reads with Redis. Every other
// method goes straight to the wrapped Store. Cache errors are logged and
// fall through to the database.
type CachedStore struct {
	Store
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCachedStore wraps inner with a Redis hash cache.
func NewCachedStore(inner Store, client *redis.Client, cfg config.RedisConfig) *CachedStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "dealaudit"
	}
	ttl := time.Duration(cfg.HashTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	return &CachedStore{Store: inner, client: client, prefix: prefix, ttl: ttl}
}

func (c *CachedStore) hashKey(hash string) string {
	return c.prefix + ":hash:" + hash
}

// LookupHashes answers from Redis first and asks the store only for misses.
// Store hits are written back to the cache. A failing store leaves the
// Redis hits as the answer.
func (c *CachedStore) LookupHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(hashes) == 0 {
		return found, nil
	}

	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = c.hashKey(h)
	}

	misses := hashes
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		zap.L().Warn("redis: hash lookup failed, using store", zap.Error(err))
	} else {
		misses = misses[:0:0]
		for i, v := range vals {
			if v != nil {
				found[hashes[i]] = true
				continue
			}
			misses = append(misses, hashes[i])
		}
	}
	if len(misses) == 0 {
		return found, nil
	}

	fromStore, err := c.Store.LookupHashes(ctx, misses)
	if err != nil {
		zap.L().Warn("redis: store hash lookup failed, using cached hits only",
			zap.Int("cached_hits", len(found)),
			zap.Error(err),
		)
		return found, nil
	}
	var warm []string
	for h := range fromStore {
		found[h] = true
		warm = append(warm, h)
	}
	if len(warm) > 0 {
		c.remember(ctx, warm)
	}
	return found, nil
}

// UpsertHashes writes to the store, then to the cache.
func (c *CachedStore) UpsertHashes(ctx context.Context, records []model.DedupHashRecord) error {
	if err := c.Store.UpsertHashes(ctx, records); err != nil {
		return err
	}
	hashes := make([]string, len(records))
	for i, r := range records {
		hashes[i] = r.AddressHash
	}
	c.remember(ctx, hashes)
	return nil
}

func (c *CachedStore) remember(ctx context.Context, hashes []string) {
	pipe := c.client.Pipeline()
	for _, h := range hashes {
		pipe.Set(ctx, c.hashKey(h), "1", c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		zap.L().Warn("redis: cache hashes failed", zap.Int("count", len(hashes)), zap.Error(err))
	}
}

// Close closes the Redis client and the wrapped store.
func (c *CachedStore) Close() error {
	cacheErr := c.client.Close()
	if err := c.Store.Close(); err != nil {
		return err
	}
	return eris.Wrap(cacheErr, "redis: close")
}
