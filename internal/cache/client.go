// Package cache implements generic cache-aside reads over the shared
// key-value store with two retrieval strategies: null pass-through, which
// bounds cache penetration by caching confirmed absence, and logical expiry,
// which serves stale values while a single rebuild refreshes the entry.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/voucher-seckill/internal/lock"
	"github.com/rl1809/voucher-seckill/internal/port"
)

const (
	// nullSentinelTTL bounds how long a confirmed-absent marker is served.
	nullSentinelTTL = 2 * time.Minute

	rebuildLockTTL = 10 * time.Second
	rebuildTimeout = 10 * time.Second

	defaultMaxRebuilds = 10
)

// envelope wraps a logically expiring value. Entries written with it carry
// no physical TTL; staleness is decided against ExpireAt.
type envelope struct {
	Data     json.RawMessage `json:"data"`
	ExpireAt time.Time       `json:"expire_at"`
}

type Client struct {
	kv  port.KeyValueStore
	log *zap.Logger

	// rebuilds bounds concurrent background refreshes process-wide; group
	// collapses refreshes of the same key before the cross-fleet lock.
	rebuilds *semaphore.Weighted
	group    singleflight.Group
}

func NewClient(kv port.KeyValueStore, log *zap.Logger) *Client {
	return &Client{
		kv:       kv,
		log:      log,
		rebuilds: semaphore.NewWeighted(defaultMaxRebuilds),
	}
}

// Set writes value as JSON with a physical TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, key, string(buf), ttl)
}

// SetWithLogicalExpire writes value wrapped in an expiry envelope and no
// physical TTL. Used to pre-warm keys read through GetWithLogicalExpire.
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return err
	}
	env, err := json.Marshal(envelope{Data: buf, ExpireAt: time.Now().Add(ttl)})
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, key, string(env), 0)
}

// Delete invalidates a key. Writers delete rather than update so the next
// read repopulates; updating in place races with concurrent stale reads.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.kv.Delete(ctx, key)
}

// GetWithPassThrough returns the cached value for key, falling back to the
// backing store on miss. A backing-store miss writes a short-lived null
// sentinel so repeated lookups of nonexistent IDs stop at the cache.
// Returns (nil, nil) when the value does not exist.
func GetWithPassThrough[T any](ctx context.Context, c *Client, key string, ttl time.Duration, fallback func(context.Context) (*T, error)) (*T, error) {
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		if raw == "" {
			// Null sentinel: confirmed absent, don't touch the backing store.
			return nil, nil
		}
		var value T
		if err := json.Unmarshal([]byte(raw), &value); err == nil {
			return &value, nil
		}
		c.log.Warn("malformed cache payload, treating as miss", zap.String("key", key))
		_ = c.kv.Delete(ctx, key)
	}

	value, err := fallback(ctx)
	if err != nil {
		return nil, err
	}
	if value == nil {
		if err := c.kv.Set(ctx, key, "", nullSentinelTTL); err != nil {
			c.log.Warn("null sentinel write failed", zap.String("key", key), zap.Error(err))
		}
		return nil, nil
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		c.log.Warn("cache write-back failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}

// GetWithLogicalExpire returns the cached value for key, serving stale
// entries immediately while a background rebuild refreshes them. Entries are
// expected to be pre-warmed with SetWithLogicalExpire; a missing entry
// returns (nil, nil) without consulting the backing store.
func GetWithLogicalExpire[T any](ctx context.Context, c *Client, key string, ttl time.Duration, fallback func(context.Context) (*T, error)) (*T, error) {
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var env envelope
	var value T
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.log.Warn("malformed cache envelope, treating as miss", zap.String("key", key))
		_ = c.kv.Delete(ctx, key)
		return nil, nil
	}
	if err := json.Unmarshal(env.Data, &value); err != nil {
		c.log.Warn("malformed cache payload, treating as miss", zap.String("key", key))
		_ = c.kv.Delete(ctx, key)
		return nil, nil
	}

	if time.Now().Before(env.ExpireAt) {
		return &value, nil
	}

	// Stale: hand the old value back without blocking and refresh off-path.
	c.spawnRebuild(key, ttl, func(ctx context.Context) (interface{}, error) {
		v, err := fallback(ctx)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		return v, nil
	})
	return &value, nil
}

func (c *Client) spawnRebuild(key string, ttl time.Duration, fetch func(context.Context) (interface{}, error)) {
	if !c.rebuilds.TryAcquire(1) {
		// Pool saturated. The entry stays stale and a later read retries.
		return
	}
	go func() {
		defer c.rebuilds.Release(1)
		_, _, _ = c.group.Do(key, func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
			defer cancel()
			c.rebuild(ctx, key, ttl, fetch)
			return nil, nil
		})
	}()
}

// rebuild takes the per-key distributed lock so at most one refresh of a key
// is in flight across the fleet. Losers simply skip; the stale value keeps
// being served until the winner finishes.
func (c *Client) rebuild(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (interface{}, error)) {
	mu := lock.NewMutex(c.kv, key)
	acquired, err := mu.TryLock(ctx, rebuildLockTTL)
	if err != nil {
		c.log.Warn("rebuild lock failed", zap.String("key", key), zap.Error(err))
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := mu.Unlock(ctx); err != nil {
			c.log.Warn("rebuild unlock failed", zap.String("key", key), zap.Error(err))
		}
	}()

	// Double-check after winning the lock: another process may already have
	// refreshed the entry while this one was queued.
	if c.entryFresh(ctx, key) {
		return
	}

	value, err := fetch(ctx)
	if err != nil {
		c.log.Warn("cache rebuild failed", zap.String("key", key), zap.Error(err))
		return
	}
	if value == nil {
		// Gone from the backing store; stop serving the stale copy.
		if err := c.kv.Delete(ctx, key); err != nil {
			c.log.Warn("stale entry delete failed", zap.String("key", key), zap.Error(err))
		}
		return
	}
	if err := c.SetWithLogicalExpire(ctx, key, value, ttl); err != nil {
		c.log.Warn("rebuilt entry write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Client) entryFresh(ctx context.Context, key string) bool {
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return false
	}
	return time.Now().Before(env.ExpireAt)
}
