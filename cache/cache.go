// Package cache is a Redis read-through cache for entities backed by postgres.
//
// Entries are JSON. A key holding the empty string is a negative entry: the
// source was asked and had nothing. Logically expiring entries wrap the payload
// with its expiry time and have no Redis TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arunvm123/dianping/breaker"
	"github.com/arunvm123/dianping/lock"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned when neither the cache nor the loader has the entity.
var ErrNotFound = errors.New("cache: not found")

// emptyMarker is stored for ids the source does not know.
const emptyMarker = ""

// Redis is the subset of go-redis the cache uses.
type Redis interface {
	lock.Client
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Options struct {
	// NullTTL bounds how long a negative entry shields the source.
	NullTTL time.Duration
	// LockTTL is the lease on rebuild locks.
	LockTTL time.Duration
	// RetryBackoff is how long a Mutex reader sleeps when the rebuild lock is busy.
	RetryBackoff time.Duration
	// RebuildWorkers caps concurrent logical-expiry rebuilds.
	RebuildWorkers int
	// Breaker guards Redis calls when set.
	Breaker *breaker.Breaker
}

func (o *Options) setDefaults() {
	if o.NullTTL <= 0 {
		o.NullTTL = 2 * time.Minute
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 10 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	if o.RebuildWorkers <= 0 {
		o.RebuildWorkers = 10
	}
}

type Client struct {
	rdb  Redis
	opts Options

	sf       singleflight.Group
	rebuilds chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

func New(rdb Redis, opts Options) *Client {
	opts.setDefaults()
	return &Client{
		rdb:      rdb,
		opts:     opts,
		rebuilds: make(chan struct{}, opts.RebuildWorkers),
		now:      time.Now,
	}
}

// logicalEntry is the stored form of a logically expiring value.
type logicalEntry struct {
	Data       json.RawMessage `json:"data"`
	ExpireTime time.Time       `json:"expireTime"`
}

// Set writes value as JSON with a physical TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}
	return c.write(ctx, key, data, ttl)
}

// SetWithLogicalExpire pre-populates a key for the LogicalExpire strategy.
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}
	return c.writeLogical(ctx, key, data, ttl)
}

// Invalidate removes a key. Writers call it after updating the source.
func (c *Client) Invalidate(ctx context.Context, key string) error {
	_, err := c.exec(func() (interface{}, error) {
		return c.rdb.Del(ctx, key).Result()
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", key, err)
	}
	return nil
}

// Close waits for background rebuilds to finish.
func (c *Client) Close() {
	c.wg.Wait()
}

func (c *Client) exec(fn func() (interface{}, error)) (interface{}, error) {
	if c.opts.Breaker == nil {
		return fn()
	}
	return c.opts.Breaker.Execute(fn, isMiss)
}

func isMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}

// read returns the raw value and whether the key exists.
func (c *Client) read(ctx context.Context, key string) (string, bool, error) {
	v, err := c.exec(func() (interface{}, error) {
		return c.rdb.Get(ctx, key).Result()
	})
	if isMiss(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v.(string), true, nil
}

func (c *Client) write(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	_, err := c.exec(func() (interface{}, error) {
		return c.rdb.Set(ctx, key, data, ttl).Result()
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (c *Client) writeLogical(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	entry, err := json.Marshal(logicalEntry{Data: data, ExpireTime: c.now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("failed to encode logical entry for %s: %w", key, err)
	}
	return c.write(ctx, key, entry, 0)
}
