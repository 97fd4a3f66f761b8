package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arunvm123/dianping/lock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Loader fetches an entity from the source of truth. It returns (nil, nil)
// when the entity does not exist.
type Loader[T any] func(ctx context.Context) (*T, error)

// rawLoader is a Loader whose result is already encoded. nil means absent.
type rawLoader func(ctx context.Context) ([]byte, error)

var errLockBusy = errors.New("rebuild lock busy")

// Query reads key with the given strategy, falling back to loader as the
// strategy allows. It returns ErrNotFound when the entity does not exist.
// Loader errors are returned unchanged.
func Query[T any](ctx context.Context, c *Client, key string, ttl time.Duration, strategy Strategy, loader Loader[T]) (*T, error) {
	load := func(ctx context.Context) ([]byte, error) {
		v, err := loader(ctx)
		if err != nil || v == nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", key, err)
		}
		return data, nil
	}

	var (
		data []byte
		err  error
	)
	switch strategy {
	case PassThrough:
		data, err = c.queryPassThrough(ctx, key, ttl, load)
	case Mutex:
		data, err = c.queryWithMutex(ctx, key, ttl, load)
	case LogicalExpire:
		data, err = c.queryWithLogicalExpire(ctx, key, ttl, load)
	default:
		return nil, fmt.Errorf("unsupported cache strategy %s", strategy)
	}
	if err != nil {
		return nil, err
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return &v, nil
}

func decodeHit(v string) ([]byte, error) {
	if v == emptyMarker {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

func (c *Client) queryPassThrough(ctx context.Context, key string, ttl time.Duration, load rawLoader) ([]byte, error) {
	v, found, err := c.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return decodeHit(v)
	}
	return c.loadAndStore(ctx, key, ttl, load)
}

// loadAndStore calls the loader and caches whatever it returned, including
// the empty marker for absent entities.
func (c *Client) loadAndStore(ctx context.Context, key string, ttl time.Duration, load rawLoader) ([]byte, error) {
	data, err := load(ctx)
	if err != nil {
		return nil, err
	}

	if data == nil {
		if err := c.write(ctx, key, []byte(emptyMarker), c.opts.NullTTL); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to cache empty marker")
		}
		return nil, ErrNotFound
	}

	if err := c.write(ctx, key, data, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to cache loaded value")
	}
	return data, nil
}

func (c *Client) queryWithMutex(ctx context.Context, key string, ttl time.Duration, load rawLoader) ([]byte, error) {
	for {
		v, found, err := c.read(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			return decodeHit(v)
		}

		// Callers in this process share one attempt at the distributed lock.
		// The flight outlives any single caller, so it runs detached from ctx and
		// is bounded by the lock lease instead.
		ch := c.sf.DoChan(key, func() (interface{}, error) {
			flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.LockTTL)
			defer cancel()
			return c.rebuildUnderLock(flightCtx, key, ttl, load)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}

		err = res.Err
		if errors.Is(err, errLockBusy) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.RetryBackoff):
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Client) rebuildUnderLock(ctx context.Context, key string, ttl time.Duration, load rawLoader) ([]byte, error) {
	l := lock.New(c.rdb, key)
	ok, err := l.TryLock(ctx, c.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errLockBusy
	}
	defer func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to release rebuild lock")
		}
	}()

	// The previous holder may have filled the key between our miss and the lock.
	v, found, err := c.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return decodeHit(v)
	}
	return c.loadAndStore(ctx, key, ttl, load)
}

func (c *Client) queryWithLogicalExpire(ctx context.Context, key string, ttl time.Duration, load rawLoader) ([]byte, error) {
	v, found, err := c.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found || v == emptyMarker {
		return nil, ErrNotFound
	}

	var entry logicalEntry
	if err := json.Unmarshal([]byte(v), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode logical entry %s: %w", key, err)
	}
	if c.now().Before(entry.ExpireTime) {
		return entry.Data, nil
	}

	c.refreshAsync(ctx, key, ttl, load)
	return entry.Data, nil
}

// refreshAsync starts a rebuild if a pool slot is free and nobody else is
// running one. Skipping is not an error: the stale value is still served and a
// later reader retries.
func (c *Client) refreshAsync(ctx context.Context, key string, ttl time.Duration, load rawLoader) {
	// The slot is held before the lease starts so the lease only covers work.
	select {
	case c.rebuilds <- struct{}{}:
	default:
		log.Debug().Str("key", key).Msg("rebuild pool busy, serving stale value")
		return
	}

	l := lock.New(c.rdb, key)
	ok, err := l.TryLock(ctx, c.opts.LockTTL)
	if err != nil || !ok {
		<-c.rebuilds
		if err != nil {
			log.Debug().Err(err).Str("key", key).Msg("skipping logical-expiry rebuild")
		}
		return
	}

	bg := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.rebuilds }()
		defer func() {
			if err := l.Unlock(bg); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to release rebuild lock")
			}
		}()

		if err := c.rebuildLogical(bg, key, ttl, load); err != nil {
			log.Error().Err(err).Str("key", key).Msg("logical-expiry rebuild failed")
		}
	}()
}

func (c *Client) rebuildLogical(ctx context.Context, key string, ttl time.Duration, load rawLoader) error {
	// A rebuild that finished just before we took the lock leaves nothing to do.
	v, found, err := c.read(ctx, key)
	if err != nil {
		return err
	}
	if found && v != emptyMarker {
		var entry logicalEntry
		if err := json.Unmarshal([]byte(v), &entry); err == nil && c.now().Before(entry.ExpireTime) {
			return nil
		}
	}

	data, err := load(ctx)
	if err != nil {
		return err
	}
	if data == nil {
		log.Info().Str("key", key).Msg("source entity gone, dropping logical entry")
		return c.Invalidate(ctx, key)
	}
	return c.writeLogical(ctx, key, data, ttl)
}
