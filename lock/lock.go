// Package lock implements a lease-based mutex on Redis.
//
// A lock is a single key holding an owner token. TryLock sets it with NX and a
// lease; Unlock deletes it only while the stored token is still ours, so a
// holder whose lease ran out cannot release a lock someone else now owns.
package lock

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "lock:"

var (
	// ErrNotAcquired is returned by WithLock when another holder owns the lock.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNotHeld is returned by Unlock when the lease expired or was taken over.
	ErrNotHeld = errors.New("lock not held")
)

//go:embed unlock.lua
var unlockSource string

var unlockScript = redis.NewScript(unlockSource)

// Client is the subset of go-redis the lock needs. *redis.Client satisfies it.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type Lock struct {
	client Client
	name   string
	token  string
}

// New returns a handle for the named lock. The handle is not safe for
// concurrent use; create one per acquisition.
func New(client Client, name string) *Lock {
	return &Lock{client: client, name: name}
}

func (l *Lock) key() string {
	return keyPrefix + l.name
}

// Name returns the lock name without the key prefix.
func (l *Lock) Name() string {
	return l.name
}

// TryLock makes one attempt to take the lock for lease. It never blocks.
func (l *Lock) TryLock(ctx context.Context, lease time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(), token, lease).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.name, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Unlock releases the lock if this handle still owns it.
func (l *Lock) Unlock(ctx context.Context) error {
	if l.token == "" {
		return ErrNotHeld
	}
	token := l.token
	l.token = ""

	n, err := unlockScript.Run(ctx, l.client, []string{l.key()}, token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.name, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// WithLock runs fn while holding the lock. It returns ErrNotAcquired without
// calling fn when the lock is taken.
func WithLock(ctx context.Context, client Client, name string, lease time.Duration, fn func() error) (err error) {
	l := New(client, name)
	ok, err := l.TryLock(ctx, lease)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer func() {
		uerr := l.Unlock(context.WithoutCancel(ctx))
		switch {
		case errors.Is(uerr, ErrNotHeld):
			log.Warn().Str("lock", name).Dur("lease", lease).Msg("lease expired before release")
		case uerr != nil && err == nil:
			err = uerr
		}
	}()
	return fn()
}
