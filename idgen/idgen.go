// Package idgen hands out 64-bit order ids: 31 bits of seconds since
// 2022-01-01 UTC followed by a 32-bit per-day Redis counter.
package idgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	countBits = 32
	keyPrefix = "icr:"
)

// Epoch is 2022-01-01T00:00:00Z.
var Epoch = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

var ErrSequenceOverflow = errors.New("daily id sequence exhausted")

type Generator struct {
	client redis.Cmdable
	now    func() time.Time
}

func New(client redis.Cmdable) *Generator {
	return &Generator{client: client, now: time.Now}
}

// NextID returns a unique id for businessKey. Ids from the same second share
// the timestamp bits and are ordered by the counter.
func (g *Generator) NextID(ctx context.Context, businessKey string) (int64, error) {
	now := g.now().UTC()
	timestamp := now.Unix() - Epoch.Unix()

	key := fmt.Sprintf("%s%s:%s", keyPrefix, businessKey, now.Format("2006:01:02"))
	count, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment id counter %s: %w", key, err)
	}
	if count >= 1<<countBits {
		return 0, ErrSequenceOverflow
	}

	return timestamp<<countBits | count, nil
}

// Timestamp recovers the time an id was generated at, to the second.
func Timestamp(id int64) time.Time {
	return Epoch.Add(time.Duration(id>>countBits) * time.Second)
}
