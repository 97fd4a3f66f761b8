package cache

import (
	"context"
	"fmt"

	"github.com/arunvm123/dianping/config"
	"github.com/redis/go-redis/v9"
)

// Dial opens a Redis client and checks the connection.
func Dial(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisURL(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
