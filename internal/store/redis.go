package store

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/drew/config"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis dials Redis and verifies the connection with PING.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		DialTimeout: cfg.Timeout,
		Password:    cfg.Password,
		DB:          cfg.DB,
	})
	log.Printf("redis options -> addr=%s db=%d", cfg.Addr(), cfg.DB)

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}
