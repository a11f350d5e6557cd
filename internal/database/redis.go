package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"mlm-network/internal/config"
	"mlm-network/internal/logging"
)

func ConnectRedis(ctx context.Context, cfg *config.Config, log *logging.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	_, err := rdb.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Connected to Redis")
	return rdb, nil
}
