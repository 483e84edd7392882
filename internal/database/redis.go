package database

import (
	"context"
	"fmt"

	"gearhead-backend/internal/config"
	"gearhead-backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// NewRedis connects to Redis. It returns nil without error when no
// address is configured.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}
	logger.Info().Str("addr", cfg.Addr).Msg("Connected to Redis successfully")
	return client, nil
}
