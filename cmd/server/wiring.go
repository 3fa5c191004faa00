package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marketpulse/chathub/internal/config"
	"github.com/marketpulse/chathub/internal/db"
	"github.com/marketpulse/chathub/internal/store"
	"github.com/marketpulse/chathub/internal/transport"
)

// Backend selection follows the degraded-mode policy: an unavailable
// collaborator is logged and replaced with a local stand-in, never a fatal
// error. A node with no Redis still chats with itself.

func redisIfNeeded(ctx context.Context, cfg *config.Config, logger *zap.Logger) *redis.Client {
	if cfg.Store != "redis" && cfg.Transport != "redis" {
		return nil
	}
	client, err := db.NewRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Warn("redis unavailable, degrading to local backends", zap.Error(err))
		return nil
	}
	return client
}

func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, redisClient *redis.Client) (store.Store, func(), error) {
	switch cfg.Store {
	case "redis":
		if redisClient != nil {
			return store.NewRedisStore(redisClient), nil, nil
		}
		logger.Warn("snapshot store falling back to memory")
		return store.NewMemStore(), nil, nil

	case "postgres":
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Warn("postgres unavailable, snapshot store falling back to memory",
				zap.Error(err))
			return store.NewMemStore(), nil, nil
		}
		return store.NewPGStore(database.Pool()), database.Close, nil

	default:
		return store.NewMemStore(), nil, nil
	}
}

func buildTransport(cfg *config.Config, logger *zap.Logger, redisClient *redis.Client) (transport.Transport, error) {
	switch cfg.Transport {
	case "redis":
		if redisClient != nil {
			return transport.NewRedisTransport(redisClient, cfg.BroadcastChannel, logger), nil
		}
		logger.Warn("broadcast transport falling back to no-op, running local-only")
		return transport.NewNoop(), nil

	case "none":
		return transport.NewNoop(), nil

	default:
		// In-process bus: meaningful when several brokers share the
		// process (tests, embedded use); harmless for a single node.
		return transport.NewBus(), nil
	}
}
