package cache

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ManuelReschke/LeadVault/internal/pkg/config"
)

const (
	dialTimeout = 500 * time.Millisecond
	ioTimeout   = 500 * time.Millisecond
)

// SetupCache opens the Redis client shared by the in-flight lock, the
// allocation counters and the rate limiter. An unreachable server is logged,
// not fatal: every caller degrades without Redis.
func SetupCache(ctx context.Context, cfg config.CacheConfig, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           0,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
		MaxRetries:   1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("could not connect to redis", zap.String("addr", cfg.Addr()), zap.Error(err))
	} else {
		log.Info("connected to redis", zap.String("addr", cfg.Addr()))
	}
	return client
}

// LimiterStorage returns Redis-backed storage for fiber's limiter, kept on
// database 1 apart from the lock and counter keys. It returns nil when Redis
// is unreachable, which makes the limiter count in process memory.
func LimiterStorage(ctx context.Context, client *redis.Client, cfg config.CacheConfig, log *zap.Logger) fiber.Storage {
	if client == nil {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("rate limiter falls back to in-memory storage", zap.Error(err))
		return nil
	}

	return redisstorage.New(redisstorage.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: 1,
		Reset:    false,
	})
}
