package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	fiberredis "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/Turbopic/internal/pkg/config"
)

// NewClient connects to the redis/dragonfly server backing the job queue and
// the API rate limiter. A failed ping is logged, not fatal.
func NewClient(cfg config.CacheConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if pong, err := client.Ping(ctx).Result(); err != nil {
		log.Warnf("[Cache] Could not connect to %s: %v", client.Options().Addr, err)
	} else {
		log.Infof("[Cache] Connected to %s: %s", client.Options().Addr, pong)
	}
	return client
}

// LimiterDatabase is the redis database the API rate limiter counts in,
// separate from the job queue.
const LimiterDatabase = 1

// NewLimiterStorage returns the fiber storage shared by the API rate limiter
// of every instance.
func NewLimiterStorage(cfg config.CacheConfig) fiber.Storage {
	return fiberredis.New(fiberredis.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: LimiterDatabase,
		Reset:    false,
	})
}
