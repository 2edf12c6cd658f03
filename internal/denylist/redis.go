package denylist

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "authhub:denylist:"

type Redis struct {
	redisdb *redis.Client
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedis(cfg RedisConfig) *Redis {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Redis{redisdb: redisdb}
}

// Ping checks redis connectivity for readiness probes.
func (s *Redis) Ping(ctx context.Context) error {
	return s.redisdb.Ping(ctx).Err()
}

func (s *Redis) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)

	if ttl <= 0 {
		// already expired, nothing to record
		return nil
	}

	return s.redisdb.Set(ctx, keyPrefix+jti, "1", ttl).Err()
}

func (s *Redis) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.redisdb.Exists(ctx, keyPrefix+jti).Result()

	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (s *Redis) Close() error {
	return s.redisdb.Close()
}
