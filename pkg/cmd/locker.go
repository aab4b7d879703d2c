package cmd

import (
	"fmt"

	"github.com/approvia/approvia/pkg/engine"
	"github.com/redis/go-redis/v9"
)

// NewLocker picks the instance-lock backend. A single replica gets the
// in-process keyed mutex; replicas sharing a database must point REDIS_URL at
// the same Redis so actions on one instance serialize across processes.
func NewLocker(redisURL string) engine.Locker {
	if redisURL == "" {
		return engine.NewKeyedMutex()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to parse redis URL: %w", err))
	}

	return engine.NewRedisLocker(redis.NewClient(opts))
}
