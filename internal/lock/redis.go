package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/booking-engine/pkg/logger"
)

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisConfig struct {
	Prefix        string
	Timeout       time.Duration
	TTL           time.Duration
	RetryInterval time.Duration
}

// RedisLocker holds keys as SET NX leases so several instances can share them.
// The TTL must outlive the longest critical section.
type RedisLocker struct {
	client redis.UniversalClient
	cfg    RedisConfig
	log    *logger.Logger
}

func NewRedisLocker(client redis.UniversalClient, cfg RedisConfig, log *logger.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "lock:"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 25 * time.Millisecond
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisLocker{client: client, cfg: cfg, log: log}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	redisKey := l.cfg.Prefix + key
	token := uuid.NewString()

	deadline := time.NewTimer(l.cfg.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, abortedError(key, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return nil, timeoutError(key)
		case <-ctx.Done():
			return nil, abortedError(key, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.log.Error(err, "failed to release lock", "key", key)
			}
		})
	}, nil
}
