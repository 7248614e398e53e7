// Package ratelimit keeps one token bucket per key.
package ratelimit

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

type Config struct {
	RequestsPerSecond float64
	Burst             int
	// TTL evicts buckets of keys that stopped sending requests.
	TTL time.Duration
}

// KeyedLimiter hands out per-key limiters kept in an expiring cache.
type KeyedLimiter struct {
	cfg     Config
	buckets *cache.Cache
	mu      sync.Mutex
}

func NewKeyedLimiter(cfg Config) *KeyedLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &KeyedLimiter{
		cfg:     cfg,
		buckets: cache.New(cfg.TTL, cfg.TTL*2),
	}
}

func (l *KeyedLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		// touch to extend expiry
		l.buckets.Set(key, lim, cache.DefaultExpiration)
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
	l.buckets.Set(key, lim, cache.DefaultExpiration)
	return lim
}

// Allow reports whether key may proceed now, consuming one token if so.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}

// AllowAt is Allow evaluated at t.
func (l *KeyedLimiter) AllowAt(key string, t time.Time) bool {
	return l.limiter(key).AllowN(t, 1)
}

// Len is the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	return l.buckets.ItemCount()
}
