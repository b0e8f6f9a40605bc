// Package ratelimit hands out one token bucket per key (client IP, server host).
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Keyed stores a rate limiter for each key.
type Keyed struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	r        rate.Limit
	b        int
}

// NewKeyed creates a new keyed limiter allowing r events per second with burst b.
func NewKeyed(r rate.Limit, b int) *Keyed {
	return &Keyed{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		b:        b,
	}
}

// Get returns the limiter for key, creating it on first use.
func (k *Keyed) Get(key string) *rate.Limiter {
	k.mu.RLock()
	limiter, exists := k.limiters[key]
	k.mu.RUnlock()
	if exists {
		return limiter
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if limiter, exists = k.limiters[key]; !exists {
		limiter = rate.NewLimiter(k.r, k.b)
		k.limiters[key] = limiter
	}
	return limiter
}

// Allow reports whether an event for key may happen now.
func (k *Keyed) Allow(key string) bool {
	return k.Get(key).Allow()
}

// Wait blocks until an event for key is permitted or ctx is done.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	return k.Get(key).Wait(ctx)
}
