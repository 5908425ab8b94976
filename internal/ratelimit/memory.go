package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one x/time/rate bucket per key in process memory.
type MemoryLimiter struct {
	cfg   Config
	limit rate.Limit
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*memoryBucket

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type memoryBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryOption customizes a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithJanitor evicts buckets idle for longer than the window every interval.
func WithJanitor(interval time.Duration) MemoryOption {
	return func(l *MemoryLimiter) {
		if interval <= 0 {
			return
		}
		l.stop = make(chan struct{})
		l.wg.Add(1)
		go l.janitor(interval)
	}
}

func NewMemoryLimiter(cfg Config, opts ...MemoryOption) (*MemoryLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := &MemoryLimiter{
		cfg:     cfg,
		limit:   rate.Every(cfg.Window / time.Duration(cfg.Capacity)),
		now:     time.Now,
		buckets: make(map[string]*memoryBucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &memoryBucket{limiter: rate.NewLimiter(l.limit, l.cfg.Capacity)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1), nil
}

// Len reports the number of tracked buckets.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops the janitor if one is running.
func (l *MemoryLimiter) Close() {
	l.once.Do(func() {
		if l.stop != nil {
			close(l.stop)
		}
	})
	l.wg.Wait()
}

func (l *MemoryLimiter) janitor(interval time.Duration) {
	defer l.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

// evictIdle drops buckets that have been idle for a full window; they would
// have refilled to capacity anyway.
func (l *MemoryLimiter) evictIdle() {
	cutoff := l.now().Add(-l.cfg.Window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
