package fetchpool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// originLimiter throttles work per origin host independently of the
// global pool bound: a concurrency budget (in-flight requests) plus an
// optional QPS budget, so one slow or angry origin cannot starve others.
type originLimiter struct {
	mu       sync.Mutex
	sems     map[string]*semaphore.Weighted
	limiters map[string]*rate.Limiter
	slots    int64
	qps      rate.Limit
	burst    int
}

func newOriginLimiter(slots int, qps float64) *originLimiter {
	if slots <= 0 {
		slots = 1
	}
	limit := rate.Limit(qps)
	if qps <= 0 {
		limit = rate.Inf
	}
	return &originLimiter{
		sems:     make(map[string]*semaphore.Weighted),
		limiters: make(map[string]*rate.Limiter),
		slots:    int64(slots),
		qps:      limit,
		burst:    1,
	}
}

// acquire blocks until the origin has a free slot and a rate token,
// respecting ctx. The returned release must be called once the request
// to that origin is no longer in flight.
func (l *originLimiter) acquire(ctx context.Context, origin string) (func(), error) {
	l.mu.Lock()
	sem, ok := l.sems[origin]
	if !ok {
		sem = semaphore.NewWeighted(l.slots)
		l.sems[origin] = sem
	}
	limiter, ok := l.limiters[origin]
	if !ok {
		limiter = rate.NewLimiter(l.qps, l.burst)
		l.limiters[origin] = limiter
	}
	l.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire origin slot: %w", err)
	}
	if err := limiter.Wait(ctx); err != nil {
		sem.Release(1)
		return nil, fmt.Errorf("origin rate wait: %w", err)
	}
	return func() { sem.Release(1) }, nil
}
