// Package fetchpool executes page and image retrieval under a bounded
// concurrency budget with per-origin throttling and retries.
package fetchpool

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/plateful/reviewcrawler/internal/capture"
	"github.com/plateful/reviewcrawler/internal/metrics"
)

// Config controls pool behavior.
type Config struct {
	Concurrency          int
	PerOriginConcurrency int
	PerOriginQPS         float64
	RequestTimeout       time.Duration
	MaxRetries           int
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
}

// Pool is a fixed-size fetch executor. Submit never blocks the caller;
// results arrive on Results in completion order. The coordinator caps
// how many targets it keeps in flight, which also bounds the results
// buffer.
type Pool struct {
	cfg     Config
	pages   capture.Fetcher
	images  capture.Fetcher
	hasher  capture.Hasher
	retry   *RetryPolicy
	sem     *semaphore.Weighted
	origins *originLimiter
	results chan capture.FetchResult
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New constructs a Pool. pages handles KindPage targets, images handles
// KindImage targets.
func New(cfg Config, pages, images capture.Fetcher, hasher capture.Hasher, logger *zap.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Pool{
		cfg:     cfg,
		pages:   pages,
		images:  images,
		hasher:  hasher,
		retry:   NewRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		origins: newOriginLimiter(cfg.PerOriginConcurrency, cfg.PerOriginQPS),
		results: make(chan capture.FetchResult, cfg.Concurrency),
		logger:  logger,
	}
}

// Results delivers one FetchResult for every submitted target.
func (p *Pool) Results() <-chan capture.FetchResult {
	return p.results
}

// Submit schedules a target for fetching.
func (p *Pool) Submit(ctx context.Context, t capture.Target) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.results <- p.fetch(ctx, t)
	}()
}

// Wait blocks until every submitted target has produced a result.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) fetch(ctx context.Context, t capture.Target) capture.FetchResult {
	if _, err := url.ParseRequestURI(t.URL); err != nil {
		return permanentResult(t, 0, 1, false, err)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return transientResult(t, 0, 0, err)
	}
	defer p.sem.Release(1)

	release, err := p.origins.acquire(ctx, capture.Origin(t.URL))
	if err != nil {
		return transientResult(t, 0, 0, err)
	}
	defer release()

	var lastErr error
	var lastStatus int
	for attempt := 1; ; attempt++ {
		metrics.FetchAttempts.WithLabelValues(string(t.Kind)).Inc()

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		resp, fetchErr := p.fetcherFor(t.Kind).Fetch(attemptCtx, t.URL)
		cancel()

		if resp.Duration > 0 {
			metrics.FetchDuration.Observe(resp.Duration.Seconds())
		}

		switch classify(resp, fetchErr) {
		case capture.ClassSuccess:
			hash, hashErr := p.hasher.Hash(resp.Body)
			if hashErr != nil {
				return permanentResult(t, resp.StatusCode, attempt, false, hashErr)
			}
			return capture.FetchResult{
				Target:      t,
				Class:       capture.ClassSuccess,
				StatusCode:  resp.StatusCode,
				ContentType: resp.ContentType,
				Body:        resp.Body,
				ContentHash: hash,
				Attempts:    attempt,
				Duration:    resp.Duration,
			}

		case capture.ClassPermanent:
			metrics.FetchFailures.WithLabelValues("permanent").Inc()
			return permanentResult(t, resp.StatusCode, attempt, false, fetchErr)

		case capture.ClassTransient:
			lastErr = fetchErr
			lastStatus = resp.StatusCode
			if ctx.Err() != nil {
				return transientResult(t, lastStatus, attempt, ctx.Err())
			}
			if !p.retry.Allows(attempt) {
				// Out of retries: the target gives up, but stays
				// distinguishable from a true permanent failure.
				metrics.FetchFailures.WithLabelValues("retries_exhausted").Inc()
				return permanentResult(t, lastStatus, attempt, true, lastErr)
			}
			metrics.FetchRetries.Inc()
			backoff := p.retry.Backoff(attempt)
			p.logger.Debug("retrying after transient failure",
				zap.String("url", t.URL),
				zap.Int("attempt", attempt),
				zap.Int("status", lastStatus),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, backoff); err != nil {
				return transientResult(t, lastStatus, attempt, err)
			}
		}
	}
}

func (p *Pool) fetcherFor(kind capture.TargetKind) capture.Fetcher {
	if kind == capture.KindImage {
		return p.images
	}
	return p.pages
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func permanentResult(t capture.Target, status, attempts int, exhausted bool, err error) capture.FetchResult {
	return capture.FetchResult{
		Target:           t,
		Class:            capture.ClassPermanent,
		StatusCode:       status,
		Attempts:         attempts,
		RetriesExhausted: exhausted,
		Err:              err,
	}
}

func transientResult(t capture.Target, status, attempts int, err error) capture.FetchResult {
	return capture.FetchResult{
		Target:     t,
		Class:      capture.ClassTransient,
		StatusCode: status,
		Attempts:   attempts,
		Err:        err,
	}
}
