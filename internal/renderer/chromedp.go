// Package renderer renders JavaScript-driven pages with headless Chrome.
// Listing pages load their content lazily, so rendering scrolls until the
// document height stops growing before snapshotting the DOM.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/plateful/reviewcrawler/internal/capture"
)

// ErrDisabled indicates rendering has been disabled via configuration.
var ErrDisabled = errors.New("renderer disabled")

// Config controls the renderer.
type Config struct {
	UserAgent          string
	Timeout            time.Duration
	MaxConcurrency     int
	ScrollStableRounds int
}

// Chromedp implements capture.Fetcher for page targets using a shared
// headless browser with one tab per fetch.
type Chromedp struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	cfg             Config
}

// New starts the browser. Callers must Close the renderer when done.
func New(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, ErrDisabled
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.ScrollStableRounds <= 0 {
		cfg.ScrollStableRounds = 5
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Chromedp{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
		cfg:             cfg,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (r *Chromedp) Close() error {
	if r == nil {
		return nil
	}
	r.browserCancel()
	r.allocatorCancel()
	return nil
}

// Fetch renders url and returns the DOM snapshot as the response body.
func (r *Chromedp) Fetch(ctx context.Context, rawURL string) (capture.FetchResponse, error) {
	if r == nil {
		return capture.FetchResponse{}, ErrDisabled
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return capture.FetchResponse{}, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}

	start := time.Now()

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := &responseMeta{}
	r.recordResponse(tabCtx, meta)

	html, err := r.renderAndScroll(taskCtx, rawURL)
	if err != nil {
		return capture.FetchResponse{Duration: time.Since(start)}, fmt.Errorf("render %s: %w", rawURL, err)
	}

	status, finalURL := meta.snapshot()
	if status == 0 {
		status = 200
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	return capture.FetchResponse{
		URL:         finalURL,
		StatusCode:  status,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(html),
		Duration:    time.Since(start),
	}, nil
}

func (r *Chromedp) renderAndScroll(ctx context.Context, rawURL string) (string, error) {
	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		r.scrollUntilStable(),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

// scrollUntilStable pages to the bottom until the scroll height holds for
// the configured number of rounds, which flushes lazily loaded content.
func (r *Chromedp) scrollUntilStable() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		lastHeight := int64(-1)
		stable := 0
		for stable < r.cfg.ScrollStableRounds {
			var height int64
			if err := chromedp.Run(ctx,
				chromedp.Evaluate(`window.scrollBy(0, 3000); document.body.scrollHeight`, &height),
			); err != nil {
				return fmt.Errorf("scroll: %w", err)
			}
			if height == lastHeight {
				stable++
			} else {
				stable = 0
				lastHeight = height
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(300 * time.Millisecond):
			}
		}
		return nil
	}
}

// responseMeta keeps the first document response seen by the tab. The
// CDP event listener runs on its own goroutine, so access is locked.
type responseMeta struct {
	mu         sync.Mutex
	statusCode int
	url        string
}

// record keeps the first response; later document responses (redirects
// within the page, iframes) are ignored.
func (m *responseMeta) record(status int, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusCode != 0 {
		return
	}
	m.statusCode = status
	m.url = url
}

func (m *responseMeta) snapshot() (status int, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCode, m.url
}

func (r *Chromedp) recordResponse(tabCtx context.Context, meta *responseMeta) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.record(int(resp.Response.Status), resp.Response.URL)
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
