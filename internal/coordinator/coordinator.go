// Package coordinator drives a crawl run: it enumerates targets, filters
// them against the fingerprint store, dispatches fetches, consumes pool
// results, assembles records, and decides what gets written. All decision
// logic runs on a single event loop; only fetches are concurrent.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/plateful/reviewcrawler/internal/capture"
	"github.com/plateful/reviewcrawler/internal/metrics"
	"github.com/plateful/reviewcrawler/internal/output"
)

// Pool is the slice of the fetch pool the coordinator consumes.
type Pool interface {
	Submit(ctx context.Context, t capture.Target)
	Results() <-chan capture.FetchResult
}

// Config controls run behavior.
type Config struct {
	Concurrency      int
	MaxDepth         int
	RecaptureChanged bool
	StartDate        string
	EndDate          string
}

// Summary is the end-of-run report. Per-target failures never abort the
// run; they are counted here by category.
type Summary struct {
	PagesCaptured      int            `json:"pages_captured"`
	PagesUpdated       int            `json:"pages_updated"`
	ImagesStored       int            `json:"images_stored"`
	SkippedKnown       int            `json:"skipped_known"`
	FailedPermanent    int            `json:"failed_permanent"`
	RetriesExhausted   int            `json:"retries_exhausted"`
	ValidationRejected int            `json:"validation_rejected"`
	DateFiltered       int            `json:"date_filtered"`
	WriteErrors        int            `json:"write_errors"`
	Canceled           int            `json:"canceled"`
	RejectReasons      map[string]int `json:"reject_reasons,omitempty"`
}

// Coordinator owns all run state. It is not safe for concurrent use; one
// coordinator drives one run.
type Coordinator struct {
	cfg       Config
	store     capture.FingerprintStore
	pool      Pool
	validator capture.Validator
	extractor capture.Extractor
	writer    capture.Writer
	clock     capture.Clock
	logger    *zap.Logger

	queue    []capture.Target
	states   map[string]capture.TargetState
	builders map[string]*recordBuilder
	inflight int
	summary  Summary
}

// recordBuilder accumulates a page's record while its image targets are
// still in flight. The record commits once pending reaches zero.
type recordBuilder struct {
	rec       capture.Record
	pending   int
	validated []capture.ValidatedImage
	update    bool
}

// New constructs a Coordinator.
func New(
	cfg Config,
	store capture.FingerprintStore,
	pool Pool,
	validator capture.Validator,
	extractor capture.Extractor,
	writer capture.Writer,
	clock capture.Clock,
	logger *zap.Logger,
) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Coordinator{
		cfg:       cfg,
		store:     store,
		pool:      pool,
		validator: validator,
		extractor: extractor,
		writer:    writer,
		clock:     clock,
		logger:    logger,
		states:    make(map[string]capture.TargetState),
		builders:  make(map[string]*recordBuilder),
		summary:   Summary{RejectReasons: make(map[string]int)},
	}
}

// Run executes one crawl over the seed listing pages and blocks until the
// queue drains or ctx is canceled. Seeds are enumeration pages: they are
// always refetched and never committed, so new reviews keep being
// discovered on later runs.
func (c *Coordinator) Run(ctx context.Context, seeds []string) (Summary, error) {
	for _, seed := range seeds {
		normalized, err := capture.NormalizeURL(seed)
		if err != nil {
			return Summary{}, capture.ConfigError(fmt.Errorf("seed %q: %w", seed, err))
		}
		c.enqueue(capture.Target{URL: normalized, Kind: capture.KindPage, Depth: 0})
	}

	for c.inflight > 0 || len(c.queue) > 0 {
		c.dispatchReady(ctx)

		if c.inflight == 0 {
			if ctx.Err() != nil {
				// Dispatch has stopped; whatever is still queued stays
				// eligible for the next run.
				c.summary.Canceled += len(c.queue)
				c.queue = nil
				break
			}
			continue
		}

		res := <-c.pool.Results()
		c.inflight--
		c.handle(ctx, res)
	}

	c.logger.Info("run finished",
		zap.Int("pages_captured", c.summary.PagesCaptured),
		zap.Int("pages_updated", c.summary.PagesUpdated),
		zap.Int("images_stored", c.summary.ImagesStored),
		zap.Int("skipped_known", c.summary.SkippedKnown),
		zap.Int("failed_permanent", c.summary.FailedPermanent),
		zap.Int("validation_rejected", c.summary.ValidationRejected),
		zap.Int("write_errors", c.summary.WriteErrors),
		zap.Int("canceled", c.summary.Canceled),
	)
	return c.summary, nil
}

// dispatchReady feeds the pool until it is saturated or the queue is
// empty. Cancellation stops new dispatches immediately.
func (c *Coordinator) dispatchReady(ctx context.Context) {
	for ctx.Err() == nil && c.inflight < c.cfg.Concurrency && len(c.queue) > 0 {
		t := c.queue[0]
		c.queue = c.queue[1:]
		c.states[stateKey(t)] = capture.StateDispatched
		c.inflight++
		c.pool.Submit(ctx, t)
	}
}

func (c *Coordinator) enqueue(t capture.Target) {
	key := stateKey(t)
	if _, seen := c.states[key]; seen {
		return
	}
	c.states[key] = capture.StatePending
	c.queue = append(c.queue, t)
}

// stateKey identifies a target within a run. Image identity includes the
// owning page so the same image on two pages resolves for both records.
func stateKey(t capture.Target) string {
	if t.Kind == capture.KindImage {
		return string(t.Kind) + "|" + t.Referer + "|" + t.URL
	}
	return string(t.Kind) + "|" + t.URL
}

func (c *Coordinator) handle(ctx context.Context, res capture.FetchResult) {
	switch res.Target.Kind {
	case capture.KindPage:
		c.handlePage(ctx, res)
	case capture.KindImage:
		c.handleImage(ctx, res)
	}
}

func (c *Coordinator) handlePage(ctx context.Context, res capture.FetchResult) {
	t := res.Target
	key := stateKey(t)

	switch res.Class {
	case capture.ClassTransient:
		// Only cancellation lets a transient escape the pool.
		c.summary.Canceled++
		return
	case capture.ClassPermanent:
		c.states[key] = capture.StateFailedPermanent
		c.summary.FailedPermanent++
		if res.RetriesExhausted {
			c.summary.RetriesExhausted++
		}
		c.logger.Warn("page failed",
			zap.String("url", t.URL),
			zap.Int("status", res.StatusCode),
			zap.Bool("retries_exhausted", res.RetriesExhausted),
			zap.Error(res.Err),
		)
		return
	}

	extraction, err := c.extractor.Extract(t.URL, res.Body)
	if err != nil {
		c.states[key] = capture.StateFailedPermanent
		c.summary.FailedPermanent++
		c.logger.Warn("page extraction failed", zap.String("url", t.URL), zap.Error(err))
		return
	}

	c.enqueueLinks(t, extraction.Links)

	if t.Depth == 0 {
		// Enumeration page: links only, nothing to capture.
		c.states[key] = capture.StateSucceeded
		return
	}

	if c.cfg.RecaptureChanged {
		if c.store.Contains(capture.ContentFingerprint(t.URL, res.ContentHash)) {
			c.states[key] = capture.StateSkippedKnown
			c.summary.SkippedKnown++
			metrics.TargetsSkipped.Inc()
			return
		}
	}

	if err := extraction.Validate(); err != nil {
		c.states[key] = capture.StateFailedPermanent
		c.summary.ValidationRejected++
		c.logger.Warn("extraction output rejected", zap.String("url", t.URL), zap.Error(err))
		return
	}

	if !c.dateInRange(extraction.PublishedAt) {
		c.summary.DateFiltered++
		c.states[key] = capture.StateSucceeded
		return
	}

	c.states[key] = capture.StateSucceeded
	c.buildRecord(ctx, t, res, extraction)
}

// enqueueLinks adds discovered page targets while the depth bound allows.
func (c *Coordinator) enqueueLinks(from capture.Target, links []string) {
	if from.Depth+1 > c.cfg.MaxDepth {
		return
	}
	for _, link := range links {
		normalized, err := capture.NormalizeURL(link)
		if err != nil {
			continue
		}
		pageKey := stateKey(capture.Target{URL: normalized, Kind: capture.KindPage})
		if _, seen := c.states[pageKey]; seen {
			continue
		}
		if !c.cfg.RecaptureChanged && c.store.Contains(capture.URLFingerprint(normalized)) {
			c.states[pageKey] = capture.StateSkippedKnown
			c.summary.SkippedKnown++
			metrics.TargetsSkipped.Inc()
			continue
		}
		c.enqueue(capture.Target{
			URL:     normalized,
			Kind:    capture.KindPage,
			Depth:   from.Depth + 1,
			Referer: from.URL,
		})
	}
}

// buildRecord assembles the page's record and dispatches its image
// targets. Image targets ignore the page depth bound: images of a
// max-depth page are still fetched.
func (c *Coordinator) buildRecord(ctx context.Context, t capture.Target, res capture.FetchResult, extraction capture.Extraction) {
	builder := &recordBuilder{
		rec: capture.Record{
			URL:         t.URL,
			Slug:        capture.Slug(t.URL),
			Title:       extraction.Title,
			PublishedAt: extraction.PublishedAt,
			City:        extraction.City,
			CapturedAt:  c.clock.Now(),
			ContentHash: res.ContentHash,
		},
		update: c.cfg.RecaptureChanged && c.store.Contains(capture.URLFingerprint(t.URL)),
	}

	seen := make(map[string]struct{}, len(extraction.Images))
	for _, ref := range extraction.Images {
		normalized, err := capture.NormalizeURL(ref.URL)
		if err != nil {
			continue
		}
		if _, dup := seen[normalized]; dup {
			// Alias spellings collapse to one target; a second pending
			// slot would wait for a result that never arrives.
			continue
		}
		seen[normalized] = struct{}{}
		asset := capture.ImageAsset{URL: normalized, Alt: ref.Alt, Source: ref.Source}

		if c.store.Contains(capture.URLFingerprint(normalized)) {
			// Already durable from an earlier capture; reference its
			// deterministic path instead of refetching.
			asset.Path = output.ImagePath(normalized)
			asset.Stored = true
			c.summary.SkippedKnown++
			metrics.TargetsSkipped.Inc()
			builder.rec.Images = append(builder.rec.Images, asset)
			continue
		}

		builder.rec.Images = append(builder.rec.Images, asset)
		builder.pending++
		c.enqueue(capture.Target{
			URL:     normalized,
			Kind:    capture.KindImage,
			Depth:   t.Depth + 1,
			Referer: t.URL,
			Alt:     ref.Alt,
			Source:  ref.Source,
		})
	}

	c.builders[t.URL] = builder
	if builder.pending == 0 {
		c.commit(ctx, t.URL)
	}
}

func (c *Coordinator) handleImage(ctx context.Context, res capture.FetchResult) {
	t := res.Target
	key := stateKey(t)
	builder := c.builders[t.Referer]

	switch res.Class {
	case capture.ClassTransient:
		// Canceled mid-record: the page must not commit incomplete, and
		// without its fingerprint the whole record stays eligible next run.
		c.summary.Canceled++
		delete(c.builders, t.Referer)
		return
	case capture.ClassPermanent:
		c.states[key] = capture.StateFailedPermanent
		c.summary.FailedPermanent++
		if res.RetriesExhausted {
			c.summary.RetriesExhausted++
		}
		c.logger.Warn("image failed",
			zap.String("url", t.URL),
			zap.String("page", t.Referer),
			zap.Int("status", res.StatusCode),
			zap.Error(res.Err),
		)
	case capture.ClassSuccess:
		verdict := c.validator.Validate(res.Body, res.ContentType)
		if !verdict.OK {
			// A rejected image is a permanent failure for its target;
			// the record keeps the images that passed.
			c.states[key] = capture.StateFailedPermanent
			c.summary.ValidationRejected++
			c.summary.RejectReasons[string(verdict.Reason)]++
			metrics.ImagesRejected.WithLabelValues(string(verdict.Reason)).Inc()
			c.logger.Debug("image rejected",
				zap.String("url", t.URL),
				zap.String("reason", string(verdict.Reason)),
			)
			break
		}
		c.states[key] = capture.StateSucceeded
		if builder != nil {
			img := capture.ValidatedImage{
				Target:   t,
				Payload:  res.Body,
				Format:   verdict.Format,
				Width:    verdict.Width,
				Height:   verdict.Height,
				ByteSize: verdict.Bytes,
			}
			builder.validated = append(builder.validated, img)
			updateAsset(&builder.rec, t.URL, verdict)
		}
	}

	if builder == nil {
		return
	}
	builder.pending--
	if builder.pending == 0 {
		c.commit(ctx, t.Referer)
	}
}

func updateAsset(rec *capture.Record, imageURL string, verdict capture.Verdict) {
	for i := range rec.Images {
		if rec.Images[i].URL == imageURL {
			rec.Images[i].Format = verdict.Format
			rec.Images[i].Width = verdict.Width
			rec.Images[i].Height = verdict.Height
			rec.Images[i].Bytes = verdict.Bytes
			return
		}
	}
}

// commit hands a finished record to the writer. Write failures are
// isolated to the record; its targets stay eligible on the next run.
func (c *Coordinator) commit(ctx context.Context, pageURL string) {
	builder, ok := c.builders[pageURL]
	if !ok {
		return
	}
	delete(c.builders, pageURL)

	if err := c.writer.Commit(ctx, builder.rec, builder.validated); err != nil {
		c.summary.WriteErrors++
		c.logger.Error("record commit failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	if builder.update {
		c.summary.PagesUpdated++
	} else {
		c.summary.PagesCaptured++
	}
	c.summary.ImagesStored += len(builder.validated)
}

func (c *Coordinator) dateInRange(published string) bool {
	if c.cfg.StartDate == "" && c.cfg.EndDate == "" {
		return true
	}
	if published == "" {
		return false
	}
	if c.cfg.StartDate != "" && published < c.cfg.StartDate {
		return false
	}
	if c.cfg.EndDate != "" && published > c.cfg.EndDate {
		return false
	}
	return true
}

// IsConfigurationError reports whether a Run error was fatal
// configuration rather than per-target failure.
func IsConfigurationError(err error) bool {
	return errors.Is(err, capture.ErrConfiguration)
}
