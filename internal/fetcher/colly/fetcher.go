// Package collyfetcher implements capture.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/plateful/reviewcrawler/internal/capture"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher executes single HTTP GETs through a colly collector. Retries,
// throttling, and classification stay in the pool; this type only turns
// one URL into one response.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.IgnoreRobotsTxt = true
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single GET. HTTP error statuses are returned as a
// response with the status code set, not as an error, so the caller can
// classify them.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (capture.FetchResponse, error) {
	var (
		result   capture.FetchResponse
		gotBody  bool
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		result = capture.FetchResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
		gotBody = true
	})

	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil && r.StatusCode != 0 {
			// Non-2xx responses land here; surface them as a response.
			contentType := ""
			if r.Headers != nil {
				contentType = r.Headers.Get("Content-Type")
			}
			result = capture.FetchResponse{
				URL:         rawURL,
				StatusCode:  r.StatusCode,
				ContentType: contentType,
				Body:        append([]byte(nil), r.Body...),
				Duration:    time.Since(start),
			}
			gotBody = true
			fetchErr = nil
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return capture.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		if gotBody {
			return result, nil
		}
		if fetchErr != nil {
			return capture.FetchResponse{Duration: time.Since(start)}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		if visitErr != nil {
			return capture.FetchResponse{Duration: time.Since(start)}, fmt.Errorf("visit %s: %w", rawURL, visitErr)
		}
		return capture.FetchResponse{}, fmt.Errorf("fetch %s: no response", rawURL)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
