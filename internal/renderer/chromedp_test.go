package renderer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewDisabledWithoutSlots(t *testing.T) {
	_, err := New(Config{MaxConcurrency: 0}, zap.NewNop())
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestFetchRendersDynamicContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body><script>document.body.innerHTML = '<a href="/la/reviews/late-spot">late</a>';</script></body></html>`)
	}))
	defer srv.Close()

	rend, err := New(Config{
		UserAgent:          "render-test/1.0",
		Timeout:            10 * time.Second,
		MaxConcurrency:     1,
		ScrollStableRounds: 2,
	}, zap.NewNop())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer rend.Close() //nolint:errcheck

	resp, err := rend.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Skipf("render failed: %v", err)
	}
	if !strings.Contains(string(resp.Body), "late-spot") {
		t.Fatal("rendered body missing dynamic content")
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestResponseMetaKeepsFirstResponse(t *testing.T) {
	meta := &responseMeta{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			meta.record(200+i, fmt.Sprintf("https://example.com/%d", i))
		}(i)
	}
	wg.Wait()

	status, url := meta.snapshot()
	if status < 200 || status > 207 {
		t.Fatalf("unexpected status %d", status)
	}
	if !strings.HasPrefix(url, "https://example.com/") {
		t.Fatalf("unexpected url %q", url)
	}

	// Later responses never overwrite the first.
	meta.record(301, "https://example.com/redirect")
	again, _ := meta.snapshot()
	if again != status {
		t.Fatalf("status changed from %d to %d", status, again)
	}
}
