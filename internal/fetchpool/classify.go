package fetchpool

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/plateful/reviewcrawler/internal/capture"
)

// classify maps a fetch outcome onto a failure class. Timeouts,
// connection failures, 5xx, and 429 are transient; other 4xx are
// permanent. Context cancellation is transient so an interrupted target
// stays eligible on the next run.
func classify(resp capture.FetchResponse, err error) capture.FailureClass {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return capture.ClassTransient
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return capture.ClassTransient
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return capture.ClassTransient
		}
		// Connection reset, refused, DNS hiccups.
		return capture.ClassTransient
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return capture.ClassTransient
	case resp.StatusCode >= 500:
		return capture.ClassTransient
	case resp.StatusCode >= 400:
		return capture.ClassPermanent
	default:
		return capture.ClassSuccess
	}
}
