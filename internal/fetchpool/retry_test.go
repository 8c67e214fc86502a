package fetchpool

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plateful/reviewcrawler/internal/capture"
)

func TestRetryPolicyAllows(t *testing.T) {
	p := NewRetryPolicy(3, 100*time.Millisecond, time.Second)
	require.True(t, p.Allows(1))
	require.True(t, p.Allows(3))
	require.False(t, p.Allows(4))

	none := NewRetryPolicy(0, 100*time.Millisecond, time.Second)
	require.False(t, none.Allows(1))
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := NewRetryPolicy(5, 100*time.Millisecond, 800*time.Millisecond)

	for attempt := 1; attempt <= 8; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0), "attempt %d", attempt)
		require.LessOrEqual(t, d, 800*time.Millisecond, "attempt %d", attempt)
	}

	// The deterministic half grows with the attempt number until capped.
	first := p.Backoff(1)
	require.GreaterOrEqual(t, first, 50*time.Millisecond)
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := NewRetryPolicy(1, 0, 0)
	require.Equal(t, 250*time.Millisecond, p.baseDelay)
	require.Equal(t, 250*time.Millisecond, p.maxDelay)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   capture.FailureClass
	}{
		{"ok", http.StatusOK, nil, capture.ClassSuccess},
		{"redirect already followed", http.StatusOK, nil, capture.ClassSuccess},
		{"too many requests", http.StatusTooManyRequests, nil, capture.ClassTransient},
		{"server error", http.StatusInternalServerError, nil, capture.ClassTransient},
		{"bad gateway", http.StatusBadGateway, nil, capture.ClassTransient},
		{"not found", http.StatusNotFound, nil, capture.ClassPermanent},
		{"gone", http.StatusGone, nil, capture.ClassPermanent},
		{"forbidden", http.StatusForbidden, nil, capture.ClassPermanent},
		{"deadline", 0, context.DeadlineExceeded, capture.ClassTransient},
		{"canceled", 0, context.Canceled, capture.ClassTransient},
		{"connection error", 0, errors.New("connection refused"), capture.ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(capture.FetchResponse{StatusCode: tt.status}, tt.err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestOriginLimiterBoundsConcurrency(t *testing.T) {
	l := newOriginLimiter(2, 0)
	ctx := context.Background()

	r1, err := l.acquire(ctx, "example.com")
	require.NoError(t, err)
	r2, err := l.acquire(ctx, "example.com")
	require.NoError(t, err)

	// Third same-origin acquire must block until a slot frees.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.acquire(blocked, "example.com")
	require.Error(t, err)

	// A different origin is unaffected.
	r3, err := l.acquire(ctx, "other.com")
	require.NoError(t, err)
	r3()

	r1()
	r4, err := l.acquire(ctx, "example.com")
	require.NoError(t, err)
	r4()
	r2()
}
