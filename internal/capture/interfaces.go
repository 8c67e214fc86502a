package capture

import (
	"context"
	"time"
)

// FetchResponse is what a Fetcher returns when it obtained an HTTP
// response, regardless of status code.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Fetcher retrieves a single URL. A non-nil error means no usable
// response was obtained; HTTP error statuses come back as a response.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// FingerprintStore is the persisted record of what has already been
// captured. Record is idempotent; recording a known fingerprint is a
// no-op, not an error.
type FingerprintStore interface {
	Contains(fingerprint string) bool
	Record(fingerprint string) error
}

// Validator inspects a downloaded byte buffer and decides accept or
// reject. Implementations are pure: no I/O, deterministic per input.
type Validator interface {
	Validate(data []byte, declaredMIME string) Verdict
}

// Extractor turns rendered HTML into record fields, embedded image
// references, and discovered page links. Per-site selector logic lives
// behind this interface.
type Extractor interface {
	Extract(pageURL string, html []byte) (Extraction, error)
}

// Writer commits a record and its validated images to durable storage
// with atomic visibility.
type Writer interface {
	Commit(ctx context.Context, rec Record, images []ValidatedImage) error
}

// Hasher computes content digests for fingerprints and dedup.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}
