package capture

import (
	"time"
)

// TargetKind selects the fetch path a target takes through the pool.
type TargetKind string

// Target kinds.
const (
	KindPage  TargetKind = "page"
	KindImage TargetKind = "image"
)

// ImageSource classifies where an image URL points.
type ImageSource string

// Image sources recognized by the extractor.
const (
	SourceCloudinary ImageSource = "cloudinary"
	SourceInstagram  ImageSource = "instagram"
	SourceOther      ImageSource = "other"
)

// Target is one unit of crawl work. Identity is the normalized URL; a
// target is consumed at most once per run.
type Target struct {
	URL     string
	Kind    TargetKind
	Depth   int
	Referer string
	Alt     string
	Source  ImageSource
}

// TargetState is the coordinator's per-target lifecycle state.
type TargetState string

// Target lifecycle states.
const (
	StatePending         TargetState = "pending"
	StateDispatched      TargetState = "dispatched"
	StateSucceeded       TargetState = "succeeded"
	StateSkippedKnown    TargetState = "skipped_known"
	StateFailedPermanent TargetState = "failed_permanent"
)

// FailureClass separates retryable fetch failures from terminal ones.
type FailureClass int

// Failure classes. ClassTransient results never leave the pool; after
// retry exhaustion they surface as ClassPermanent with RetriesExhausted
// set so logs can tell the two apart.
const (
	ClassSuccess FailureClass = iota
	ClassTransient
	ClassPermanent
)

// String implements fmt.Stringer for log fields.
func (c FailureClass) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// FetchResult is the outcome of attempting a Target. The pool owns a
// result until it is delivered to the coordinator's loop.
type FetchResult struct {
	Target           Target
	Class            FailureClass
	StatusCode       int
	ContentType      string
	Body             []byte
	ContentHash      string
	Attempts         int
	RetriesExhausted bool
	Duration         time.Duration
	Err              error
}

// ValidatedImage is an image payload that passed validation, plus the
// metadata derived while decoding it.
type ValidatedImage struct {
	Target   Target
	Payload  []byte
	Format   string
	Width    int
	Height   int
	ByteSize int
}

// ImageAsset is a stored-image reference embedded in a Record. Records
// reference image files, they never embed bytes.
type ImageAsset struct {
	URL    string      `json:"url"`
	Alt    string      `json:"alt,omitempty"`
	Source ImageSource `json:"source"`
	Format string      `json:"format,omitempty"`
	Width  int         `json:"width,omitempty"`
	Height int         `json:"height,omitempty"`
	Bytes  int         `json:"bytes,omitempty"`
	Path   string      `json:"path,omitempty"`
	Stored bool        `json:"stored"`
}

// Record is the structured output unit for one captured page.
type Record struct {
	URL         string       `json:"url"`
	Slug        string       `json:"slug"`
	Title       string       `json:"title"`
	PublishedAt string       `json:"published_at,omitempty"`
	City        string       `json:"city,omitempty"`
	CapturedAt  time.Time    `json:"captured_at"`
	ContentHash string       `json:"content_hash"`
	Images      []ImageAsset `json:"images"`
}

// ImageRef is an embedded image discovered during extraction, before any
// fetch or validation has happened.
type ImageRef struct {
	URL    string
	Alt    string
	Source ImageSource
}

// Extraction is the schema-validated output of page extraction.
type Extraction struct {
	Title       string
	PublishedAt string
	City        string
	Images      []ImageRef
	Links       []string
}

// Verdict is the image validator's decision for one payload.
type Verdict struct {
	OK     bool
	Format string
	Width  int
	Height int
	Bytes  int
	Reason RejectReason
}

// RejectReason enumerates why the validator refused a payload. Reasons are
// fixed values, not free text, so callers can branch on cause.
type RejectReason string

// Validation reject reasons.
const (
	ReasonTooFewBytes      RejectReason = "too_few_bytes"
	ReasonUnrecognized     RejectReason = "unrecognized_format"
	ReasonUndecodable      RejectReason = "undecodable"
	ReasonTooSmall         RejectReason = "too_small"
	ReasonFormatNotAllowed RejectReason = "format_not_allowed"
	ReasonBadAspect        RejectReason = "bad_aspect"
)
