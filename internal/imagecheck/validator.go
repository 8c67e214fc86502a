// Package imagecheck validates downloaded image payloads before they are
// accepted into a record. Validation is pure and deterministic: the same
// bytes always produce the same verdict.
package imagecheck

import (
	"bytes"
	"image"
	"strings"

	// Raster decoders consulted by image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/plateful/reviewcrawler/internal/capture"
)

// Config holds the validator thresholds.
type Config struct {
	MinBytes       int
	MinWidth       int
	MinHeight      int
	AllowedFormats []string
	// MaxAspectRatio rejects images whose long side exceeds this multiple
	// of the short side. Zero disables the check.
	MaxAspectRatio float64
}

// Validator applies the acceptance rules in a fixed order: byte size,
// magic bytes, full decode, pixel dimensions, format allow-list, aspect
// ratio. The declared MIME type never grants acceptance; it is only used
// to flag mislabeled content in the verdict's format field.
type Validator struct {
	cfg     Config
	allowed map[string]struct{}
}

// New builds a Validator.
func New(cfg Config) *Validator {
	allowed := make(map[string]struct{}, len(cfg.AllowedFormats))
	for _, f := range cfg.AllowedFormats {
		allowed[strings.ToLower(strings.TrimSpace(f))] = struct{}{}
	}
	return &Validator{cfg: cfg, allowed: allowed}
}

var magicTable = []struct {
	prefix []byte
	format string
}{
	{[]byte{0xFF, 0xD8, 0xFF}, "jpeg"},
	{[]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, "png"},
	{[]byte("GIF87a"), "gif"},
	{[]byte("GIF89a"), "gif"},
}

func sniffFormat(data []byte) string {
	for _, m := range magicTable {
		if bytes.HasPrefix(data, m.prefix) {
			return m.format
		}
	}
	// RIFF....WEBP
	if len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return "webp"
	}
	return ""
}

// Validate decides accept or reject for one payload. declaredMIME is the
// server's Content-Type; acceptance never depends on it, so mislabeled
// content is judged by what the bytes actually are.
func (v *Validator) Validate(data []byte, declaredMIME string) capture.Verdict {
	if len(data) < v.cfg.MinBytes {
		return reject(capture.ReasonTooFewBytes, len(data))
	}

	format := sniffFormat(data)
	if format == "" {
		return reject(capture.ReasonUnrecognized, len(data))
	}

	// Header sniffing is not enough: truncated buffers pass the magic
	// check but fail here.
	img, decodedFormat, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return reject(capture.ReasonUndecodable, len(data))
	}
	if decodedFormat != "" {
		format = decodedFormat
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < v.cfg.MinWidth || height < v.cfg.MinHeight {
		return capture.Verdict{
			Format: format,
			Width:  width,
			Height: height,
			Bytes:  len(data),
			Reason: capture.ReasonTooSmall,
		}
	}

	if len(v.allowed) > 0 {
		if _, ok := v.allowed[format]; !ok {
			return capture.Verdict{
				Format: format,
				Width:  width,
				Height: height,
				Bytes:  len(data),
				Reason: capture.ReasonFormatNotAllowed,
			}
		}
	}

	if v.cfg.MaxAspectRatio > 0 {
		long, short := float64(width), float64(height)
		if short > long {
			long, short = short, long
		}
		if short > 0 && long/short > v.cfg.MaxAspectRatio {
			return capture.Verdict{
				Format: format,
				Width:  width,
				Height: height,
				Bytes:  len(data),
				Reason: capture.ReasonBadAspect,
			}
		}
	}

	return capture.Verdict{
		OK:     true,
		Format: format,
		Width:  width,
		Height: height,
		Bytes:  len(data),
	}
}

func reject(reason capture.RejectReason, size int) capture.Verdict {
	return capture.Verdict{Bytes: size, Reason: reason}
}
