package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// NormalizeURL standardizes a URL so it can serve as a target identity.
// It lowercases the scheme and host, strips default ports and fragments,
// and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ResolveURL resolves ref against the page it was discovered on.
func ResolveURL(pageURL, ref string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse ref url: %w", err)
	}
	return base.ResolveReference(r).String(), nil
}

// Origin returns the lowercased host of a URL, or "unknown" when the URL
// does not parse. Per-origin throttling keys on this value.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

var slugCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives a filesystem-safe slug from a page URL's last path
// segment, falling back to a hash of the URL when the path is empty.
func Slug(pageURL string) string {
	segment := pageURL
	if u, err := url.Parse(pageURL); err == nil {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		segment = parts[len(parts)-1]
	}
	s := slugCleaner.ReplaceAllString(strings.ToLower(segment), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		sum := sha256.Sum256([]byte(pageURL))
		return hex.EncodeToString(sum[:])[:16]
	}
	return s
}

// URLFingerprint identifies a target by its normalized URL alone. It is
// the pre-fetch skip key.
func URLFingerprint(normalizedURL string) string {
	sum := sha256.Sum256([]byte("u:" + normalizedURL))
	return "u:" + hex.EncodeToString(sum[:])
}

// ContentFingerprint identifies a target's content as last captured. It
// distinguishes URL-stable-but-changed content when update recapture is
// enabled.
func ContentFingerprint(normalizedURL, contentHash string) string {
	sum := sha256.Sum256([]byte("c:" + normalizedURL + "\n" + contentHash))
	return "c:" + hex.EncodeToString(sum[:])
}

// Validate rejects malformed extraction output at the boundary so
// untyped data never propagates into records.
func (e Extraction) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("extraction missing title")
	}
	if e.PublishedAt != "" && !isoDate.MatchString(e.PublishedAt) {
		return fmt.Errorf("extraction date %q is not YYYY-MM-DD", e.PublishedAt)
	}
	for _, img := range e.Images {
		if !strings.HasPrefix(img.URL, "http://") && !strings.HasPrefix(img.URL, "https://") {
			return fmt.Errorf("extraction image url %q is not absolute", img.URL)
		}
	}
	return nil
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
