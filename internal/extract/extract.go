// Package extract turns rendered review pages into record fields,
// embedded image references, and discovered review links. Selector logic
// for the review site lives here, behind capture.Extractor.
package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/plateful/reviewcrawler/internal/capture"
)

// Config controls link discovery and image filtering.
type Config struct {
	// LinkPattern marks page links worth crawling (review detail pages).
	LinkPattern string
}

// Extractor implements capture.Extractor with goquery.
type Extractor struct {
	cfg Config
}

// New builds an Extractor.
func New(cfg Config) *Extractor {
	if cfg.LinkPattern == "" {
		cfg.LinkPattern = "/reviews/"
	}
	return &Extractor{cfg: cfg}
}

// Author headshots are recognizable by their CDN transform parameters:
// square face-cropped thumbnails served from the editorial images path.
var headshotPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/images/editorial_team_headshots_`),
	regexp.MustCompile(`/c_thumb,`),
	regexp.MustCompile(`\bar_1:1\b`),
	regexp.MustCompile(`\bg_face\b`),
}

// Images inside suggested-reading and featured-in blocks belong to other
// pages and are skipped by ancestor class.
var skipAncestorClassSubstrings = []string{
	"styles_story__",
	"styles_featuredincontainer__",
}

var (
	imageExt      = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|webp)(\?|$)`)
	cloudinaryW   = regexp.MustCompile(`w_\d+`)
	reviewSegment = regexp.MustCompile(`/([^/]+)/reviews/`)
)

// Extract parses html fetched from pageURL.
func (e *Extractor) Extract(pageURL string, html []byte) (capture.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return capture.Extraction{}, fmt.Errorf("parse html: %w", err)
	}

	// Schema validation happens at the coordinator boundary; enumeration
	// pages only need the links.
	return capture.Extraction{
		Title:       extractTitle(doc),
		PublishedAt: extractDate(doc),
		City:        cityFromURL(pageURL),
		Images:      e.extractImages(pageURL, doc),
		Links:       e.extractLinks(pageURL, doc),
	}, nil
}

func extractTitle(doc *goquery.Document) string {
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

func parseDate(text string) string {
	text = strings.TrimSpace(strings.Join(strings.Fields(text), " "))
	if text == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

func extractDate(doc *goquery.Document) string {
	if t := doc.Find("time").First(); t.Length() > 0 {
		if dt, ok := t.Attr("datetime"); ok {
			if d := parseDate(dt); d != "" {
				return d
			}
		}
		if d := parseDate(t.Text()); d != "" {
			return d
		}
	}
	for _, key := range []string{"article:published_time", "og:updated_time", "article:modified_time"} {
		sel := fmt.Sprintf(`meta[property=%q]`, key)
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if d := parseDate(content); d != "" {
				return d
			}
		}
	}
	return ""
}

func cityFromURL(pageURL string) string {
	m := reviewSegment.FindStringSubmatch(pageURL)
	if len(m) == 2 {
		return m[1]
	}
	return ""
}

func isAuthorHeadshot(rawURL, alt string) bool {
	u := strings.ToLower(rawURL)
	if strings.Contains(u, "editorial_team_headshots_") {
		return true
	}
	hits := 0
	for _, pat := range headshotPatterns {
		if pat.MatchString(u) {
			hits++
		}
	}
	if hits >= 3 {
		return true
	}
	// A name-like alt plus thumbnail transforms is enough.
	if hits >= 2 {
		words := strings.Fields(strings.ToLower(strings.TrimSpace(alt)))
		if len(words) == 2 || len(words) == 3 {
			nameLike := true
			for _, w := range words {
				for _, r := range w {
					if r < 'a' || r > 'z' {
						nameLike = false
					}
				}
			}
			if nameLike {
				return true
			}
		}
	}
	return false
}

func hasSkippedAncestor(sel *goquery.Selection) bool {
	skipped := false
	sel.Parents().EachWithBreak(func(_ int, p *goquery.Selection) bool {
		class, ok := p.Attr("class")
		if !ok {
			return true
		}
		class = strings.ToLower(class)
		for _, sub := range skipAncestorClassSubstrings {
			if strings.Contains(class, sub) {
				skipped = true
				return false
			}
		}
		return true
	})
	return skipped
}

func classifySource(rawURL string) (capture.ImageSource, bool) {
	u := strings.ToLower(rawURL)
	switch {
	case strings.Contains(u, "res.cloudinary.com/the-infatuation"):
		return capture.SourceCloudinary, true
	case strings.Contains(u, "cdninstagram") || strings.Contains(u, "instagram") || strings.Contains(u, "fbcdn.net"):
		return capture.SourceInstagram, true
	case imageExt.MatchString(rawURL):
		return capture.SourceOther, true
	default:
		return capture.SourceOther, false
	}
}

// upgradeCloudinary swaps the width transform for the largest rendition.
func upgradeCloudinary(rawURL string) string {
	return cloudinaryW.ReplaceAllString(rawURL, "w_3840")
}

func (e *Extractor) extractImages(pageURL string, doc *goquery.Document) []capture.ImageRef {
	var refs []capture.ImageRef
	seen := make(map[string]struct{})

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		if hasSkippedAncestor(img) {
			return
		}
		src, _ := img.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}
		resolved, err := capture.ResolveURL(pageURL, src)
		if err != nil {
			return
		}
		alt := strings.TrimSpace(img.AttrOr("alt", ""))
		if isAuthorHeadshot(resolved, alt) {
			return
		}
		source, ok := classifySource(resolved)
		if !ok {
			return
		}
		if source == capture.SourceCloudinary {
			resolved = upgradeCloudinary(resolved)
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		refs = append(refs, capture.ImageRef{URL: resolved, Alt: alt, Source: source})
	})

	return refs
}

func (e *Extractor) extractLinks(pageURL string, doc *goquery.Document) []string {
	var links []string
	seen := make(map[string]struct{})
	baseOrigin := capture.Origin(pageURL)

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || !strings.Contains(href, e.cfg.LinkPattern) {
			return
		}
		resolved, err := capture.ResolveURL(pageURL, href)
		if err != nil {
			return
		}
		if capture.Origin(resolved) != baseOrigin {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})

	return links
}
