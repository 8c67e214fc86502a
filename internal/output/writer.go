// Package output commits records and their images to durable storage.
//
// The commit protocol stages everything under a temporary directory,
// renames it into the final path, and only then records fingerprints. A
// crash at any point leaves either nothing or an orphaned staging
// directory for the startup sweep; it can never leave a fingerprint
// without its durable record.
//
// Image payloads additionally land in a shared asset pool and are
// hardlinked into each record directory. Replacing a record on
// re-capture, or referencing an image first captured under another
// record, therefore never loses a file whose fingerprint is recorded.
package output

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plateful/reviewcrawler/internal/capture"
	"github.com/plateful/reviewcrawler/internal/metrics"
)

const (
	stagingDirName = ".staging"
	assetsDirName  = ".assets"
)

// Writer persists records under root, one directory per record.
type Writer struct {
	root   string
	store  capture.FingerprintStore
	logger *zap.Logger
}

// New prepares the output root, its staging area, and the asset pool.
func New(root string, store capture.FingerprintStore, logger *zap.Logger) (*Writer, error) {
	if strings.TrimSpace(root) == "" {
		return nil, capture.ConfigError(fmt.Errorf("output root is required"))
	}
	for _, dir := range []string{stagingDirName, assetsDirName} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o750); err != nil {
			return nil, capture.ConfigError(fmt.Errorf("create output root %s: %w", root, err))
		}
	}
	return &Writer{root: root, store: store, logger: logger}, nil
}

// SweepStaging removes staging directories orphaned by a crashed run.
// Called once at startup, before any dispatch.
func (w *Writer) SweepStaging() error {
	staging := filepath.Join(w.root, stagingDirName)
	entries, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("read staging dir: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(staging, e.Name())
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove orphan %s: %w", path, err)
		}
		w.logger.Info("removed orphaned staging dir", zap.String("path", path))
	}
	return nil
}

// ImagePath returns the record-relative path an image target is stored
// at. It is deterministic so records can reference images captured on
// earlier runs without refetching them. The URL hash suffix keeps images
// with identical basenames apart.
func ImagePath(imageURL string) string {
	sum := sha256.Sum256([]byte(imageURL))
	name := capture.Slug(imageURL)
	if len(name) > 40 {
		name = name[:40]
	}
	return filepath.Join("images", fmt.Sprintf("%s_%s%s", name, hex.EncodeToString(sum[:])[:8], extForURL(imageURL)))
}

func extForURL(imageURL string) string {
	lower := strings.ToLower(imageURL)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp", ".gif"} {
		if strings.Contains(lower, ext) {
			return ext
		}
	}
	return ".img"
}

// Commit writes rec and its validated images, makes them visible
// atomically, then records fingerprints. Failures before the rename
// leave no trace beyond staging; failures after it leave a committed
// record with incomplete fingerprints, which re-records (idempotently)
// on the next capture.
func (w *Writer) Commit(ctx context.Context, rec capture.Record, images []capture.ValidatedImage) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit canceled: %w", err)
	}
	if rec.Slug == "" {
		return fmt.Errorf("record %s has no slug", rec.URL)
	}

	staged := filepath.Join(w.root, stagingDirName, uuid.NewString())
	if err := w.stage(staged, &rec, images); err != nil {
		_ = os.RemoveAll(staged)
		metrics.WriteErrors.Inc()
		return err
	}

	final := filepath.Join(w.root, rec.Slug)
	if err := w.swapIntoPlace(staged, final); err != nil {
		_ = os.RemoveAll(staged)
		metrics.WriteErrors.Inc()
		return err
	}

	// Fingerprints only after the record is durably visible.
	if err := w.recordFingerprints(rec, images); err != nil {
		metrics.WriteErrors.Inc()
		return err
	}

	metrics.RecordsCommitted.Inc()
	w.logger.Info("record committed",
		zap.String("slug", rec.Slug),
		zap.String("url", rec.URL),
		zap.Int("images", len(images)),
	)
	return nil
}

func (w *Writer) stage(staged string, rec *capture.Record, images []capture.ValidatedImage) error {
	imagesDir := filepath.Join(staged, "images")
	if err := os.MkdirAll(imagesDir, 0o750); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	fetched := make(map[string]struct{}, len(images))
	for _, img := range images {
		// The path must stay deterministic per URL so later runs can
		// reference this image without refetching it.
		rel := ImagePath(img.Target.URL)
		pool, err := w.poolImage(staged, rel, img.Payload)
		if err != nil {
			return fmt.Errorf("write image %s: %w", img.Target.URL, err)
		}
		if err := linkOrCopy(pool, filepath.Join(staged, rel)); err != nil {
			return fmt.Errorf("place image %s: %w", img.Target.URL, err)
		}
		setAssetPath(rec, img.Target.URL, rel)
		fetched[img.Target.URL] = struct{}{}
	}

	// Assets stored by an earlier capture are carried forward from the
	// pool. Replacing a record directory must not lose them, and a record
	// referencing an image first captured elsewhere still resolves it.
	for _, asset := range rec.Images {
		if !asset.Stored || asset.Path == "" {
			continue
		}
		if _, ok := fetched[asset.URL]; ok {
			continue
		}
		if err := linkOrCopy(w.poolPath(asset.Path), filepath.Join(staged, asset.Path)); err != nil {
			return fmt.Errorf("carry forward image %s: %w", asset.URL, err)
		}
	}

	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := writeFileSync(filepath.Join(staged, "record.json"), payload); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// poolImage makes payload durable in the shared asset pool. The payload
// is written to a staging temp file and renamed in, so a record holding
// a hardlink to a previous version keeps its bytes.
func (w *Writer) poolImage(staged, rel string, payload []byte) (string, error) {
	tmp := filepath.Join(staged, filepath.Base(rel)+".tmp")
	if err := writeFileSync(tmp, payload); err != nil {
		return "", err
	}
	pool := w.poolPath(rel)
	if err := os.Rename(tmp, pool); err != nil {
		return "", fmt.Errorf("pool image: %w", err)
	}
	return pool, nil
}

func (w *Writer) poolPath(rel string) string {
	return filepath.Join(w.root, assetsDirName, filepath.Base(rel))
}

// linkOrCopy hardlinks src into dst, copying when the filesystem refuses
// links.
func linkOrCopy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", dst, err)
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read pooled asset: %w", err)
	}
	return writeFileSync(dst, data)
}

// swapIntoPlace renames staged onto final. A re-captured record moves the
// old directory aside first, so visibility stays atomic either way. The
// staged directory already carries every referenced asset, so dropping
// the previous version loses nothing.
func (w *Writer) swapIntoPlace(staged, final string) error {
	if _, err := os.Stat(final); err == nil {
		old := filepath.Join(w.root, stagingDirName, "old-"+uuid.NewString())
		if err := os.Rename(final, old); err != nil {
			return fmt.Errorf("move aside previous record: %w", err)
		}
		if err := os.Rename(staged, final); err != nil {
			// Put the previous version back; the record stays intact.
			_ = os.Rename(old, final)
			return fmt.Errorf("rename record into place: %w", err)
		}
		_ = os.RemoveAll(old)
		return nil
	}
	if err := os.Rename(staged, final); err != nil {
		return fmt.Errorf("rename record into place: %w", err)
	}
	return nil
}

func (w *Writer) recordFingerprints(rec capture.Record, images []capture.ValidatedImage) error {
	fps := []string{
		capture.URLFingerprint(rec.URL),
		capture.ContentFingerprint(rec.URL, rec.ContentHash),
	}
	for _, img := range images {
		fps = append(fps, capture.URLFingerprint(img.Target.URL))
	}
	for _, fp := range fps {
		if err := w.store.Record(fp); err != nil {
			return fmt.Errorf("record fingerprint for %s: %w", rec.URL, err)
		}
	}
	return nil
}

func setAssetPath(rec *capture.Record, imageURL, rel string) {
	for i := range rec.Images {
		if rec.Images[i].URL == imageURL {
			rec.Images[i].Path = rel
			rec.Images[i].Stored = true
			return
		}
	}
}

func writeFileSync(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
