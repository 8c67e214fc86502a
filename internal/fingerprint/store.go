// Package fingerprint persists the set of fingerprints already captured.
// The backing format is a line-oriented append log: one fingerprint per
// line, loaded fully into memory at open.
package fingerprint

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/plateful/reviewcrawler/internal/capture"
)

// Store is an append-friendly persisted fingerprint set. Lookups and
// inserts are O(1); Record appends a line and syncs before returning.
type Store struct {
	mu   sync.Mutex
	path string
	file *os.File
	seen map[string]struct{}
}

// Open loads the fingerprint set at path. A missing file starts empty; an
// unreadable or undecodable file is a configuration error so a run never
// silently treats everything as new. With rebuild set, existing state is
// discarded and the store starts empty.
func Open(path string, rebuild bool) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, capture.ConfigError(errors.New("fingerprint store path is empty"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, capture.ConfigError(fmt.Errorf("create fingerprint dir: %w", err))
	}

	seen := make(map[string]struct{})
	if !rebuild {
		loaded, err := loadExisting(path)
		if err != nil {
			return nil, capture.ConfigError(err)
		}
		seen = loaded
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if rebuild {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, capture.ConfigError(fmt.Errorf("open fingerprint store %s: %w", path, err))
	}

	return &Store{path: path, file: f, seen: seen}, nil
}

func loadExisting(path string) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return seen, nil
		}
		return nil, fmt.Errorf("read fingerprint store %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		seen[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan fingerprint store %s: %w", path, err)
	}
	return seen, nil
}

// Contains reports whether fp has been recorded.
func (s *Store) Contains(fp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[fp]
	return ok
}

// Record appends fp to the log. Recording a known fingerprint is a no-op.
func (s *Store) Record(fp string) error {
	fp = strings.TrimSpace(fp)
	if fp == "" {
		return fmt.Errorf("empty fingerprint")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[fp]; ok {
		return nil
	}
	if _, err := s.file.WriteString(fp + "\n"); err != nil {
		return fmt.Errorf("append fingerprint: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync fingerprint store: %w", err)
	}
	s.seen[fp] = struct{}{}
	return nil
}

// Len returns the number of recorded fingerprints.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Close releases the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close fingerprint store: %w", err)
	}
	return nil
}
