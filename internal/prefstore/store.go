package prefstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// document is the on-disk layout: one namespaced key holding the whole
// domain → percent mapping.
type document struct {
	Volumes map[string]int `json:"volumes"`
}

// Store persists the domain → volume percent mapping as a single JSON file.
// Writes go through a temp file + rename so a crash never leaves a torn file.
type Store struct {
	path string

	mu      sync.RWMutex
	volumes map[string]int
}

// Open loads the store from path, creating parent directories as needed.
// A missing file is an empty store, not an error.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prefstore: mkdir %s: %w", filepath.Dir(path), err)
	}

	s := &Store{path: path, volumes: make(map[string]int)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("prefstore: read %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("prefstore: unmarshal %s: %w", path, err)
	}
	if doc.Volumes != nil {
		s.volumes = doc.Volumes
	}
	return s, nil
}

// Get returns the persisted volume for a domain.
func (s *Store) Get(domain string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volumes[domain]
	return v, ok
}

// Set stores a domain volume and flushes the mapping to disk.
func (s *Store) Set(domain string, volume int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes[domain] = volume
	return s.flushLocked()
}

// Delete removes a domain entry and flushes. Deleting an absent domain is a no-op.
func (s *Store) Delete(domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.volumes[domain]; !ok {
		return nil
	}
	delete(s.volumes, domain)
	return s.flushLocked()
}

// All returns a copy of the full mapping.
func (s *Store) All() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.volumes))
	for d, v := range s.volumes {
		out[d] = v
	}
	return out
}

// Domains returns the stored domain names sorted alphabetically.
func (s *Store) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.volumes))
	for d := range s.volumes {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(document{Volumes: s.volumes}, "", "  ")
	if err != nil {
		return fmt.Errorf("prefstore: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("prefstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("prefstore: rename %s: %w", s.path, err)
	}
	return nil
}
