// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package blacklist maintains the domain blacklists used by the dynamic
// scan: a line-oriented on-disk set with membership checks, and an
// updater that merges remote feed snapshots into the file.
package blacklist

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"sync"
)

// Set is an in-memory domain set backed by a line-oriented file. Lookups
// normalize the same way loading does, so membership is insensitive to
// case and a trailing dot.
type Set struct {
	path string

	mu      sync.RWMutex
	domains map[string]bool
}

// NewSet creates a set backed by path and loads it. A missing file is an
// empty set, not an error.
func NewSet(path string) (*Set, error) {
	s := &Set{path: path, domains: make(map[string]bool)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Normalize canonicalizes a domain for storage and lookup.
func Normalize(domain string) string {
	domain = strings.TrimSpace(domain)
	domain = strings.TrimSuffix(domain, ".")
	return strings.ToLower(domain)
}

// Reload re-reads the backing file, replacing the in-memory set.
func (s *Set) Reload() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.domains = make(map[string]bool)
			s.mu.Unlock()
			return nil
		}
		return err
	}
	defer f.Close()

	domains := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if d := Normalize(line); d != "" {
			domains[d] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.domains = domains
	s.mu.Unlock()
	return nil
}

// Contains reports membership for a domain.
func (s *Set) Contains(domain string) bool {
	d := Normalize(domain)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.domains[d]
}

// Len returns the number of domains in the set.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.domains)
}

// Domains returns the sorted contents of the set.
func (s *Set) Domains() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.domains))
	for d := range s.domains {
		out = append(out, d)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Path returns the backing file path.
func (s *Set) Path() string { return s.path }
