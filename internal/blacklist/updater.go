// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package blacklist

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"grimm.is/netwarden/internal/logging"
	"grimm.is/netwarden/internal/metrics"
)

const (
	fetchTimeout = 60 * time.Second
	maxFeedSize  = 10 * 1024 * 1024
)

// Updater periodically fetches a remote blacklist feed and merges it
// into the on-disk set. Merges only ever grow the set; a failed or empty
// fetch leaves the file untouched.
type Updater struct {
	set      *Set
	feedURL  string
	interval time.Duration
	client   *http.Client
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewUpdater creates an updater for set fed from feedURL.
func NewUpdater(set *Set, feedURL string, interval time.Duration, m *metrics.Metrics) *Updater {
	return &Updater{
		set:      set,
		feedURL:  feedURL,
		interval: interval,
		client:   &http.Client{Timeout: fetchTimeout},
		logger:   logging.WithComponent("blacklist"),
		metrics:  m,
	}
}

// Run updates immediately, then on every interval tick until the context
// is cancelled.
func (u *Updater) Run(ctx context.Context) {
	if err := u.Update(ctx); err != nil {
		u.logger.Warn("blacklist update failed", "url", u.feedURL, "error", err)
	}

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.Update(ctx); err != nil {
				u.logger.Warn("blacklist update failed", "url", u.feedURL, "error", err)
			}
		}
	}
}

// Update fetches the feed once and merges it into the set.
func (u *Updater) Update(ctx context.Context) error {
	domains, err := u.fetch(ctx)
	if err != nil {
		return err
	}
	if len(domains) == 0 {
		u.logger.Info("blacklist feed returned no domains, keeping current set", "url", u.feedURL)
		return nil
	}

	added, err := u.merge(domains)
	if err != nil {
		return err
	}
	u.logger.Info("blacklist updated", "fetched", len(domains), "added", added, "total", u.set.Len())
	if u.metrics != nil {
		u.metrics.BlacklistMerge.Inc()
		u.metrics.BlacklistSize.Set(float64(u.set.Len()))
	}
	return nil
}

// fetch downloads the feed and extracts normalized domains. The feed may
// be JSON (an object with a "domains" or "blacklist" array, or a bare
// array) or CSV with the domain in the first column.
func (u *Updater) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}

	return ParseFeed(data), nil
}

// ParseFeed extracts domains from a feed payload, trying JSON first and
// falling back to CSV. Unparseable payloads yield an empty slice.
func ParseFeed(data []byte) []string {
	if domains, ok := parseJSONFeed(data); ok {
		return domains
	}
	return parseCSVFeed(data)
}

func parseJSONFeed(data []byte) ([]string, bool) {
	var obj struct {
		Domains   []string `json:"domains"`
		Blacklist []string `json:"blacklist"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if len(obj.Domains) > 0 {
			return normalizeAll(obj.Domains), true
		}
		if len(obj.Blacklist) > 0 {
			return normalizeAll(obj.Blacklist), true
		}
		// A valid JSON object without a recognized field is an empty feed.
		return nil, true
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return normalizeAll(list), true
	}
	return nil, false
}

func parseCSVFeed(data []byte) []string {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.FieldsPerRecord = -1
	var out []string
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		if len(record) == 0 {
			continue
		}
		field := strings.TrimSpace(record[0])
		if field == "" || strings.HasPrefix(field, "#") {
			continue
		}
		if d := Normalize(field); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if d := Normalize(raw); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// merge unions domains into the set and rewrites the backing file via a
// temp file and atomic rename. Returns the number of new entries.
func (u *Updater) merge(domains []string) (int, error) {
	existing := u.set.Domains()
	union := make(map[string]bool, len(existing)+len(domains))
	for _, d := range existing {
		union[d] = true
	}
	added := 0
	for _, d := range domains {
		if !union[d] {
			union[d] = true
			added++
		}
	}

	merged := make([]string, 0, len(union))
	for d := range union {
		merged = append(merged, d)
	}

	if err := writeAtomic(u.set.Path(), merged); err != nil {
		return 0, err
	}
	if err := u.set.Reload(); err != nil {
		return 0, err
	}
	return added, nil
}

func writeAtomic(path string, domains []string) error {
	tempFile := path + ".tmp"

	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	sort.Strings(domains)
	for _, d := range domains {
		if _, err := fmt.Fprintln(f, d); err != nil {
			f.Close()
			os.Remove(tempFile)
			return fmt.Errorf("failed to write temp file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to flush temp file: %w", err)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to replace blacklist file: %w", err)
	}
	return nil
}
