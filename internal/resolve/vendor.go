// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package resolve

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	vendorAPIBase    = "https://api.macvendors.com"
	vendorAPITimeout = 5 * time.Second
)

// VendorLookup maps MAC address prefixes to vendor names from a local
// OUI file, with an optional web fallback for unknown prefixes.
type VendorLookup struct {
	mu       sync.RWMutex
	prefixes map[string]string // 6 hex digits, lowercase

	client      *http.Client
	baseURL     string
	webFallback bool
}

// NewVendorLookup loads the OUI file at path. Accepted line formats are
// "AABBCC<sep>Vendor" with the prefix as plain hex or separated by ':'
// or '-'; blank lines and # comments are skipped. A missing file leaves
// an empty table.
func NewVendorLookup(path string, webFallback bool) (*VendorLookup, error) {
	v := &VendorLookup{
		prefixes:    make(map[string]string),
		client:      &http.Client{Timeout: vendorAPITimeout},
		baseURL:     vendorAPIBase,
		webFallback: webFallback,
	}
	if path == "" {
		return v, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return v, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prefix, vendor, ok := splitOUILine(line)
		if !ok {
			continue
		}
		v.prefixes[prefix] = vendor
	}
	return v, scanner.Err()
}

func splitOUILine(line string) (prefix, vendor string, ok bool) {
	sep := strings.IndexAny(line, " \t,")
	if sep < 0 {
		return "", "", false
	}
	prefix = normalizeMAC(line[:sep])
	vendor = strings.TrimSpace(line[sep+1:])
	if len(prefix) < 6 || vendor == "" {
		return "", "", false
	}
	return prefix[:6], vendor, true
}

func normalizeMAC(mac string) string {
	mac = strings.ToLower(mac)
	mac = strings.ReplaceAll(mac, ":", "")
	mac = strings.ReplaceAll(mac, "-", "")
	return strings.ReplaceAll(mac, ".", "")
}

// Vendor returns the vendor name for a MAC address, or "" when unknown.
func (v *VendorLookup) Vendor(ctx context.Context, mac string) string {
	normalized := normalizeMAC(mac)
	if len(normalized) < 6 {
		return ""
	}

	v.mu.RLock()
	vendor, ok := v.prefixes[normalized[:6]]
	v.mu.RUnlock()
	if ok {
		return vendor
	}

	if !v.webFallback {
		return ""
	}
	vendor, err := v.webLookup(ctx, mac)
	if err != nil || vendor == "" {
		return ""
	}
	v.mu.Lock()
	v.prefixes[normalized[:6]] = vendor
	v.mu.Unlock()
	return vendor
}

func (v *VendorLookup) webLookup(ctx context.Context, mac string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", v.baseURL, mac), nil)
	if err != nil {
		return "", err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vendor lookup returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// Len reports the number of loaded prefixes.
func (v *VendorLookup) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.prefixes)
}
