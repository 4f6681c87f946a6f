// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package resolve provides the enrichment lookups used by the dynamic
// scan: GeoIP country resolution, cached reverse DNS and OUI vendor
// lookup.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/oschwald/geoip2-golang"

	"grimm.is/netwarden/internal/analyze"
	"grimm.is/netwarden/internal/logging"
)

const geoHTTPTimeout = 5 * time.Second

// CountryLookup resolves IPs to countries, preferring a local MaxMind
// database and falling back to the ipapi.co web service.
type CountryLookup struct {
	db      *geoip2.Reader
	client  *http.Client
	baseURL string
	logger  *logging.Logger
}

// NewCountryLookup opens the MaxMind database at dbPath. An empty or
// missing path yields a lookup that only uses the web fallback.
func NewCountryLookup(dbPath string) (*CountryLookup, error) {
	c := &CountryLookup{
		client:  &http.Client{Timeout: geoHTTPTimeout},
		baseURL: "https://ipapi.co",
		logger:  logging.WithComponent("geoip"),
	}
	if dbPath != "" {
		db, err := geoip2.Open(dbPath)
		if err != nil {
			c.logger.Warn("geoip database unavailable, using web fallback only", "path", dbPath, "error", err)
		} else {
			c.db = db
		}
	}
	return c, nil
}

// Close releases the MaxMind reader.
func (c *CountryLookup) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Country resolves the country for ip. Private and loopback addresses
// resolve to nothing without error.
func (c *CountryLookup) Country(ctx context.Context, ip string) (*analyze.Country, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid IP address %q", ip)
	}
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() || parsed.IsUnspecified() {
		return nil, nil
	}

	if c.db != nil {
		rec, err := c.db.Country(parsed)
		if err == nil && rec.Country.IsoCode != "" {
			return &analyze.Country{
				Code: rec.Country.IsoCode,
				Name: rec.Country.Names["en"],
			}, nil
		}
		if err != nil {
			c.logger.Debug("local geoip lookup failed", "ip", ip, "error", err)
		}
	}

	return c.webLookup(ctx, ip)
}

func (c *CountryLookup) webLookup(ctx context.Context, ip string) (*analyze.Country, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/json/", c.baseURL, ip), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geoip web lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geoip web lookup returned status %d", resp.StatusCode)
	}

	var body struct {
		Country     string `json:"country"`
		CountryName string `json:"country_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("geoip web lookup returned malformed body: %w", err)
	}
	if body.Country == "" {
		return nil, nil
	}
	return &analyze.Country{Code: body.Country, Name: body.CountryName}, nil
}
