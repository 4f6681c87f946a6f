// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package resolve

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"grimm.is/netwarden/internal/logging"
)

const (
	// DefaultCacheSize bounds the positive reverse-DNS cache.
	DefaultCacheSize = 256
	// DefaultCacheTTL is how long a cached hostname stays valid.
	DefaultCacheTTL = 10 * time.Minute

	defaultResolvConf = "/etc/resolv.conf"
	fallbackServer    = "1.1.1.1:53"
	queryTimeout      = 5 * time.Second
)

// ReverseDNS resolves IPs to hostnames via PTR queries, with an LRU
// cache of positive answers. Failed lookups are not cached so transient
// resolver trouble heals itself.
type ReverseDNS struct {
	client  *dns.Client
	servers []string
	cache   *lruCache
	logger  *logging.Logger
}

// NewReverseDNS creates a resolver against the given servers
// (host:port). With no servers it reads the system resolver config,
// falling back to a public resolver.
func NewReverseDNS(servers []string, cacheSize int, cacheTTL time.Duration) *ReverseDNS {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	if len(servers) == 0 {
		servers = systemResolvers()
	}
	return &ReverseDNS{
		client:  &dns.Client{Timeout: queryTimeout},
		servers: servers,
		cache:   newLRUCache(cacheSize, cacheTTL),
		logger:  logging.WithComponent("rdns"),
	}
}

func systemResolvers() []string {
	conf, err := dns.ClientConfigFromFile(defaultResolvConf)
	if err != nil || len(conf.Servers) == 0 {
		return []string{fallbackServer}
	}
	servers := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		servers = append(servers, net.JoinHostPort(s, conf.Port))
	}
	return servers
}

// Reverse returns the PTR hostname for ip, lowercased with the trailing
// dot stripped.
func (r *ReverseDNS) Reverse(ctx context.Context, ip string) (string, error) {
	if host, ok := r.cache.get(ip); ok {
		return host, nil
	}

	ptrZone, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("invalid IP address %q: %w", ip, err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(ptrZone, dns.TypePTR)

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		for _, rr := range resp.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				host := normalizeHost(ptr.Ptr)
				if host == "" {
					continue
				}
				r.cache.put(ip, host)
				return host, nil
			}
		}
		return "", fmt.Errorf("no PTR record for %s", ip)
	}
	if lastErr != nil {
		return "", fmt.Errorf("reverse lookup failed for %s: %w", ip, lastErr)
	}
	return "", fmt.Errorf("no PTR record for %s", ip)
}

// CacheLen reports the number of cached hostnames.
func (r *ReverseDNS) CacheLen() int { return r.cache.len() }

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
}
