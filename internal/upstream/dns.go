// Package upstream implements the client that talks to the vendor's binary
// event-stream API: endpoint selection and failover, auth-header
// construction, retry policy, and decoding of the framed event stream into
// canonical events (spec.md §4.3).
package upstream

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/vendorgate/gateway/internal/config"
)

// DNSCache resolves hostnames with a fresh/stale TTL split: a fresh entry is
// returned without a lookup; a stale one is still returned if a fresh
// lookup fails (spec.md: "cached DNS, TTL 5 min fresh / 30 min
// stale-on-failure").
type DNSCache struct {
	mu       sync.Mutex
	entries  map[string]*dnsEntry
	resolver *net.Resolver
	freshTTL time.Duration
	staleTTL time.Duration
}

type dnsEntry struct {
	addrs     []string
	resolved  time.Time
}

// NewDNSCache creates a cache with the spec-mandated TTLs.
func NewDNSCache() *DNSCache {
	return &DNSCache{
		entries:  make(map[string]*dnsEntry),
		resolver: net.DefaultResolver,
		freshTTL: config.DefaultDNSFreshTTL,
		staleTTL: config.DefaultDNSStaleTTL,
	}
}

// Resolve returns addresses for host, using the cache when fresh and
// falling back to a stale cached entry if a fresh lookup errors.
func (d *DNSCache) Resolve(ctx context.Context, host string) ([]string, error) {
	now := time.Now()

	d.mu.Lock()
	entry, ok := d.entries[host]
	d.mu.Unlock()

	if ok && now.Sub(entry.resolved) < d.freshTTL {
		return entry.addrs, nil
	}

	addrs, err := d.resolver.LookupHost(ctx, host)
	if err != nil {
		if ok && now.Sub(entry.resolved) < d.staleTTL {
			return entry.addrs, nil
		}
		return nil, err
	}

	d.mu.Lock()
	d.entries[host] = &dnsEntry{addrs: addrs, resolved: now}
	d.mu.Unlock()

	return addrs, nil
}
