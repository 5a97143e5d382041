package prober

import (
	"context"
	"net"
	"sync"
	"time"
)

// DefaultDNSCacheTTL is how long a resolved address stays fresh.
const DefaultDNSCacheTTL = 300 * time.Second

type dnsEntry struct {
	ip     string
	expiry time.Time
}

// resolveFunc resolves a hostname to an IPv4 literal.
type resolveFunc func(ctx context.Context, host string) (string, error)

// dnsCache maps hostnames to resolved IPv4 literals. Expired entries are
// replaced opportunistically on the next lookup; nothing evicts them
// proactively short of an explicit clear.
type dnsCache struct {
	mu      sync.Mutex
	entries map[string]dnsEntry
	ttl     time.Duration
	resolve resolveFunc
}

func newDNSCache(ttl time.Duration) *dnsCache {
	if ttl <= 0 {
		ttl = DefaultDNSCacheTTL
	}
	return &dnsCache{
		entries: make(map[string]dnsEntry),
		ttl:     ttl,
		resolve: resolveIPv4,
	}
}

// lookup returns the IPv4 literal for host, consulting the cache first.
// IPv4 literals pass through without touching the resolver. ctx bounds the
// resolution when the cache misses.
func (c *dnsCache) lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		return host, nil
	}

	c.mu.Lock()
	entry, ok := c.entries[host]
	ttl := c.ttl
	c.mu.Unlock()

	if ok && entry.expiry.After(time.Now()) {
		return entry.ip, nil
	}

	ip, err := c.resolve(ctx, host)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[host] = dnsEntry{ip: ip, expiry: time.Now().Add(ttl)}
	c.mu.Unlock()

	return ip, nil
}

func (c *dnsCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]dnsEntry)
	c.mu.Unlock()
}

func (c *dnsCache) setTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultDNSCacheTTL
	}
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

func (c *dnsCache) getTTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl
}

func resolveIPv4(ctx context.Context, host string) (string, error) {
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", &net.DNSError{Err: "no IPv4 addresses", Name: host}
	}
	return addrs[0].String(), nil
}
