package prober

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/mkaratzis/lbcore/internal/server"
)

// ProbeFunc reports whether the server at address answered a reachability
// probe within the timeout. Custom implementations may probe over any
// protocol; the engine never bypasses this indirection.
type ProbeFunc func(address string, timeout time.Duration) bool

const (
	DefaultTimeout          = 1 * time.Second
	DefaultInterval         = 5 * time.Second
	DefaultThreadPoolSize   = 4
	DefaultFailureThreshold = 3

	defaultProbePort = 80
)

// PingServer probes server reachability. It owns the DNS cache, the probe
// timeout and the worker pool that fans batches out across goroutines. One
// PingServer may serve both a pool's health-check loop and a background
// ping loop.
type PingServer struct {
	timeout   atomic.Int64
	interval  atomic.Int64
	poolSize  atomic.Int64
	threshold atomic.Uint32

	dns *dnsCache

	probeMu sync.RWMutex
	probe   ProbeFunc

	limiterMu sync.Mutex
	limiter   *rate.Limiter

	bgMu    sync.Mutex
	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPingServer creates a prober with the given probe timeout and
// background-ping interval. Non-positive values fall back to the defaults.
func NewPingServer(timeout, interval time.Duration) *PingServer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	p := &PingServer{dns: newDNSCache(DefaultDNSCacheTTL)}
	p.timeout.Store(int64(timeout))
	p.interval.Store(int64(interval))
	p.poolSize.Store(DefaultThreadPoolSize)
	p.threshold.Store(DefaultFailureThreshold)
	p.probe = p.defaultProbe

	return p
}

// Timeout returns the per-probe timeout.
func (p *PingServer) Timeout() time.Duration {
	return time.Duration(p.timeout.Load())
}

// SetTimeout updates the per-probe timeout. Non-positive values are ignored.
func (p *PingServer) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		p.timeout.Store(int64(timeout))
	}
}

// Interval returns the delay between background ping cycles.
func (p *PingServer) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// SetInterval updates the background ping interval, taking effect on the
// next sleep. Non-positive values are ignored.
func (p *PingServer) SetInterval(interval time.Duration) {
	if interval > 0 {
		p.interval.Store(int64(interval))
	}
}

// ThreadPoolSize returns the maximum number of concurrent probe workers.
func (p *PingServer) ThreadPoolSize() int {
	return int(p.poolSize.Load())
}

// SetThreadPoolSize updates the worker bound, coerced to at least 1.
func (p *PingServer) SetThreadPoolSize(size int) {
	if size < 1 {
		size = 1
	}
	p.poolSize.Store(int64(size))
}

// FailureThreshold returns the consecutive-failure count at which a server
// is marked dead.
func (p *PingServer) FailureThreshold() uint32 {
	return p.threshold.Load()
}

// SetFailureThreshold updates the ejection threshold, coerced to at least 1.
func (p *PingServer) SetFailureThreshold(threshold uint32) {
	if threshold < 1 {
		threshold = 1
	}
	p.threshold.Store(threshold)
}

// DNSCacheTTL returns how long resolved addresses stay cached.
func (p *PingServer) DNSCacheTTL() time.Duration {
	return p.dns.getTTL()
}

// SetDNSCacheTTL updates the cache TTL for entries stored from now on.
func (p *PingServer) SetDNSCacheTTL(ttl time.Duration) {
	p.dns.setTTL(ttl)
}

// ClearDNSCache drops every cached resolution, forcing fresh lookups.
func (p *PingServer) ClearDNSCache() {
	p.dns.clear()
}

// SetProbe substitutes a custom probe implementation. A nil function is
// ignored.
func (p *PingServer) SetProbe(fn ProbeFunc) {
	if fn == nil {
		return
	}
	p.probeMu.Lock()
	p.probe = fn
	p.probeMu.Unlock()
}

// ResetProbe restores the default TCP connect probe.
func (p *PingServer) ResetProbe() {
	p.probeMu.Lock()
	p.probe = p.defaultProbe
	p.probeMu.Unlock()
}

// SetRateLimit throttles probe launches to perSecond with the given burst.
// A non-positive rate removes the limiter, which is the default.
func (p *PingServer) SetRateLimit(perSecond float64, burst int) {
	p.limiterMu.Lock()
	defer p.limiterMu.Unlock()

	if perSecond <= 0 {
		p.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// PingOne probes a single server and folds the outcome into its health
// state. Returns whether the probe succeeded.
func (p *PingServer) PingOne(srv *server.Server) bool {
	if srv == nil {
		return false
	}

	ok := p.probeAddress(srv.Address())
	p.applyResult(srv, ok)
	return ok
}

// PingMany probes every server in the batch exactly once, fanning the work
// across min(ThreadPoolSize, len(servers)) workers that pull from a shared
// index. It blocks until the whole batch is done and reports whether every
// probe succeeded. Each server's health state is updated before it returns.
func (p *PingServer) PingMany(servers []*server.Server) bool {
	if len(servers) == 0 {
		return true
	}

	workers := p.ThreadPoolSize()
	if workers > len(servers) {
		workers = len(servers)
	}

	var next atomic.Int64
	var failed atomic.Bool
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				index := next.Add(1) - 1
				if index >= int64(len(servers)) {
					return
				}

				srv := servers[index]
				p.waitForSlot()

				ok := p.probeAddress(srv.Address())
				p.applyResult(srv, ok)
				if !ok {
					failed.Store(true)
				}
			}
		}()
	}

	wg.Wait()
	return !failed.Load()
}

// StartBackgroundPing probes the given servers every Interval until stopped.
// A loop that is already running is stopped and replaced.
func (p *PingServer) StartBackgroundPing(servers []*server.Server) {
	p.bgMu.Lock()
	defer p.bgMu.Unlock()

	p.stopLocked()

	batch := make([]*server.Server, len(servers))
	copy(batch, servers)

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.running.Store(true)

	go p.backgroundLoop(batch, p.stopCh, p.doneCh)
}

// StopBackgroundPing signals the loop and blocks until it has exited. Safe
// to call when nothing is running; stop latency is bounded by the in-flight
// batch, which is allowed to finish.
func (p *PingServer) StopBackgroundPing() {
	p.bgMu.Lock()
	defer p.bgMu.Unlock()
	p.stopLocked()
}

// IsBackgroundPingRunning reports whether the background loop is active.
func (p *PingServer) IsBackgroundPingRunning() bool {
	return p.running.Load()
}

func (p *PingServer) stopLocked() {
	if !p.running.Load() {
		return
	}
	p.running.Store(false)
	close(p.stopCh)
	<-p.doneCh
	p.stopCh, p.doneCh = nil, nil
}

func (p *PingServer) backgroundLoop(servers []*server.Server, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		p.PingMany(servers)

		select {
		case <-stop:
			return
		case <-time.After(p.Interval()):
		}
	}
}

func (p *PingServer) probeAddress(address string) bool {
	p.probeMu.RLock()
	probe := p.probe
	p.probeMu.RUnlock()

	return probe(address, p.Timeout())
}

// applyResult folds one probe outcome into the server's state. A success
// always revives the server; failures eject it once the threshold is hit.
func (p *PingServer) applyResult(srv *server.Server, ok bool) {
	srv.SetHealthy(ok)
	srv.TouchHealthCheck()

	if ok {
		srv.SetAlive(true)
		return
	}

	if srv.IncrementFailures() >= p.FailureThreshold() {
		srv.SetAlive(false)
	}
}

func (p *PingServer) waitForSlot() {
	p.limiterMu.Lock()
	limiter := p.limiter
	p.limiterMu.Unlock()

	if limiter != nil {
		_ = limiter.Wait(context.Background())
	}
}

// defaultProbe resolves the host and attempts a TCP connection, all bounded
// by the timeout. Parse and resolution failures count as probe failures.
func (p *PingServer) defaultProbe(address string, timeout time.Duration) bool {
	host, port, ok := splitAddress(address)
	if !ok {
		return false
	}

	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	ip, err := p.dns.lookup(ctx, host)
	if err != nil {
		return false
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp4", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()

	return true
}

// splitAddress parses "host[:port]". A missing port defaults to 80; a
// malformed port fails the parse. The cut is at the first colon, so
// bracketed IPv6 literals do not parse; probing is IPv4 only.
func splitAddress(address string) (host string, port int, ok bool) {
	host, portStr, found := strings.Cut(address, ":")
	if !found {
		return host, defaultProbePort, true
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, false
	}

	return host, port, true
}
