package pool

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkaratzis/lbcore/internal/prober"
	"github.com/mkaratzis/lbcore/internal/server"
	"github.com/mkaratzis/lbcore/internal/strategy"
)

const (
	DefaultHealthCheckInterval = 5 * time.Second
	DefaultMaxFailures         = 3
)

var (
	// ErrNoServers rejects construction with an empty initial server set.
	ErrNoServers = errors.New("pool: initial server set is empty")
	// ErrDuplicateAddress rejects construction when two servers share an address.
	ErrDuplicateAddress = errors.New("pool: duplicate server address")
	// ErrNilStrategy rejects construction without a selection strategy.
	ErrNilStrategy = errors.New("pool: strategy is nil")
)

// Pool is the load balancer core: a set of servers, a strategy deciding who
// gets the next unit of work, and a health-check loop keeping the servers'
// health state current.
type Pool struct {
	mu      sync.RWMutex
	servers []*server.Server

	strategyMu sync.RWMutex
	strategy   strategy.Strategy

	interval    atomic.Int64
	maxFailures atomic.Uint32

	pinger *prober.PingServer
	logger *slog.Logger

	hcMu      sync.Mutex
	hcRunning atomic.Bool
	hcStop    chan struct{}
	hcDone    chan struct{}
}

// New creates a pool over the given servers. The server set must be
// non-empty and unique by address. Non-positive interval and zero
// maxFailures fall back to the defaults.
func New(servers []*server.Server, strat strategy.Strategy, healthCheckInterval time.Duration, maxFailures uint32, logger *slog.Logger) (*Pool, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	if strat == nil {
		return nil, ErrNilStrategy
	}

	seen := make(map[string]struct{}, len(servers))
	for _, srv := range servers {
		if _, dup := seen[srv.Address()]; dup {
			return nil, ErrDuplicateAddress
		}
		seen[srv.Address()] = struct{}{}
	}

	if healthCheckInterval <= 0 {
		healthCheckInterval = DefaultHealthCheckInterval
	}
	if maxFailures == 0 {
		maxFailures = DefaultMaxFailures
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		servers:  append([]*server.Server(nil), servers...),
		strategy: strat,
		pinger:   prober.NewPingServer(0, 0),
		logger:   logger,
	}
	p.interval.Store(int64(healthCheckInterval))
	p.maxFailures.Store(maxFailures)
	p.pinger.SetFailureThreshold(maxFailures)

	return p, nil
}

// SelectNext picks the server that should receive the next unit of work.
// The second return value is false when no server is available; that is an
// answer, not an error. The decision is made over an in-memory snapshot and
// never blocks on I/O.
func (p *Pool) SelectNext() (*server.Server, bool) {
	snapshot := p.Servers()

	p.strategyMu.RLock()
	strat := p.strategy
	p.strategyMu.RUnlock()

	selected := strat.SelectServer(snapshot)
	return selected, selected != nil
}

// AddServer appends a server to the pool. Returns false for nil servers and
// for addresses already present.
func (p *Pool) AddServer(srv *server.Server) bool {
	if srv == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.servers {
		if existing.Address() == srv.Address() {
			return false
		}
	}

	p.servers = append(p.servers, srv)
	return true
}

// RemoveServer drops the server with the given address. Returns false when
// no such server exists.
func (p *Pool) RemoveServer(address string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, srv := range p.servers {
		if srv.Address() == address {
			p.servers = append(p.servers[:i], p.servers[i+1:]...)
			return true
		}
	}

	return false
}

// Servers returns a snapshot copy of the server list in pool order.
func (p *Pool) Servers() []*server.Server {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*server.Server(nil), p.servers...)
}

// ServerCount returns the number of servers in the pool.
func (p *Pool) ServerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.servers)
}

// HealthyServerCount returns how many servers are both alive and healthy.
func (p *Pool) HealthyServerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, srv := range p.servers {
		if srv.IsAlive() && srv.IsHealthy() {
			count++
		}
	}
	return count
}

// AverageLoad returns the mean effective load across alive and healthy
// servers, or 0 when there are none.
func (p *Pool) AverageLoad() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := 0.0
	count := 0
	for _, srv := range p.servers {
		if srv.IsAlive() && srv.IsHealthy() {
			total += srv.EffectiveLoad()
			count++
		}
	}

	if count == 0 {
		return 0.0
	}
	return total / float64(count)
}

// Strategy returns the active selection strategy.
func (p *Pool) Strategy() strategy.Strategy {
	p.strategyMu.RLock()
	defer p.strategyMu.RUnlock()
	return p.strategy
}

// SetStrategy swaps the selection strategy. Nil strategies are ignored.
func (p *Pool) SetStrategy(strat strategy.Strategy) {
	if strat == nil {
		return
	}
	p.strategyMu.Lock()
	p.strategy = strat
	p.strategyMu.Unlock()
}

// HealthCheckInterval returns the delay between health-check cycles.
func (p *Pool) HealthCheckInterval() time.Duration {
	return time.Duration(p.interval.Load())
}

// SetHealthCheckInterval updates the interval. A running loop picks it up
// on its next sleep, not retroactively. Non-positive values are ignored.
func (p *Pool) SetHealthCheckInterval(interval time.Duration) {
	if interval > 0 {
		p.interval.Store(int64(interval))
	}
}

// MaxFailures returns the consecutive-failure count that ejects a server.
func (p *Pool) MaxFailures() uint32 {
	return p.maxFailures.Load()
}

// SetMaxFailures updates the ejection threshold, coerced to at least 1, and
// propagates it to the prober.
func (p *Pool) SetMaxFailures(failures uint32) {
	if failures < 1 {
		failures = 1
	}
	p.maxFailures.Store(failures)
	p.pinger.SetFailureThreshold(failures)
}

// Pinger exposes the prober for timeout, DNS cache and custom-probe
// configuration.
func (p *Pool) Pinger() *prober.PingServer {
	return p.pinger
}

// PerformHealthCheck probes every server in the pool as one batch and
// reports whether all probes succeeded. The server list lock is released
// before any probing starts.
func (p *Pool) PerformHealthCheck() bool {
	return p.pinger.PingMany(p.Servers())
}

// StartHealthChecks launches the periodic health-check loop. Calling it
// while the loop is running is a no-op.
func (p *Pool) StartHealthChecks() {
	p.hcMu.Lock()
	defer p.hcMu.Unlock()

	if !p.hcRunning.CompareAndSwap(false, true) {
		return
	}

	p.hcStop = make(chan struct{})
	p.hcDone = make(chan struct{})
	go p.healthCheckLoop(p.hcStop, p.hcDone)

	p.logger.Info("health checks started",
		slog.Duration("interval", p.HealthCheckInterval()),
		slog.Int("servers", p.ServerCount()))
}

// StopHealthChecks signals the loop and blocks until it has exited. Safe to
// call when not running; latency is bounded by the in-flight batch, which
// is allowed to finish.
func (p *Pool) StopHealthChecks() {
	p.hcMu.Lock()
	defer p.hcMu.Unlock()

	if !p.hcRunning.CompareAndSwap(true, false) {
		return
	}

	close(p.hcStop)
	<-p.hcDone
	p.hcStop, p.hcDone = nil, nil

	p.logger.Info("health checks stopped")
}

// IsHealthCheckRunning reports whether the loop is active.
func (p *Pool) IsHealthCheckRunning() bool {
	return p.hcRunning.Load()
}

// Close stops the health-check loop and any background ping. It always
// completes; teardown failures are not a thing this core can produce.
func (p *Pool) Close() {
	p.StopHealthChecks()
	p.pinger.StopBackgroundPing()
}

func (p *Pool) healthCheckLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		if allUp := p.PerformHealthCheck(); !allUp {
			p.logger.Debug("health check cycle found unreachable servers",
				slog.Int("healthy", p.HealthyServerCount()),
				slog.Int("total", p.ServerCount()))
		}

		select {
		case <-stop:
			return
		case <-time.After(p.HealthCheckInterval()):
		}
	}
}
