package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// Server is a single backend endpoint. The address is immutable after
// construction and treated as an opaque "host:port" string (the port
// defaults to 80 when a probe finds none). All other fields are mutated
// independently by the pool, the prober and the embedding caller.
type Server struct {
	address string

	alive    atomic.Bool
	healthy  atomic.Bool
	weight   atomic.Uint32
	conns    atomic.Uint32
	failures atomic.Uint32

	checkMu   sync.Mutex
	lastCheck time.Time
}

// New creates a server for the given address. A weight of 0 is coerced to 1.
// Servers start alive and unhealthy; the first successful probe marks them
// healthy.
func New(address string, weight uint32) *Server {
	if weight == 0 {
		weight = 1
	}

	s := &Server{
		address:   address,
		lastCheck: time.Now(),
	}
	s.alive.Store(true)
	s.weight.Store(weight)

	return s
}

// Address returns the server's "host:port" address.
func (s *Server) Address() string {
	return s.address
}

// IsAlive reports whether the server has not been ejected for repeated
// probe failures.
func (s *Server) IsAlive() bool {
	return s.alive.Load()
}

// SetAlive marks the server as eligible (or not) for selection.
func (s *Server) SetAlive(alive bool) {
	s.alive.Store(alive)
}

// IsHealthy reports the outcome of the latest reachability probe.
func (s *Server) IsHealthy() bool {
	return s.healthy.Load()
}

// SetHealthy records a probe outcome. Marking a server healthy also resets
// its consecutive-failure counter.
func (s *Server) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)

	if healthy {
		s.ResetFailures()
	}
}

// LastHealthCheck returns the time of the most recent probe, regardless of
// its result.
func (s *Server) LastHealthCheck() time.Time {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	return s.lastCheck
}

// TouchHealthCheck stamps the server with the current time.
func (s *Server) TouchHealthCheck() {
	s.checkMu.Lock()
	s.lastCheck = time.Now()
	s.checkMu.Unlock()
}

// Weight returns the server's weight for weighted strategies.
func (s *Server) Weight() uint32 {
	return s.weight.Load()
}

// SetWeight updates the weight. A weight of 0 is coerced to 1.
func (s *Server) SetWeight(weight uint32) {
	if weight == 0 {
		weight = 1
	}
	s.weight.Store(weight)
}

// CurrentConnections returns the number of in-flight requests the embedding
// caller has reserved against this server.
func (s *Server) CurrentConnections() uint32 {
	return s.conns.Load()
}

// IncrementConnections records one more in-flight request. The pool never
// calls this itself; reservation around request lifetimes belongs to the
// embedding caller.
func (s *Server) IncrementConnections() {
	s.conns.Add(1)
}

// DecrementConnections records the end of one in-flight request. The
// counter never underflows.
func (s *Server) DecrementConnections() {
	for {
		current := s.conns.Load()
		if current == 0 {
			return
		}
		if s.conns.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// FailureCount returns the number of consecutive probe failures.
func (s *Server) FailureCount() uint32 {
	return s.failures.Load()
}

// IncrementFailures bumps the consecutive-failure counter and returns the
// new value.
func (s *Server) IncrementFailures() uint32 {
	return s.failures.Add(1)
}

// ResetFailures zeroes the consecutive-failure counter.
func (s *Server) ResetFailures() {
	s.failures.Store(0)
}

// EffectiveLoad returns the connection count divided by the weight, the
// load figure the least-load strategy ranks by.
func (s *Server) EffectiveLoad() float64 {
	weight := s.weight.Load()
	if weight == 0 {
		weight = 1
	}

	return float64(s.conns.Load()) / float64(weight)
}
