package strategy

import (
	"sync"
	"sync/atomic"

	"github.com/mkaratzis/lbcore/internal/server"
)

// weightedRoundRobinStrategy rotates over an expansion list in which each
// alive server appears weight times consecutively, so the failover scan
// naturally favors higher weights. The expansion list is a cached projection
// of (servers, weights, alive), not a source of truth: it is rebuilt only
// when found empty at selection time or when Rebuild forces it, so weight
// and membership changes made in between are not reflected until then.
type weightedRoundRobinStrategy struct {
	mu       sync.Mutex
	expanded []*server.Server
	cursor   atomic.Uint64
}

// NewWeightedRoundRobinStrategy distributes selections proportionally to
// server weights.
func NewWeightedRoundRobinStrategy() Strategy {
	return &weightedRoundRobinStrategy{}
}

func (w *weightedRoundRobinStrategy) SelectServer(servers []*server.Server) *server.Server {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.expanded) == 0 {
		w.expanded = expandByWeight(servers)
	}

	return failoverScan(w.expanded, &w.cursor)
}

// Rebuild replaces the expansion list from the given snapshot, re-reading
// each server's current weight and dropping dead servers. The snapshot is
// expanded before the list lock is taken, so the pool's read lock is never
// held together with it.
func (w *weightedRoundRobinStrategy) Rebuild(servers []*server.Server) {
	fresh := expandByWeight(servers)

	w.mu.Lock()
	w.expanded = fresh
	w.mu.Unlock()
}

func expandByWeight(servers []*server.Server) []*server.Server {
	expanded := make([]*server.Server, 0, len(servers))

	for _, s := range servers {
		if !s.IsAlive() {
			continue
		}
		for i := uint32(0); i < s.Weight(); i++ {
			expanded = append(expanded, s)
		}
	}

	return expanded
}
