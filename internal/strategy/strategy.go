package strategy

import (
	"sync/atomic"

	"github.com/mkaratzis/lbcore/internal/server"
)

// Strategy picks the next server from a snapshot of the pool's server list.
// A nil result means no server is available. Implementations own their
// rotation state and must be safe for concurrent use, though concurrent
// callers racing on the cursor may both select the same server; rotation is
// at-least-once fair, not exactly-once.
type Strategy interface {
	SelectServer(servers []*server.Server) *server.Server
}

// Rebuilder is implemented by strategies that cache a derived view of the
// server list and can be told to refresh it after membership or weight
// changes.
type Rebuilder interface {
	Rebuild(servers []*server.Server)
}

// failoverScan walks n candidates starting at the cursor. The first alive
// and healthy candidate wins; failing that, the first alive one encountered
// in scan order; failing that, nil. The cursor advances to just past the
// selected candidate and stays untouched when nothing is selected.
func failoverScan(candidates []*server.Server, cursor *atomic.Uint64) *server.Server {
	n := uint64(len(candidates))
	if n == 0 {
		return nil
	}

	start := cursor.Load() % n

	var fallback *server.Server
	var fallbackIndex uint64

	for i := uint64(0); i < n; i++ {
		index := (start + i) % n
		candidate := candidates[index]

		if !candidate.IsAlive() {
			continue
		}

		if candidate.IsHealthy() {
			cursor.Store((index + 1) % n)
			return candidate
		}

		if fallback == nil {
			fallback = candidate
			fallbackIndex = index
		}
	}

	if fallback != nil {
		cursor.Store((fallbackIndex + 1) % n)
		return fallback
	}

	return nil
}
