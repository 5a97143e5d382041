package strategy

import (
	"sync/atomic"

	"github.com/mkaratzis/lbcore/internal/server"
)

type roundRobinStrategy struct {
	cursor atomic.Uint64
}

// NewRoundRobinStrategy rotates through the server list in pool order. A
// fully healthy pool is visited in strict cyclic order; degraded pools fall
// back per the shared failover rule.
func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{}
}

func (r *roundRobinStrategy) SelectServer(servers []*server.Server) *server.Server {
	return failoverScan(servers, &r.cursor)
}
