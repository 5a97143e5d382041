package strategy

import (
	"github.com/mkaratzis/lbcore/internal/server"
)

type leastLoadStrategy struct{}

// NewLeastLoadStrategy selects the alive server with the lowest effective
// load (connections divided by weight), preferring healthy servers. It
// carries no rotation state.
func NewLeastLoadStrategy() Strategy {
	return &leastLoadStrategy{}
}

func (l *leastLoadStrategy) SelectServer(servers []*server.Server) *server.Server {
	var best, fallback *server.Server
	var bestLoad, fallbackLoad float64

	for _, s := range servers {
		if !s.IsAlive() {
			continue
		}

		load := s.EffectiveLoad()
		if s.IsHealthy() {
			if best == nil || load < bestLoad {
				best, bestLoad = s, load
			}
		} else if fallback == nil || load < fallbackLoad {
			fallback, fallbackLoad = s, load
		}
	}

	if best != nil {
		return best
	}
	return fallback
}
