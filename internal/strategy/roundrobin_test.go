package strategy_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mkaratzis/lbcore/internal/server"
	"github.com/mkaratzis/lbcore/internal/strategy"
)

func healthyServers(addresses ...string) []*server.Server {
	servers := make([]*server.Server, 0, len(addresses))
	for _, address := range addresses {
		s := server.New(address, 1)
		s.SetHealthy(true)
		servers = append(servers, s)
	}
	return servers
}

var _ = Describe("RoundRobin", func() {
	var (
		strat   strategy.Strategy
		servers []*server.Server
	)

	BeforeEach(func() {
		strat = strategy.NewRoundRobinStrategy()
		servers = healthyServers("10.0.0.1:80", "10.0.0.2:80", "10.0.0.3:80")
	})

	Context("with all servers healthy", func() {
		It("should cycle through servers in list order", func() {
			Expect(strat.SelectServer(servers)).To(Equal(servers[0]))
			Expect(strat.SelectServer(servers)).To(Equal(servers[1]))
			Expect(strat.SelectServer(servers)).To(Equal(servers[2]))
			Expect(strat.SelectServer(servers)).To(Equal(servers[0]))
		})

		It("should distribute selections evenly", func() {
			counts := make(map[*server.Server]int)
			for i := 0; i < 300; i++ {
				counts[strat.SelectServer(servers)]++
			}
			for _, s := range servers {
				Expect(counts[s]).To(Equal(100))
			}
		})
	})

	Context("with no healthy servers", func() {
		BeforeEach(func() {
			for _, s := range servers {
				s.SetHealthy(false)
			}
		})

		It("should rotate among alive servers instead of going idle", func() {
			Expect(strat.SelectServer(servers)).To(Equal(servers[0]))
			Expect(strat.SelectServer(servers)).To(Equal(servers[1]))
			Expect(strat.SelectServer(servers)).To(Equal(servers[2]))
			Expect(strat.SelectServer(servers)).To(Equal(servers[0]))
		})

		It("should never pick a dead server", func() {
			servers[0].SetAlive(false)
			servers[2].SetAlive(false)

			for i := 0; i < 10; i++ {
				Expect(strat.SelectServer(servers)).To(Equal(servers[1]))
			}
		})
	})

	Context("with a mix of healthy and unhealthy servers", func() {
		It("should skip past unhealthy servers to the next healthy one", func() {
			servers[0].SetHealthy(false)
			servers[1].SetHealthy(false)

			Expect(strat.SelectServer(servers)).To(Equal(servers[2]))
		})

		It("should continue rotation after the selected server", func() {
			servers[1].SetHealthy(false)

			Expect(strat.SelectServer(servers)).To(Equal(servers[0]))
			Expect(strat.SelectServer(servers)).To(Equal(servers[2]))
			Expect(strat.SelectServer(servers)).To(Equal(servers[0]))
		})
	})

	Context("with no alive servers", func() {
		It("should return nil and leave the cursor untouched", func() {
			Expect(strat.SelectServer(servers)).To(Equal(servers[0]))

			for _, s := range servers {
				s.SetAlive(false)
			}
			Expect(strat.SelectServer(servers)).To(BeNil())
			Expect(strat.SelectServer(servers)).To(BeNil())

			for _, s := range servers {
				s.SetAlive(true)
			}
			Expect(strat.SelectServer(servers)).To(Equal(servers[1]))
		})
	})

	Context("with an empty snapshot", func() {
		It("should return nil", func() {
			Expect(strat.SelectServer(nil)).To(BeNil())
			Expect(strat.SelectServer([]*server.Server{})).To(BeNil())
		})
	})
})

var _ = Describe("LeastLoad", func() {
	var (
		strat   strategy.Strategy
		servers []*server.Server
	)

	BeforeEach(func() {
		strat = strategy.NewLeastLoadStrategy()
		servers = healthyServers("10.0.0.1:80", "10.0.0.2:80", "10.0.0.3:80")
	})

	It("should pick the server with the lowest effective load", func() {
		servers[0].IncrementConnections()
		servers[0].IncrementConnections()
		servers[2].IncrementConnections()

		Expect(strat.SelectServer(servers)).To(Equal(servers[1]))
	})

	It("should weigh connections against server weight", func() {
		servers[0].SetWeight(4)
		servers[0].IncrementConnections()
		servers[0].IncrementConnections() // load 0.5
		servers[1].IncrementConnections() // load 1.0
		servers[2].IncrementConnections() // load 1.0

		Expect(strat.SelectServer(servers)).To(Equal(servers[0]))
	})

	It("should prefer a loaded healthy server over an idle unhealthy one", func() {
		servers[0].SetHealthy(false)
		servers[1].SetHealthy(false)
		servers[2].IncrementConnections()
		servers[2].IncrementConnections()

		Expect(strat.SelectServer(servers)).To(Equal(servers[2]))
	})

	It("should fall back to the least loaded alive server when none are healthy", func() {
		for _, s := range servers {
			s.SetHealthy(false)
		}
		servers[0].IncrementConnections()

		Expect(strat.SelectServer(servers)).To(Equal(servers[1]))
	})

	It("should return nil when no server is alive", func() {
		for _, s := range servers {
			s.SetAlive(false)
		}
		Expect(strat.SelectServer(servers)).To(BeNil())
	})
})

var _ = Describe("Table-driven strategy checks", func() {
	DescribeTable("every strategy selects from a healthy pool",
		func(create func() strategy.Strategy) {
			strat := create()
			servers := healthyServers("10.0.0.1:80", "10.0.0.2:80")

			selected := strat.SelectServer(servers)
			Expect(selected).NotTo(BeNil())
			Expect(servers).To(ContainElement(selected))
		},
		Entry("Round Robin", strategy.NewRoundRobinStrategy),
		Entry("Weighted Round Robin", strategy.NewWeightedRoundRobinStrategy),
		Entry("Least Load", strategy.NewLeastLoadStrategy),
	)

	// Concurrent callers racing on the cursor may select the same server
	// before either advances it. Rotation is at-least-once fair, not
	// exactly-once, so duplicates are permitted; every selection must
	// still land on a member of the pool.
	DescribeTable("every strategy serves concurrent callers from a healthy pool",
		func(create func() strategy.Strategy) {
			const (
				goroutines = 8
				selections = 200
			)

			strat := create()
			servers := healthyServers("10.0.0.1:80", "10.0.0.2:80", "10.0.0.3:80")

			members := make(map[*server.Server]bool, len(servers))
			for _, s := range servers {
				members[s] = true
			}

			results := make(chan *server.Server, goroutines*selections)
			var wg sync.WaitGroup
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < selections; i++ {
						results <- strat.SelectServer(servers)
					}
				}()
			}
			wg.Wait()
			close(results)

			count := 0
			for selected := range results {
				Expect(selected).NotTo(BeNil())
				Expect(members[selected]).To(BeTrue())
				count++
			}
			Expect(count).To(Equal(goroutines * selections))
		},
		Entry("Round Robin", strategy.NewRoundRobinStrategy),
		Entry("Weighted Round Robin", strategy.NewWeightedRoundRobinStrategy),
		Entry("Least Load", strategy.NewLeastLoadStrategy),
	)

	DescribeTable("every strategy reports no server for a dead pool",
		func(create func() strategy.Strategy) {
			strat := create()
			servers := healthyServers("10.0.0.1:80", "10.0.0.2:80")
			for _, s := range servers {
				s.SetAlive(false)
			}

			Expect(strat.SelectServer(servers)).To(BeNil())
		},
		Entry("Round Robin", strategy.NewRoundRobinStrategy),
		Entry("Weighted Round Robin", strategy.NewWeightedRoundRobinStrategy),
		Entry("Least Load", strategy.NewLeastLoadStrategy),
	)
})
