package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/mkaratzis/lbcore/config"
)

var _ = Describe("Config", func() {
	var (
		tempDir string
		origDir string
	)

	writeConfig := func(content string) {
		configPath := filepath.Join(tempDir, "config.yaml")
		err := os.WriteFile(configPath, []byte(content), 0644)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		viper.Reset()

		var err error
		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())

		err = os.Chdir(tempDir)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.Chdir(origDir)
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("with a valid config file", func() {
			BeforeEach(func() {
				writeConfig(`
servers:
  - address: "10.0.0.1:8080"
    weight: 3
  - address: "10.0.0.2:8080"
    weight: 1

health_check:
  interval: "10s"
  max_failures: 5

probe:
  timeout: "2s"
  thread_pool_size: 8
  dns_cache_ttl: "60s"
  rate_per_second: 50

strategy:
  type: "weighted-round-robin"

logging:
  level: "debug"
  environment: "dev"
`)
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
			})

			It("should parse the server list with weights", func() {
				cfg, _ := config.Load()
				Expect(cfg.Servers).To(HaveLen(2))
				Expect(cfg.Servers[0].Address).To(Equal("10.0.0.1:8080"))
				Expect(cfg.Servers[0].Weight).To(Equal(uint32(3)))
			})

			It("should parse strategy correctly", func() {
				cfg, _ := config.Load()
				Expect(cfg.Strategy.Type).To(Equal(config.StrategyWeightedRoundRobin))
			})

			It("should parse health check settings", func() {
				cfg, _ := config.Load()
				Expect(cfg.HealthCheck.Interval).To(Equal("10s"))
				Expect(cfg.HealthCheck.MaxFailures).To(Equal(uint32(5)))
			})

			It("should parse probe settings", func() {
				cfg, _ := config.Load()
				Expect(cfg.Probe.Timeout).To(Equal("2s"))
				Expect(cfg.Probe.ThreadPoolSize).To(Equal(8))
				Expect(cfg.Probe.DNSCacheTTL).To(Equal("60s"))
				Expect(cfg.Probe.RatePerSecond).To(BeNumerically("==", 50))
			})
		})

		Context("with a minimal config file", func() {
			BeforeEach(func() {
				writeConfig(`
servers:
  - address: "backend.internal"
`)
			})

			It("should fill in defaults for everything else", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Strategy.Type).To(Equal(config.StrategyRoundRobin))
				Expect(cfg.HealthCheck.Interval).To(Equal("5s"))
				Expect(cfg.HealthCheck.MaxFailures).To(Equal(uint32(3)))
				Expect(cfg.Probe.ThreadPoolSize).To(Equal(4))
				Expect(cfg.Probe.DNSCacheTTL).To(Equal("300s"))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelInfo))
				Expect(cfg.Logging.Environment).To(Equal(config.EnvDev))
			})

			It("should accept a bare hostname without a port", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Servers[0].Address).To(Equal("backend.internal"))
			})
		})

		Context("without a config file", func() {
			It("should fail because no servers are configured", func() {
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with an invalid config file", func() {
			It("should reject an unknown strategy type", func() {
				writeConfig(`
servers:
  - address: "10.0.0.1:8080"

strategy:
  type: "random"
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})

			It("should reject a malformed health-check interval", func() {
				writeConfig(`
servers:
  - address: "10.0.0.1:8080"

health_check:
  interval: "ten seconds"
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})

			It("should reject an out-of-range port", func() {
				writeConfig(`
servers:
  - address: "10.0.0.1:99999"
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})

			It("should reject a malformed discovery endpoint", func() {
				writeConfig(`
servers:
  - address: "10.0.0.1:8080"

discovery:
  endpoints:
    - "not a hostport"
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})

			It("should reject an unknown log level", func() {
				writeConfig(`
servers:
  - address: "10.0.0.1:8080"

logging:
  level: "verbose"
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Validate", func() {
		It("should accept discovery endpoints in host:port form", func() {
			writeConfig(`
servers:
  - address: "10.0.0.1:8080"

discovery:
  endpoints:
    - "etcd-0.internal:2379"
    - "etcd-1.internal:2379"
  prefix: "/lb/backends"
`)
			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Discovery.Endpoints).To(HaveLen(2))
			Expect(cfg.Discovery.Prefix).To(Equal("/lb/backends"))
		})
	})
})
