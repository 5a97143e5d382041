package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mkaratzis/lbcore/config"
	"github.com/mkaratzis/lbcore/internal/discovery"
	"github.com/mkaratzis/lbcore/internal/pool"
	"github.com/mkaratzis/lbcore/internal/server"
	"github.com/mkaratzis/lbcore/internal/strategy"
	"github.com/mkaratzis/lbcore/pkg/logger"
)

const statusInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Logging.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	healthCheckInterval, err := time.ParseDuration(cfg.HealthCheck.Interval)
	if err != nil {
		log.Error("invalid health check interval",
			slog.String("interval", cfg.HealthCheck.Interval),
			slog.Any("err", err))
		os.Exit(1)
	}

	p, err := pool.New(buildServers(cfg), buildStrategy(log, cfg.Strategy.Type), healthCheckInterval, cfg.HealthCheck.MaxFailures, log)
	if err != nil {
		log.Error("failed to create pool", slog.Any("err", err))
		os.Exit(1)
	}
	defer p.Close()

	if err := configureProber(p, cfg); err != nil {
		log.Error("invalid probe settings", slog.Any("err", err))
		os.Exit(1)
	}

	p.StartHealthChecks()

	watcher, err := startDiscovery(ctx, cfg, p, log)
	if err != nil {
		log.Error("failed to start discovery", slog.Any("err", err))
		os.Exit(1)
	}
	if watcher != nil {
		defer watcher.Stop()
	}

	log.Info("balancer running",
		slog.String("strategy", cfg.Strategy.Type),
		slog.Int("servers", p.ServerCount()))

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down gracefully...")
			return
		case <-ticker.C:
			log.Info("pool status",
				slog.Int("servers", p.ServerCount()),
				slog.Int("healthy", p.HealthyServerCount()),
				slog.Float64("average_load", p.AverageLoad()))
		}
	}
}

func buildServers(cfg *config.Config) []*server.Server {
	servers := make([]*server.Server, 0, len(cfg.Servers))
	for _, sc := range cfg.Servers {
		servers = append(servers, server.New(sc.Address, sc.Weight))
	}
	return servers
}

func buildStrategy(log *slog.Logger, strategyType string) strategy.Strategy {
	switch strategyType {
	case config.StrategyRoundRobin:
		return strategy.NewRoundRobinStrategy()
	case config.StrategyWeightedRoundRobin:
		return strategy.NewWeightedRoundRobinStrategy()
	case config.StrategyLeastLoad:
		return strategy.NewLeastLoadStrategy()
	default:
		log.Warn("unknown strategy, defaulting to round-robin", slog.String("requested", strategyType))
		return strategy.NewRoundRobinStrategy()
	}
}

func configureProber(p *pool.Pool, cfg *config.Config) error {
	timeout, err := time.ParseDuration(cfg.Probe.Timeout)
	if err != nil {
		return err
	}

	ttl, err := time.ParseDuration(cfg.Probe.DNSCacheTTL)
	if err != nil {
		return err
	}

	pinger := p.Pinger()
	pinger.SetTimeout(timeout)
	pinger.SetThreadPoolSize(cfg.Probe.ThreadPoolSize)
	pinger.SetDNSCacheTTL(ttl)
	pinger.SetRateLimit(cfg.Probe.RatePerSecond, cfg.Probe.ThreadPoolSize)

	return nil
}

// startDiscovery wires the pool to etcd when endpoints are configured.
// Returns nil without error when discovery is not enabled.
func startDiscovery(ctx context.Context, cfg *config.Config, p *pool.Pool, log *slog.Logger) (*discovery.Watcher, error) {
	if len(cfg.Discovery.Endpoints) == 0 {
		return nil, nil
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Discovery.Endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	watcher := discovery.NewWatcher(client, cfg.Discovery.Prefix, p, log)
	if err := watcher.Start(ctx); err != nil {
		client.Close()
		return nil, err
	}

	log.Info("discovery enabled",
		slog.String("prefix", cfg.Discovery.Prefix),
		slog.Int("endpoints", len(cfg.Discovery.Endpoints)))

	return watcher, nil
}
