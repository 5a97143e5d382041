package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mkaratzis/lbcore/internal/pool"
	"github.com/mkaratzis/lbcore/internal/server"
)

// Instance is the JSON document a backend stores under <prefix>/<address>.
type Instance struct {
	Address string `json:"address"`
	Weight  uint32 `json:"weight"`
}

// Watcher mirrors the instances registered under an etcd prefix into a
// pool: new registrations become AddServer calls, expired or deleted keys
// become RemoveServer calls, and weight changes are applied in place.
type Watcher struct {
	client *clientv3.Client
	prefix string
	pool   *pool.Pool
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a watcher for the given prefix. Nothing happens until
// Start is called.
func NewWatcher(client *clientv3.Client, prefix string, p *pool.Pool, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		client: client,
		prefix: normalizePrefix(prefix),
		pool:   p,
		logger: logger,
	}
}

// Start performs an initial sync and then watches the prefix until Stop is
// called or ctx is cancelled. Starting a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := w.sync(ctx); err != nil {
		cancel()
		return err
	}

	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	go w.watch(ctx)

	return nil
}

// Stop cancels the watch and blocks until it has exited. Safe to call when
// not running.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	w.cancel()
	<-w.done
	w.cancel, w.done = nil, nil
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.done)

	updates := w.client.Watch(ctx, w.prefix, clientv3.WithPrefix())
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			// Re-list the whole prefix instead of folding events.
			if err := w.sync(ctx); err != nil {
				w.logger.Warn("discovery sync failed",
					slog.String("prefix", w.prefix),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (w *Watcher) sync(ctx context.Context) error {
	resp, err := w.client.Get(ctx, w.prefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}

	desired := make(map[string]uint32, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			continue // skip malformed entries
		}
		if inst.Address == "" {
			continue
		}
		desired[inst.Address] = inst.Weight
	}

	w.reconcile(desired)
	return nil
}

// reconcile diffs the desired membership against the pool: present servers
// get their weight refreshed, absent ones are removed, new ones added.
func (w *Watcher) reconcile(desired map[string]uint32) {
	for _, srv := range w.pool.Servers() {
		if weight, ok := desired[srv.Address()]; ok {
			srv.SetWeight(weight)
			delete(desired, srv.Address())
			continue
		}

		if w.pool.RemoveServer(srv.Address()) {
			w.logger.Info("server deregistered", slog.String("address", srv.Address()))
		}
	}

	for address, weight := range desired {
		if w.pool.AddServer(server.New(address, weight)) {
			w.logger.Info("server discovered",
				slog.String("address", address),
				slog.Uint64("weight", uint64(weight)))
		}
	}
}

// Register writes inst under the prefix with a TTL lease and keeps the
// lease alive until ctx is cancelled, so a crashed backend disappears once
// the lease expires.
func Register(ctx context.Context, client *clientv3.Client, prefix string, inst Instance, ttlSeconds int64) error {
	lease, err := client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	value, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	key := normalizePrefix(prefix) + inst.Address
	if _, err := client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	keepalive, err := client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range keepalive {
		}
	}()

	return nil
}

// Deregister removes the instance key for a graceful shutdown.
func Deregister(ctx context.Context, client *clientv3.Client, prefix, address string) error {
	_, err := client.Delete(ctx, normalizePrefix(prefix)+address)
	return err
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		return "/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
