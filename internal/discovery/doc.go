// Package discovery keeps a pool's membership in sync with backend
// instances registered under an etcd key prefix. Backends register with a
// TTL lease, so crashed instances drop out of the pool once the lease
// expires. The watcher re-lists the prefix on every change rather than
// interpreting individual events.
package discovery
