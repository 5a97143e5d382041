// Package prober determines server reachability. The default probe parses a
// "host[:port]" address, resolves the host through a TTL'd DNS cache and
// attempts a TCP connection bounded by the configured timeout. Probes fan
// out across a bounded worker pool that pulls from a shared index, so fast
// workers absorb more of the batch. The probe function itself is pluggable;
// everything in this package calls through that indirection.
package prober
