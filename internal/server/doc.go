// Package server defines the unit of pool state: one backend endpoint with
// its address, weight, liveness, health and load counters. Every field is
// independently concurrency-safe; no atomicity is guaranteed across fields,
// so readers combining, say, health and the last-check timestamp may observe
// a torn update.
package server
