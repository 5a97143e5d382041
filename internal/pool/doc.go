// Package pool owns the live server set, the active selection strategy and
// the periodic health-check loop. SelectNext is the hot path: it snapshots
// the list under a read lock and decides in memory, never touching the
// network. Probing happens on the background loop through the prober, which
// folds results into each server's own atomic fields.
package pool
