// Package strategy implements server selection over snapshots of the pool's
// server list:
//
//   - Round Robin: strict cyclic rotation across the list
//   - Weighted Round Robin: rotation over a weight-expanded list, so higher
//     weights are selected proportionally more often
//   - Least Load: the server with the fewest connections per unit of weight
//
// All strategies apply the same two-pass failover rule: prefer the first
// alive and healthy candidate from the cursor onward, fall back to the first
// alive one, and report no server only when nothing is alive. Rotation state
// lives inside the strategy; the pool only hands in snapshots.
package strategy
