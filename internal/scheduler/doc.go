// Package scheduler is the runtime DAG engine: it turns Create calls into a
// bipartite data/op graph, dispatches ready operations to devices through a
// single-threaded dispatcher loop, and reclaims array memory as soon as it
// becomes unreachable.
//
// The public surface is deliberately narrow — Create, Wait, WaitForAll,
// GetValue, and the two device.Listener callbacks — with all state
// transitions funneled through one dispatcher goroutine so the bookkeeping
// in internal/rit never needs its own lock beyond the per-node scopes
// internal/nodelock already provides.
package scheduler
