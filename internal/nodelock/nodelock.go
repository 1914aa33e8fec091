// Package nodelock implements the Multi-Node Lock: a scoped critical
// section spanning a node together with its 1-hop graph neighborhood,
// acquired in a deterministic order to prevent deadlock between client
// threads and the dispatcher.
package nodelock

import (
	"sort"
	"sync"

	"github.com/vk/tensorsched/internal/dag"
)

// MultiNode holds the per-node mutexes for one critical section, already
// locked in ascending dag.NodeID order. Release it with Unlock, typically
// via defer.
type MultiNode struct {
	ids     []dag.NodeID
	mutexes []*sync.Mutex
}

// ForCreate locks every data node in params plus every op node adjacent to
// any of them. Create uses this to atomically append a new op and its edges
// while preventing concurrent completion changes on the inputs.
func ForCreate(g *dag.Graph, params []dag.NodeID) *MultiNode {
	set := make(map[dag.NodeID]struct{}, len(params))
	for _, id := range params {
		set[id] = struct{}{}
	}
	for _, id := range g.AdjacentOps(params) {
		set[id] = struct{}{}
	}
	return lock(g, set)
}

// ForNode locks id plus all its direct neighbors (predecessors and
// successors). The dispatcher and external-refcount updates use this.
func ForNode(g *dag.Graph, id dag.NodeID) *MultiNode {
	set := map[dag.NodeID]struct{}{id: {}}
	for _, n := range g.NeighborsOf(id) {
		set[n] = struct{}{}
	}
	return lock(g, set)
}

func lock(g *dag.Graph, set map[dag.NodeID]struct{}) *MultiNode {
	ids := make([]dag.NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	mutexes := make([]*sync.Mutex, len(ids))
	for i, id := range ids {
		mutexes[i] = g.MutexFor(id)
	}
	for _, m := range mutexes {
		m.Lock()
	}

	return &MultiNode{ids: ids, mutexes: mutexes}
}

// Unlock releases every mutex held by this critical section, in reverse
// acquisition order.
func (m *MultiNode) Unlock() {
	for i := len(m.mutexes) - 1; i >= 0; i-- {
		m.mutexes[i].Unlock()
	}
}

// Holds reports whether id's mutex is part of this critical section, used
// by assertions that a given node is already locked by the caller.
func (m *MultiNode) Holds(id dag.NodeID) bool {
	for _, held := range m.ids {
		if held == id {
			return true
		}
	}
	return false
}
