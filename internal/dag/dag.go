// Package dag is the physical DAG container: node allocation, edge wiring,
// id assignment, and atomic removal. It owns node storage exclusively; all
// other packages reach nodes only through a Graph.
package dag

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vk/tensorsched/internal/compute"
	"github.com/vk/tensorsched/internal/deviceid"
	"github.com/vk/tensorsched/internal/tensorshape"
)

// Graph is the bipartite data/op node container. All operations are
// concurrency-safe with respect to the node map; mutation of an individual
// node's fields is the caller's responsibility under that node's Mutex.
type Graph struct {
	mutex  sync.RWMutex
	nodes  map[NodeID]Node
	nextID atomic.Uint64
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[NodeID]Node),
	}
}

func (g *Graph) mintID() NodeID {
	return NodeID(g.nextID.Add(1))
}

// NewDataNode allocates a fresh, producer-less DataNode and inserts it into
// the graph. Callers wire it to a producer via NewOpNode.
func (g *Graph) NewDataNode(dev deviceid.Device, data deviceid.DataID, shape tensorshape.Shape) *DataNode {
	n := &DataNode{
		base:      base{id: g.mintID()},
		Device:    dev,
		Data:      data,
		Shape:     shape,
		Consumers: make(map[NodeID]struct{}),
	}

	g.mutex.Lock()
	g.nodes[n.id] = n
	g.mutex.Unlock()

	return n
}

// NewOpNode allocates a fresh OpNode wired to the given input and output
// DataNodes and inserts it into the graph. Every id in inputs/outputs must
// already name a live DataNode. Wiring an output DataNode that already has a
// producer is a fatal bookkeeping error.
func (g *Graph) NewOpNode(dev deviceid.Device, fn compute.Fn, inputs, outputs []NodeID) *OpNode {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	op := &OpNode{
		base:    base{id: g.mintID()},
		Device:  dev,
		Fn:      fn,
		Inputs:  append([]NodeID(nil), inputs...),
		Outputs: append([]NodeID(nil), outputs...),
	}
	g.nodes[op.id] = op

	for _, in := range inputs {
		dn, ok := g.nodes[in].(*DataNode)
		if !ok {
			panic(fmt.Sprintf("dag: NewOpNode: input %d is not a live DataNode", in))
		}
		dn.Consumers[op.id] = struct{}{}
	}

	for _, out := range outputs {
		dn, ok := g.nodes[out].(*DataNode)
		if !ok {
			panic(fmt.Sprintf("dag: NewOpNode: output %d is not a live DataNode", out))
		}
		if dn.Producer != 0 {
			panic(fmt.Sprintf("dag: NewOpNode: output %d already has producer %d", out, dn.Producer))
		}
		dn.Producer = op.id
	}

	return op
}

// GetNode returns the node with the given id, if it is still live.
func (g *Graph) GetNode(id NodeID) (Node, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	return n, ok
}

// DisconnectConsumer removes op from data's consumer set. The dispatcher
// calls this when op completes, so that data's live successor set (read by
// NeighborsOf/AdjacentOps to build a lock scope) never again names an op
// that may since have been removed from the graph entirely. This mutation
// is serialized by the graph's own mutex rather than data's per-node
// mutex, since NeighborsOf/AdjacentOps snapshot successors before any
// per-node mutex in the resulting scope is held.
func (g *Graph) DisconnectConsumer(data, op NodeID) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	dn, ok := g.nodes[data].(*DataNode)
	if !ok {
		panic(fmt.Sprintf("dag: DisconnectConsumer: %d is not a live DataNode", data))
	}
	delete(dn.Consumers, op)
}

// RemoveNodeFromDag removes id from the graph and transfers ownership of the
// node to the caller. Removing an unknown id is a fatal bookkeeping error —
// every node must be removed exactly once, by the code path that observed it
// become dead.
func (g *Graph) RemoveNodeFromDag(id NodeID) Node {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		panic(fmt.Sprintf("dag: RemoveNodeFromDag: unknown or already-removed node %d", id))
	}
	delete(g.nodes, id)
	return n
}

// NeighborsOf returns the direct predecessors and successors of id, used by
// nodelock.ForNode to snapshot the 1-hop neighborhood to lock.
func (g *Graph) NeighborsOf(id NodeID) []NodeID {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		panic(fmt.Sprintf("dag: NeighborsOf: unknown node %d", id))
	}

	seen := make(map[NodeID]struct{})
	for _, p := range n.Predecessors() {
		// A DataNode's Producer field is never cleared: the op is removed
		// from the graph as soon as every one of its outputs has
		// individually completed, which can happen while a sibling output
		// with a longer lifetime (still extern-referenced or still
		// consumed) still names it. Skip neighbors that no longer exist
		// rather than trying to lock a node already gone.
		if _, live := g.nodes[p]; live {
			seen[p] = struct{}{}
		}
	}
	for _, s := range n.Successors() {
		if _, live := g.nodes[s]; live {
			seen[s] = struct{}{}
		}
	}

	out := make([]NodeID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// AdjacentOps returns every OpNode that is a consumer or producer of any of
// the given data nodes, used by nodelock.ForCreate to lock the neighborhood
// of a new op's parameter set before wiring it in.
func (g *Graph) AdjacentOps(dataNodes []NodeID) []NodeID {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	seen := make(map[NodeID]struct{})
	for _, id := range dataNodes {
		dn, ok := g.nodes[id].(*DataNode)
		if !ok {
			panic(fmt.Sprintf("dag: AdjacentOps: %d is not a live DataNode", id))
		}
		// See NeighborsOf: a surviving param's producer may already have
		// been removed once every one of its outputs completed.
		if dn.Producer != 0 {
			if _, live := g.nodes[dn.Producer]; live {
				seen[dn.Producer] = struct{}{}
			}
		}
		for consumer := range dn.Consumers {
			seen[consumer] = struct{}{}
		}
	}

	out := make([]NodeID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// MutexFor returns the per-node mutex for id, used by nodelock to build its
// ascending-id acquisition order.
func (g *Graph) MutexFor(id NodeID) *sync.Mutex {
	g.mutex.RLock()
	n, ok := g.nodes[id]
	g.mutex.RUnlock()

	if !ok {
		panic(fmt.Sprintf("dag: MutexFor: unknown node %d", id))
	}
	return n.Mutex()
}

// Len reports the number of live nodes, used by tests asserting an empty
// DAG after garbage collection.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}
