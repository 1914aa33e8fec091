package dag

import (
	"sync"

	"github.com/vk/tensorsched/internal/compute"
	"github.com/vk/tensorsched/internal/deviceid"
	"github.com/vk/tensorsched/internal/tensorshape"
)

// NodeID is a process-local, monotonically increasing identifier minted by
// the Graph on node creation. The zero value never denotes a live node.
type NodeID uint64

// Kind distinguishes the two vertex kinds of the bipartite DAG.
type Kind int

const (
	// DataKind marks a DataNode.
	DataKind Kind = iota
	// OpKind marks an OpNode.
	OpKind
)

func (k Kind) String() string {
	if k == DataKind {
		return "data"
	}
	return "op"
}

// Node is the common surface every vertex in the graph exposes to the
// scheduler and the multi-node lock. Callers obtain exclusive access to a
// node's mutable fields by holding its mutex — see package nodelock.
type Node interface {
	ID() NodeID
	Kind() Kind
	Mutex() *sync.Mutex
	// Predecessors returns the node ids this node depends on.
	Predecessors() []NodeID
	// Successors returns the node ids that depend on this node.
	Successors() []NodeID
}

// base carries the fields common to both node kinds. It is never used on
// its own.
type base struct {
	id NodeID
	mu sync.Mutex
}

func (b *base) ID() NodeID        { return b.id }
func (b *base) Mutex() *sync.Mutex { return &b.mu }

// DataNode represents one physical array resident on a device.
//
// A DataNode has at most one producer OpNode; Producer is zero for the
// "leaf" input nodes a client creates directly. Consumers holds the set of
// OpNodes that read this node as an input.
type DataNode struct {
	base

	Device deviceid.Device
	Data   deviceid.DataID
	Shape  tensorshape.Shape

	// ExternRC is the number of live client handles referencing this node.
	// It is mutated only by callers holding this node's Mutex.
	ExternRC int64

	// Producer and Consumers are this node's graph edges, read by
	// Predecessors/Successors traversal. The live-successor reference count
	// itself is kept in the scheduler's RIT, not on the node.
	Producer  NodeID
	Consumers map[NodeID]struct{}
}

func (n *DataNode) Kind() Kind { return DataKind }

func (n *DataNode) Predecessors() []NodeID {
	if n.Producer == 0 {
		return nil
	}
	return []NodeID{n.Producer}
}

func (n *DataNode) Successors() []NodeID {
	out := make([]NodeID, 0, len(n.Consumers))
	for id := range n.Consumers {
		out = append(out, id)
	}
	return out
}

// OpNode represents one pending, running, or completed computation.
type OpNode struct {
	base

	Device  deviceid.Device
	Fn      compute.Fn
	Inputs  []NodeID
	Outputs []NodeID
}

func (n *OpNode) Kind() Kind { return OpKind }

func (n *OpNode) Predecessors() []NodeID {
	return append([]NodeID(nil), n.Inputs...)
}

func (n *OpNode) Successors() []NodeID {
	return append([]NodeID(nil), n.Outputs...)
}
