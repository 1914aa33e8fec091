// Package rit implements the Runtime Info Table: per-node scheduling state
// that lives alongside, but separate from, the DAG topology itself.
package rit

import (
	"fmt"
	"sync"

	"github.com/vk/tensorsched/internal/dag"
)

// State is a node's position in the scheduling lifecycle.
type State int

const (
	// Ready is the initial state: the node has not yet completed.
	Ready State = iota
	// Completed means the node's computation (or, for a DataNode, its
	// producer's computation) has finished successfully.
	Completed
	// Failed means a device reported the node's operation could not
	// complete, or one of its own predecessors did; it is a terminal
	// state distinct from Completed that still trigger-decrements
	// successors exactly as a normal completion would, so a poisoned
	// node's successors only complete once every one of their inputs has
	// reached a terminal state (see the dispatcher's poisoning path).
	Failed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Info is one node's runtime bookkeeping: its lifecycle state, how many
// predecessor completions it is still waiting on, and how many live
// successor edges point away from it.
type Info struct {
	State             State
	NumTriggersNeeded int32
	ReferenceCount    int32
}

// Table maps NodeID to Info. Field mutation on a returned *Info is not
// synchronized by Table itself: every caller must hold the appropriate
// nodelock.MultiNode scope for the nodes it touches, exactly as the DAG
// requires. Table does carry a small internal mutex guarding the map's own
// structure (insert/delete), since Go maps are unsafe for any concurrent
// structural access regardless of per-entry locking discipline.
type Table struct {
	mu      sync.Mutex
	entries map[dag.NodeID]*Info
}

// New creates an empty Table.
func New() *Table {
	return &Table{entries: make(map[dag.NodeID]*Info)}
}

// AddNode registers id with the initial Ready state and zeroed counts. It
// panics if id is already present.
func (t *Table) AddNode(id dag.NodeID) *Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		panic(fmt.Sprintf("rit: AddNode: node %d already present", id))
	}
	info := &Info{State: Ready}
	t.entries[id] = info
	return info
}

// RemoveNode drops id's entry. It panics on double-remove or removal of an
// unknown node — RIT entries must be freed exactly once, in lockstep with
// the node's removal from the DAG.
func (t *Table) RemoveNode(id dag.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; !exists {
		panic(fmt.Sprintf("rit: RemoveNode: unknown or already-removed node %d", id))
	}
	delete(t.entries, id)
}

// At returns a mutable pointer to id's Info. It panics if id is unknown.
// The returned pointer's fields must only be mutated by a caller holding the
// node's nodelock scope.
func (t *Table) At(id dag.NodeID) *Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.entries[id]
	if !ok {
		panic(fmt.Sprintf("rit: At: unknown node %d", id))
	}
	return info
}

// GetState returns id's current state.
func (t *Table) GetState(id dag.NodeID) State {
	return t.At(id).State
}

// Len reports the number of live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
