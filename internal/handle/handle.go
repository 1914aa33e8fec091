// Package handle implements the client-facing handle layer: an opaque
// reference to a DataNode whose drop path decrements extern_rc exactly
// once, mirroring the teacher's sync.Once-guarded node destruction.
package handle

import (
	"sync"

	"github.com/vk/tensorsched/internal/dag"
)

// Handle is an opaque client reference to a DataNode. Close must be called
// exactly once the result is no longer needed; it is safe to call more than
// once, and safe to never call only in the sense that the scheduler's own
// shutdown path (WaitForAll) does not depend on it — but a leaked Handle
// leaks its DataNode.
type Handle struct {
	id   dag.NodeID
	drop func(dag.NodeID)
	once sync.Once
}

// New wraps id with the scheduler's extern_rc-drop callback.
func New(id dag.NodeID, drop func(dag.NodeID)) *Handle {
	return &Handle{id: id, drop: drop}
}

// NodeID returns the DataNode id this handle references.
func (h *Handle) NodeID() dag.NodeID {
	return h.id
}

// Close releases this handle's hold on its DataNode. Idempotent.
func (h *Handle) Close() {
	h.once.Do(func() {
		h.drop(h.id)
	})
}
