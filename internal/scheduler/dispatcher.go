package scheduler

import (
	"fmt"

	"github.com/vk/tensorsched/internal/dag"
	"github.com/vk/tensorsched/internal/device"
	"github.com/vk/tensorsched/internal/dispatchqueue"
	"github.com/vk/tensorsched/internal/nodelock"
	"github.com/vk/tensorsched/internal/rit"
	"github.com/vk/tensorsched/internal/task"
)

// processIfReady pushes op for dispatch if it has no outstanding triggers.
// Precondition: op.State == Ready.
func (s *Scheduler) processIfReady(op dag.NodeID, info *rit.Info) {
	if info.State != rit.Ready {
		panic(fmt.Sprintf("scheduler: processIfReady: node %d not Ready", op))
	}
	if info.NumTriggersNeeded == 0 {
		s.countAndPush(op, dispatchqueue.ToRun)
	}
}

// countAndPush marks id as counted toward numNodesYetToFinish and pushes it
// for dispatch with the given kind. Every node that reaches this path will,
// exactly once, pass through the corresponding decrement in the completion
// step.
func (s *Scheduler) countAndPush(id dag.NodeID, kind dispatchqueue.TaskKind) {
	s.finishMu.Lock()
	s.numNodesYetToFinish++
	s.counted[id] = true
	s.finishMu.Unlock()

	s.queue.Push(dispatchqueue.Item{Kind: kind, Node: id})
}

// dispatchLoop is the single dispatcher goroutine. It owns every state
// transition in the RIT; client and device threads only enqueue work.
func (s *Scheduler) dispatchLoop() {
	defer close(s.dispatcherDone)

	for {
		item, ok := s.queue.Pop(s.dispatchCtx)
		if !ok {
			return
		}
		s.handle(item)
	}
}

func (s *Scheduler) handle(item dispatchqueue.Item) {
	lock := nodelock.ForNode(s.dag, item.Node)
	defer lock.Unlock()

	n, ok := s.dag.GetNode(item.Node)
	if !ok {
		panic(fmt.Sprintf("scheduler: dispatcher: task for unknown node %d", item.Node))
	}

	if item.Kind == dispatchqueue.ToRun {
		if op, isOp := n.(*dag.OpNode); isOp {
			s.dispatch(op)
			return
		}
		// Degenerate case: a DataNode was enqueued directly (its producer
		// just completed). Fall through to the completion step.
	}

	s.complete(item.Node, n)
}

// dispatch builds the Task snapshot for op and hands it to its device. The
// node's state remains Ready until the device reports completion or
// failure.
func (s *Scheduler) dispatch(op *dag.OpNode) {
	t := &task.Task{
		ID: op.ID(),
		Op: task.Op{Device: op.Device, Fn: op.Fn},
	}

	for _, id := range op.Inputs {
		n, _ := s.dag.GetNode(id)
		dn := n.(*dag.DataNode)
		t.Inputs = append(t.Inputs, task.Operand{Data: dn.Data, Node: id})
	}
	for _, id := range op.Outputs {
		n, _ := s.dag.GetNode(id)
		dn := n.(*dag.DataNode)
		t.Outputs = append(t.Outputs, task.Operand{Data: dn.Data, Node: id})
	}

	dev, err := s.dm.GetDevice(op.Device)
	if err != nil {
		s.OnOperationFailed(op.ID(), fmt.Errorf("scheduler: resolve device %v: %w", op.Device, err))
		return
	}
	if err := dev.PushTask(s.dispatchCtx, t); err != nil {
		s.OnOperationFailed(op.ID(), fmt.Errorf("scheduler: push task to device %v: %w", op.Device, err))
	}
}

// complete runs the completion step for id, whose Task finished (or was
// reported failed) on a device. It is always called with id's
// nodelock.ForNode scope already held.
func (s *Scheduler) complete(id dag.NodeID, n dag.Node) {
	s.failMu.Lock()
	failErr, isFail := s.failed[id]
	delete(s.failed, id)
	s.failMu.Unlock()

	info := s.rit.At(id)
	if isFail {
		info.State = rit.Failed
	} else {
		info.State = rit.Completed
	}

	var toDispose []dag.Node

	switch node := n.(type) {
	case *dag.OpNode:
		toDispose = append(toDispose, s.completeOp(node)...)
	case *dag.DataNode:
		toDispose = append(toDispose, s.completeData(id, node, info)...)
	}

	var propagateErr error
	if isFail {
		propagateErr = failErr
	}
	s.advanceSuccessors(n, propagateErr)

	s.finishMu.Lock()
	if s.counted[id] {
		s.numNodesYetToFinish--
		delete(s.counted, id)
	}
	if isFail {
		s.errs[id] = failErr
		if s.firstErr == nil {
			s.firstErr = failErr
		}
	}
	notify := s.numNodesYetToFinish == 0 || (s.hasTarget && s.target == id)
	if notify {
		s.finishCond.Broadcast()
	}
	s.finishMu.Unlock()

	for _, dead := range toDispose {
		s.dispose(dead)
	}
}

// completeOp runs the predecessor-refcount update for an OpNode's
// completion: each input DataNode loses one live consumer.
func (s *Scheduler) completeOp(op *dag.OpNode) []dag.Node {
	if s.rit.At(op.ID()).ReferenceCount == 0 {
		panic(fmt.Sprintf("scheduler: invariant violation: op %d has no live outputs at its own completion", op.ID()))
	}

	var dead []dag.Node

	for _, predID := range op.Inputs {
		pinfo := s.rit.At(predID)
		if pinfo.NumTriggersNeeded != 0 {
			panic(fmt.Sprintf("scheduler: invariant violation: predecessor %d has pending triggers at op %d completion", predID, op.ID()))
		}
		pinfo.ReferenceCount--

		predNode, _ := s.dag.GetNode(predID)
		pdn := predNode.(*dag.DataNode)
		// This op has now fully consumed pdn; drop the edge so a later
		// NeighborsOf(pdn) never names an op that may since have been
		// removed from the graph entirely.
		s.dag.DisconnectConsumer(predID, op.ID())

		if pinfo.ReferenceCount == 0 && pdn.ExternRC == 0 {
			dead = append(dead, s.removeNode(predID))
		}
	}

	return dead
}

// completeData runs the predecessor-refcount update for a DataNode's
// completion (its producer op loses one live output) and, if the node
// itself already has no consumers and no external holders, frees it
// immediately.
func (s *Scheduler) completeData(id dag.NodeID, dn *dag.DataNode, info *rit.Info) []dag.Node {
	if dn.Producer == 0 {
		panic(fmt.Sprintf("scheduler: invariant violation: leaf data node %d reached the completion step", id))
	}

	var dead []dag.Node

	predInfo := s.rit.At(dn.Producer)
	if predInfo.State != rit.Completed && predInfo.State != rit.Failed {
		panic(fmt.Sprintf("scheduler: invariant violation: producer %d of %d is not terminal", dn.Producer, id))
	}
	if predInfo.NumTriggersNeeded != 0 {
		panic(fmt.Sprintf("scheduler: invariant violation: producer %d of %d has pending triggers at completion", dn.Producer, id))
	}
	predInfo.ReferenceCount--
	if predInfo.ReferenceCount == 0 {
		// Op nodes carry no device memory; just remove from the DAG.
		dead = append(dead, s.removeNode(dn.Producer))
	}

	if info.ReferenceCount == 0 && dn.ExternRC == 0 {
		dead = append(dead, s.removeNode(id))
	}

	return dead
}

// advanceSuccessors decrements each successor's trigger count and, once a
// successor has none left, pushes it for dispatch: a real ToRun if n and
// every other predecessor resolved normally, or straight to the completion
// step (as poisoned) if n failed or some other predecessor already
// poisoned the successor first. Poisoning is recorded in s.failed the
// moment it is known, but the trigger count is still decremented exactly
// as on the success path — so a fan-in successor with one poisoned input
// and one still-running input waits for the running input to finish
// before it completes (as poisoned), the same way it would wait to
// dispatch on the success path. This keeps completeOp's invariant that
// every input of a completing op has already reached a terminal RIT state
// true in both the success and failure cases.
func (s *Scheduler) advanceSuccessors(n dag.Node, failErr error) {
	for _, succID := range n.Successors() {
		sinfo := s.rit.At(succID)

		if failErr != nil {
			s.failMu.Lock()
			if _, already := s.failed[succID]; !already {
				s.failed[succID] = failErr
			}
			s.failMu.Unlock()
		}

		sinfo.NumTriggersNeeded--
		if sinfo.State != rit.Ready || sinfo.NumTriggersNeeded != 0 {
			continue
		}

		s.failMu.Lock()
		_, poisoned := s.failed[succID]
		s.failMu.Unlock()

		kind := dispatchqueue.ToRun
		if poisoned {
			kind = dispatchqueue.ToComplete
		}
		s.countAndPush(succID, kind)
	}
}

// removeNode removes id from the DAG and RIT and clears its scheduler-side
// bookkeeping. The caller still holds id's nodelock scope.
func (s *Scheduler) removeNode(id dag.NodeID) dag.Node {
	removed := s.dag.RemoveNodeFromDag(id)
	s.rit.RemoveNode(id)

	s.finishMu.Lock()
	delete(s.errs, id)
	s.finishMu.Unlock()

	return removed
}

// dispose releases a node's resources outside the nodelock scope that
// observed it become dead, exactly as the dispatcher's completion step
// documents (ownership transfer happens inside the lock; disposal happens
// outside it).
func (s *Scheduler) dispose(n dag.Node) {
	dn, ok := n.(*dag.DataNode)
	if !ok {
		return
	}
	pd := device.PhysicalData{Device: dn.Device, Data: dn.Data}
	if err := s.dm.FreeData(s.dispatchCtx, pd); err != nil {
		s.log.Error("scheduler: failed to free device data", "node", dn.ID(), "error", err)
	}
}
