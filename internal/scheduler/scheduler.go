package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vk/tensorsched/internal/compute"
	"github.com/vk/tensorsched/internal/ctxlog"
	"github.com/vk/tensorsched/internal/dag"
	"github.com/vk/tensorsched/internal/device"
	"github.com/vk/tensorsched/internal/dispatchqueue"
	"github.com/vk/tensorsched/internal/handle"
	"github.com/vk/tensorsched/internal/nodelock"
	"github.com/vk/tensorsched/internal/placement"
	"github.com/vk/tensorsched/internal/rit"
	"github.com/vk/tensorsched/internal/task"
	"github.com/vk/tensorsched/internal/tensorshape"
)

// Scheduler is the runtime DAG engine. It must be constructed with New and
// closed with Close before the process exits.
type Scheduler struct {
	dag *dag.Graph
	rit *rit.Table
	dm  device.Manager
	log *slog.Logger

	queue *dispatchqueue.Queue

	finishMu            sync.Mutex
	finishCond          *sync.Cond
	numNodesYetToFinish int
	counted             map[dag.NodeID]bool
	hasTarget           bool
	target              dag.NodeID
	errs                map[dag.NodeID]error
	firstErr            error

	failMu sync.Mutex
	failed map[dag.NodeID]error

	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc
	dispatcherDone chan struct{}
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithQueueBuffer replaces the dispatcher queue with one built by
// dispatchqueue.New(n). The queue is unbounded, so n does not limit its
// depth.
func WithQueueBuffer(n int) Option {
	return func(s *Scheduler) { s.queue = dispatchqueue.New(n) }
}

// New constructs a Scheduler over dm and starts its dispatcher goroutine.
// dm.RegisterListener is called once, with the new Scheduler itself.
func New(dm device.Manager, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		dag:            dag.New(),
		rit:            rit.New(),
		dm:             dm,
		log:            slog.Default(),
		queue:          dispatchqueue.New(256),
		counted:        make(map[dag.NodeID]bool),
		errs:           make(map[dag.NodeID]error),
		failed:         make(map[dag.NodeID]error),
		dispatchCtx:    ctx,
		dispatchCancel: cancel,
		dispatcherDone: make(chan struct{}),
	}
	s.finishCond = sync.NewCond(&s.finishMu)

	for _, opt := range opts {
		opt(s)
	}

	dm.RegisterListener(s)
	go s.dispatchLoop()

	return s
}

// Create allocates one DataNode per entry in resultSizes on hint.Device,
// allocates an OpNode wired from params to those results carrying fn, and
// evaluates processIfReady on the new op. It returns one fresh client
// handle per result DataNode.
//
// All parameter handles must reference live nodes. A zero-length
// resultSizes or a zero-element shape in it is client misuse and panics,
// per the documented error taxonomy.
func (s *Scheduler) Create(ctx context.Context, params []*handle.Handle, resultSizes []tensorshape.Shape, fn compute.Fn, hint placement.Hint) ([]*handle.Handle, error) {
	log := ctxlog.FromContext(ctx)

	if len(resultSizes) == 0 {
		panic("scheduler: Create: an op must declare at least one result")
	}

	paramIDs := make([]dag.NodeID, len(params))
	for i, p := range params {
		paramIDs[i] = p.NodeID()
	}

	lock := nodelock.ForCreate(s.dag, paramIDs)
	defer lock.Unlock()

	outputs := make([]dag.NodeID, len(resultSizes))
	for i, shape := range resultSizes {
		if shape.Prod() == 0 {
			panic(fmt.Sprintf("scheduler: Create: result %d has zero-element shape %v", i, shape))
		}

		pd, err := s.dm.Allocate(ctx, hint.Device, shape.Prod())
		if err != nil {
			return nil, fmt.Errorf("scheduler: allocate result %d: %w", i, err)
		}

		dn := s.dag.NewDataNode(hint.Device, pd.Data, shape)
		s.rit.AddNode(dn.ID())
		outputs[i] = dn.ID()
	}

	op := s.dag.NewOpNode(hint.Device, fn, paramIDs, outputs)
	opInfo := s.rit.AddNode(op.ID())

	// A param listed more than once adds one reference per occurrence
	// (completeOp releases one per occurrence) but only one trigger, since
	// its completion decrements each distinct consumer once.
	triggered := make(map[dag.NodeID]bool, len(paramIDs))
	for _, pid := range paramIDs {
		pinfo := s.rit.At(pid)
		pinfo.ReferenceCount++
		if pinfo.State == rit.Ready && !triggered[pid] {
			opInfo.NumTriggersNeeded++
			triggered[pid] = true
		}
	}

	for _, oid := range outputs {
		opInfo.ReferenceCount++
		// The op is always Ready (freshly created), so every output starts
		// with exactly one outstanding trigger: its own producer.
		s.rit.At(oid).NumTriggersNeeded++
	}

	handles := make([]*handle.Handle, len(outputs))
	for i, oid := range outputs {
		dn, _ := s.dag.GetNode(oid)
		dn.(*dag.DataNode).ExternRC = 1
		handles[i] = handle.New(oid, s.OnExternRCUpdate)
	}

	log.Debug("scheduler: created op", "op", op.ID(), "fn", fn.Name, "inputs", paramIDs, "outputs", outputs)
	s.processIfReady(op.ID(), opInfo)

	return handles, nil
}

// Wait blocks until the DataNode behind h reaches Completed or Failed. Only
// one goroutine may hold an outstanding Wait at a time; calling Wait while
// another is outstanding is client misuse and panics.
func (s *Scheduler) Wait(ctx context.Context, h *handle.Handle) error {
	s.finishMu.Lock()
	defer s.finishMu.Unlock()

	if s.hasTarget {
		panic("scheduler: Wait: another Wait is already outstanding")
	}
	s.hasTarget = true
	s.target = h.NodeID()
	defer func() {
		s.hasTarget = false
		s.target = 0
	}()

	stop := make(chan struct{})
	defer close(stop)
	go s.wakeOnDone(ctx, stop)

	for {
		state := s.rit.GetState(h.NodeID())
		if state == rit.Completed || state == rit.Failed {
			return s.errs[h.NodeID()]
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.finishCond.Wait()
	}
}

// wakeOnDone broadcasts on finishCond once ctx is done, so a Wait or
// WaitForAll loop blocked in finishCond.Wait() re-checks its exit condition
// instead of sleeping past a canceled or deadlined context. It returns once
// ctx is done or stop is closed, whichever happens first.
func (s *Scheduler) wakeOnDone(ctx context.Context, stop <-chan struct{}) {
	select {
	case <-ctx.Done():
		s.finishMu.Lock()
		s.finishCond.Broadcast()
		s.finishMu.Unlock()
	case <-stop:
	}
}

// WaitForAll blocks until every node currently tracked by the scheduler has
// reached a terminal state. It panics if called while a targeted Wait is
// outstanding.
func (s *Scheduler) WaitForAll(ctx context.Context) error {
	s.finishMu.Lock()
	defer s.finishMu.Unlock()

	if s.hasTarget {
		panic("scheduler: WaitForAll: a targeted Wait is already outstanding")
	}

	stop := make(chan struct{})
	defer close(stop)
	go s.wakeOnDone(ctx, stop)

	for s.numNodesYetToFinish > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.finishCond.Wait()
	}
	return s.firstErr
}

// GetValue materializes a host-side copy of the DataNode behind h. It does
// not alter scheduler state and may be called only after Wait(h) (or
// WaitForAll) has observed completion.
func (s *Scheduler) GetValue(ctx context.Context, h *handle.Handle) ([]float32, error) {
	lock := nodelock.ForNode(s.dag, h.NodeID())
	defer lock.Unlock()

	n, ok := s.dag.GetNode(h.NodeID())
	if !ok {
		panic(fmt.Sprintf("scheduler: GetValue: node %d no longer exists", h.NodeID()))
	}
	dn, ok := n.(*dag.DataNode)
	if !ok {
		panic(fmt.Sprintf("scheduler: GetValue: node %d is not a DataNode", h.NodeID()))
	}

	pd := device.PhysicalData{Device: dn.Device, Data: dn.Data}
	return s.dm.GetPtr(ctx, pd, dn.Shape.Prod())
}

// OnExternRCUpdate is the client-handle drop callback: it decrements id's
// extern_rc and, if the node is Completed or Failed with zero reference
// count and zero extern_rc, frees and removes it.
func (s *Scheduler) OnExternRCUpdate(id dag.NodeID) {
	var dead dag.Node

	func() {
		lock := nodelock.ForNode(s.dag, id)
		defer lock.Unlock()

		n, ok := s.dag.GetNode(id)
		if !ok {
			panic(fmt.Sprintf("scheduler: OnExternRCUpdate: node %d no longer exists", id))
		}
		dn, ok := n.(*dag.DataNode)
		if !ok {
			panic(fmt.Sprintf("scheduler: OnExternRCUpdate: node %d is not a DataNode", id))
		}
		dn.ExternRC--

		info := s.rit.At(id)
		switch info.State {
		case rit.Ready:
			return
		case rit.Completed, rit.Failed:
			if info.ReferenceCount == 0 && dn.ExternRC == 0 {
				dead = s.removeNode(id)
			}
		default:
			panic(fmt.Sprintf("scheduler: OnExternRCUpdate: node %d in impossible state %v", id, info.State))
		}
	}()

	// Disposal happens outside the node lock, mirroring the dispatcher's
	// own completion step.
	if dead != nil {
		s.dispose(dead)
	}
}

// OnOperationComplete satisfies device.Listener. It enqueues the completion
// step for t.ID.
func (s *Scheduler) OnOperationComplete(t *task.Task) {
	s.queue.Push(dispatchqueue.Item{Kind: dispatchqueue.ToComplete, Node: t.ID})
}

// OnOperationFailed satisfies device.Listener. It records err for id and
// enqueues the completion step, which will process id as poisoned rather
// than successfully completed.
func (s *Scheduler) OnOperationFailed(id dag.NodeID, err error) {
	s.failMu.Lock()
	s.failed[id] = err
	s.failMu.Unlock()

	s.queue.Push(dispatchqueue.Item{Kind: dispatchqueue.ToComplete, Node: id})
}

// QueueDepth reports the dispatcher queue's current buffered item count.
// Satisfies telemetry.Source.
func (s *Scheduler) QueueDepth() int {
	return s.queue.Len()
}

// LiveNodeCount reports the number of nodes currently tracked in the DAG.
// Satisfies telemetry.Source.
func (s *Scheduler) LiveNodeCount() int {
	return s.dag.Len()
}

// Close waits for all outstanding work, then stops the dispatcher.
func (s *Scheduler) Close(ctx context.Context) error {
	if err := s.WaitForAll(ctx); err != nil {
		return err
	}
	s.queue.Kill()
	s.dispatchCancel()

	select {
	case <-s.dispatcherDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
