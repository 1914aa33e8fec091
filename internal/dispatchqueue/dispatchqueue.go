// Package dispatchqueue implements the dispatcher's MPSC work queue: an
// unbounded slice-backed queue of (TaskKind, NodeID) items plus an
// idempotent kill signal.
package dispatchqueue

import (
	"context"
	"sync"

	"github.com/vk/tensorsched/internal/dag"
)

// TaskKind distinguishes the two kinds of work the dispatcher processes.
type TaskKind int

const (
	// ToRun asks the dispatcher to dispatch an OpNode to its device, or —
	// degenerate case — to run the completion step directly for a DataNode.
	ToRun TaskKind = iota
	// ToComplete asks the dispatcher to run the completion step for the
	// named node.
	ToComplete
)

func (k TaskKind) String() string {
	if k == ToRun {
		return "to_run"
	}
	return "to_complete"
}

// Item is one unit of dispatcher work.
type Item struct {
	Kind TaskKind
	Node dag.NodeID
}

// Queue is the dispatcher's single-consumer work queue. Push is safe for
// concurrent use by many producers (client threads creating ops, device
// threads reporting completion) and never blocks, regardless of queue
// depth: the dispatcher goroutine is itself one of Push's callers
// (advanceSuccessors pushes newly-ready successors from inside the
// completion step it runs on its own loop), so a Push that could block on a
// full buffer would be a self-deadlock the moment fan-out outran that
// buffer's capacity. Items are held in a plain growable slice guarded by
// mu; wake-ups are signaled on notify rather than carrying the item itself.
type Queue struct {
	mu     sync.Mutex
	items  []Item
	notify chan struct{}
	kill   chan struct{}
	once   sync.Once
}

// New creates an empty Queue. The buffer argument is accepted for backward
// source compatibility with call sites that sized a channel buffer, but no
// longer bounds anything: the backing slice grows to whatever depth the
// dispatcher falls behind by.
func New(buffer int) *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		kill:   make(chan struct{}),
	}
}

// Push enqueues an item and wakes a blocked Pop, if any. It never blocks.
func (q *Queue) Push(item Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until an item arrives or the queue is killed or ctx is done.
// ok is false only when the queue has been killed (and fully drained) or
// ctx ended first — the dispatcher's signal to stop looping.
func (q *Queue) Pop(ctx context.Context) (Item, bool) {
	for {
		if item, ok := q.dequeue(); ok {
			return item, true
		}

		select {
		case <-q.notify:
			continue
		case <-q.kill:
			if item, ok := q.dequeue(); ok {
				return item, true
			}
			return Item{}, false
		case <-ctx.Done():
			return Item{}, false
		}
	}
}

func (q *Queue) dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Kill signals the queue for shutdown. It is idempotent: calling it more
// than once has no additional effect.
func (q *Queue) Kill() {
	q.once.Do(func() {
		close(q.kill)
	})
}

// Len reports the number of items currently queued, for telemetry only —
// it is stale the instant it returns under any concurrent Push/Pop.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
