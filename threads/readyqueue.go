package threads

import "sort"

// readyQueue holds every Ready thread, ordered by descending effective
// priority and FIFO within a priority tier (spec.md §4.1's "the ready list
// is a priority list: the highest-priority ready thread runs next, ties
// broken by arrival order"). Implemented as a flat slice with
// insertion-sort placement rather than one list per priority level,
// because spec.md's priority range (0..63) is small and the simulation
// never runs enough threads for O(n) insertion to matter; see
// scheduler.go for the yield-requeue-at-tail behavior this must support.
type readyQueue struct {
	items []*Thread
}

func newReadyQueue() *readyQueue {
	return &readyQueue{}
}

// push inserts t in priority order, after every existing thread of equal
// or higher priority (preserving FIFO order within a tier).
func (q *readyQueue) push(t *Thread) {
	pri := t.effectivePriority
	idx := sort.Search(len(q.items), func(i int) bool {
		return q.items[i].effectivePriority < pri
	})
	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = t
}

// popFront removes and returns the highest-priority, longest-waiting
// thread. Returns nil if the queue is empty.
func (q *readyQueue) popFront() *Thread {
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t
}

// peek returns the front thread without removing it, or nil.
func (q *readyQueue) peek() *Thread {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *readyQueue) len() int { return len(q.items) }

// remove deletes t from the queue if present, used when a thread's
// priority changes while still queued or it's being torn down.
func (q *readyQueue) remove(t *Thread) bool {
	for i, cur := range q.items {
		if cur == t {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// maxPriority returns the effective priority of the front thread, or -1 if
// empty — used to decide whether a just-unblocked or priority-raised
// thread should preempt the current one (spec.md §4.1's "priority
// scheduling is preemptive: a thread that becomes ready with higher
// priority than the running thread must be scheduled immediately").
func (q *readyQueue) maxPriority() int {
	if len(q.items) == 0 {
		return -1
	}
	return q.items[0].effectivePriority
}

// reorder re-sorts the queue by current effective priority, stable on
// existing relative order for equal priorities. Used after the MLFQ
// recalculation pass, which can change many threads' priorities in one
// step (spec.md §4.1's every-4-ticks recompute).
func (q *readyQueue) reorder() {
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].effectivePriority > q.items[j].effectivePriority
	})
}
