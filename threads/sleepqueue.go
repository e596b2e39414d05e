package threads

import "container/heap"

// sleepEntry is one thread waiting for a wake tick.
type sleepEntry struct {
	thread *Thread
	wake   uint64
	index  int
}

// sleepHeap is a container/heap min-heap ordered by wake tick, grounded on
// eventloop's timerHeap — the same "cheapest way to find the next thing to
// fire" shape, generalized from callback timers to sleeping threads
// (spec.md §4.1's timer_sleep/timer interrupt handler).
type sleepHeap []*sleepEntry

func (h sleepHeap) Len() int            { return len(h) }
func (h sleepHeap) Less(i, j int) bool  { return h[i].wake < h[j].wake }
func (h sleepHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *sleepHeap) Push(x any) {
	e := x.(*sleepEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *sleepHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// sleepQueue wraps sleepHeap with the thread→entry index needed to cancel
// a sleep early (a thread killed or otherwise removed while sleeping).
type sleepQueue struct {
	h      sleepHeap
	byThrd map[*Thread]*sleepEntry
}

func newSleepQueue() *sleepQueue {
	return &sleepQueue{byThrd: make(map[*Thread]*sleepEntry)}
}

// add schedules t to wake at tick wake.
func (q *sleepQueue) add(t *Thread, wake uint64) {
	e := &sleepEntry{thread: t, wake: wake}
	heap.Push(&q.h, e)
	q.byThrd[t] = e
}

// remove cancels t's pending sleep, if any.
func (q *sleepQueue) remove(t *Thread) {
	e, ok := q.byThrd[t]
	if !ok {
		return
	}
	heap.Remove(&q.h, e.index)
	delete(q.byThrd, t)
}

// due pops and returns every thread whose wake tick is <= now, in wake
// order.
func (q *sleepQueue) due(now uint64) []*Thread {
	var out []*Thread
	for q.h.Len() > 0 && q.h[0].wake <= now {
		e := heap.Pop(&q.h).(*sleepEntry)
		delete(q.byThrd, e.thread)
		out = append(out, e.thread)
	}
	return out
}

// nextWake returns the earliest pending wake tick and true, or 0, false if
// nothing is sleeping. Tick() does not call it: due() already stops after
// checking the heap root when nothing is due.
func (q *sleepQueue) nextWake() (uint64, bool) {
	if q.h.Len() == 0 {
		return 0, false
	}
	return q.h[0].wake, true
}
