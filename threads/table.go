package threads

import "sync"

// table is the monotonic-id, mutex-guarded thread registry every Scheduler
// owns, grounded on eventloop/registry.go's id-allocator + map[id]entry
// shape. Unlike registry.go's timer/job bookkeeping, nothing here is ever
// garbage-collected behind the caller's back — a Thread leaves the table
// only when Scheduler explicitly reaps it on exit, since spec.md §3 treats
// thread identity as caller-managed, not a scavenged weak reference (see
// DESIGN.md "Dropped idioms").
type table struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]*Thread
}

func newTable() *table {
	return &table{byID: make(map[uint64]*Thread)}
}

// insert assigns t the next id, registers it, and returns the id.
func (tb *table) insert(t *Thread) uint64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.nextID++
	id := tb.nextID
	t.ID = id
	tb.byID[id] = t
	return id
}

func (tb *table) lookup(id uint64) (*Thread, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	t, ok := tb.byID[id]
	return t, ok
}

func (tb *table) remove(id uint64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.byID, id)
}

// all returns a snapshot slice of every registered thread, in no particular
// order. Used by the MLFQ recalculation passes, which visit every thread
// every 4 ticks and once per second (spec.md §4.1).
func (tb *table) all() []*Thread {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	out := make([]*Thread, 0, len(tb.byID))
	for _, t := range tb.byID {
		out = append(out, t)
	}
	return out
}

func (tb *table) count() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.byID)
}
