package userprog

import "sync"

// Table is the process table: every live Process keyed by pid (the
// underlying thread's ID — a process is a thread carrying process-mode
// fields, per spec.md §3). Grounded on threads/table.go /
// eventloop/registry.go's id-keyed map-plus-mutex shape.
type Table struct {
	mu    sync.Mutex
	byPID map[uint64]*Process
}

// NewTable returns an empty process table.
func NewTable() *Table {
	return &Table{byPID: make(map[uint64]*Process)}
}

func (t *Table) register(p *Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPID[p.PID] = p
}

func (t *Table) remove(pid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPID, pid)
}

// Lookup returns the process with the given pid, if still live.
func (t *Table) Lookup(pid uint64) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byPID[pid]
	return p, ok
}
