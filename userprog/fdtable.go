package userprog

import (
	"sync"

	"github.com/go-pintos/kernelcore/devices"
	"github.com/go-pintos/kernelcore/kernel"
)

// maxFDs bounds the number of descriptors a single process may hold open
// at once (spec.md §8 boundary: the 128th open succeeds, the 129th
// returns −1).
const maxFDs = 128

// FDTable is a process's file-descriptor table: fds 0 and 1 are reserved
// for stdin/stdout and never appear here; new descriptors start at 2 and
// are allocated monotonically (spec.md §3). Guarded by its own lock per
// spec.md §5's "FD-table allocation of a fresh number: under a
// process-wide lock".
type FDTable struct {
	mu    sync.Mutex
	files map[int]devices.File
	next  int
}

// NewFDTable returns an empty table, ready to allocate fds starting at 2.
func NewFDTable() *FDTable {
	return &FDTable{files: make(map[int]devices.File), next: 2}
}

// Install assigns f the next fd, or returns ErrFileDescriptorTableFull if
// the table is already at maxFDs.
func (t *FDTable) Install(f devices.File) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.files) >= maxFDs {
		return -1, kernel.ErrFileDescriptorTableFull
	}
	fd := t.next
	t.next++
	t.files[fd] = f
	return fd, nil
}

// Get returns the file installed at fd, if any.
func (t *FDTable) Get(fd int) (devices.File, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	return f, ok
}

// Close removes and closes fd, returning ErrBadFileDescriptor if absent.
func (t *FDTable) Close(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	if !ok {
		return kernel.ErrBadFileDescriptor
	}
	delete(t.files, fd)
	return f.Close()
}

// CloseAll closes every open fd, in the order the exit path of spec.md
// §4.3 requires ("Closes all FDs and frees the table").
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd, f := range t.files {
		f.Close()
		delete(t.files, fd)
	}
}

// Duplicate returns a new table with every entry re-opened to an
// independent position, for fork (spec.md §4.3: "duplicates every open
// file descriptor (each gets its own independent position)").
func (t *FDTable) Duplicate() *FDTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := NewFDTable()
	nt.next = t.next
	for fd, f := range t.files {
		nt.files[fd] = f.Duplicate()
	}
	return nt
}
