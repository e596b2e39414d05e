package vm

import (
	"sync"

	"github.com/go-pintos/kernelcore/kernel"
)

// Frame is a physical page descriptor: simulated physical memory backing
// one resident virtual page. Data holds the actual byte contents this
// simulation uses in place of a real physical page, so that swap
// round-trips and file write-back are byte-for-byte verifiable (spec.md
// §8's round-trip law).
type Frame struct {
	KVA   uintptr
	Data  [PageSize]byte
	Page  *Page
	owner *AddressSpace
}

// FrameTable is the global list of user frames, shared by every process's
// AddressSpace, with a clock hand scanning for an eviction victim.
// Grounded on catrate/ring.go's fixed-capacity ring buffer: a bounded
// slice plus a wraparound cursor, mutation under a single lock — the
// clock hand here is the identical shape, walked over resident frames
// instead of rate-limiter timestamps.
type FrameTable struct {
	mu        sync.Mutex
	frames    []*Frame
	clockHand int
}

// NewFrameTable creates a frame table with capacity physical frames, all
// initially free.
func NewFrameTable(capacity int) *FrameTable {
	frames := make([]*Frame, capacity)
	for i := range frames {
		frames[i] = &Frame{KVA: uintptr(i) * PageSize}
	}
	return &FrameTable{frames: frames}
}

// Capacity returns the total number of physical frames.
func (ft *FrameTable) Capacity() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.frames)
}

// FreeCount returns the number of currently-unoccupied frames.
func (ft *FrameTable) FreeCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, f := range ft.frames {
		if f.Page == nil {
			n++
		}
	}
	return n
}

// Alloc attaches a frame to page, evicting a victim via the clock
// algorithm if every frame is occupied (spec.md §4.4's frame-table
// eviction). The returned frame's Data is always zeroed; for a page being
// faulted back in from swap/file, the caller's swapIn then overwrites it.
func (ft *FrameTable) Alloc(owner *AddressSpace, page *Page) (*Frame, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	for _, f := range ft.frames {
		if f.Page == nil {
			ft.install(f, owner, page)
			return f, nil
		}
	}

	victim, err := ft.evictLocked()
	if err != nil {
		return nil, err
	}
	ft.install(victim, owner, page)
	return victim, nil
}

func (ft *FrameTable) install(f *Frame, owner *AddressSpace, page *Page) {
	f.Data = [PageSize]byte{}
	f.Page = page
	f.owner = owner
	page.Frame = f
}

// evictLocked runs the two-pass clock: a frame whose accessed bit is set
// is cleared and skipped once; a frame whose accessed bit is clear is
// evicted. Caller must hold ft.mu.
func (ft *FrameTable) evictLocked() (*Frame, error) {
	n := len(ft.frames)
	for scanned := 0; scanned < 2*n+1; scanned++ {
		f := ft.frames[ft.clockHand]
		ft.clockHand = (ft.clockHand + 1) % n

		if f.Page == nil {
			continue
		}
		if f.owner.pageMap.IsAccessed(f.Page.VA) {
			f.owner.pageMap.SetAccessed(f.Page.VA, false)
			continue
		}

		victimPage := f.Page
		victimOwner := f.owner
		if err := victimPage.swapOut(victimOwner); err != nil {
			return nil, err
		}
		victimOwner.pageMap.ClearPage(victimPage.VA)
		victimPage.Frame = nil
		f.Page = nil
		f.owner = nil
		return f, nil
	}
	kernel.Panic("vm: clock eviction scanned twice around without finding a victim", nil)
	panic("unreachable")
}

// free releases f back to the pool (used when a page's owning address
// space is destroyed without swapping the page out, e.g. process exit).
func (ft *FrameTable) free(f *Frame) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if f.Page != nil {
		f.Page.Frame = nil
	}
	f.Page = nil
	f.owner = nil
}
