package vm

import (
	"sync"

	"github.com/go-pintos/kernelcore/devices"
	"github.com/go-pintos/kernelcore/kernel"
)

// AddressSpace is one process's private half of its virtual memory: the
// supplemental page table (spec.md §4.4's "hash keyed by page-aligned
// virtual address → page descriptor") plus the simulated hardware page
// map it installs resident mappings into. Shares the kernel-wide
// FrameTable and SwapSpace with every other AddressSpace.
type AddressSpace struct {
	mu      sync.Mutex
	pages   map[uintptr]*Page
	pageMap devices.PageMap

	frames *FrameTable
	swap   *SwapSpace
}

// NewAddressSpace creates an empty address space backed by the given
// shared frame table and swap space.
func NewAddressSpace(frames *FrameTable, swap *SwapSpace) *AddressSpace {
	return &AddressSpace{
		pages:   make(map[uintptr]*Page),
		pageMap: devices.NewPageMap(),
		frames:  frames,
		swap:    swap,
	}
}

func pageAlign(addr uintptr) uintptr { return addr &^ (PageSize - 1) }

// PageAlign rounds addr down to the nearest page boundary. Exported for
// callers outside this package (e.g. userprog's user-stack setup) that
// need to compute page-aligned addresses without duplicating the mask.
func PageAlign(addr uintptr) uintptr { return pageAlign(addr) }

// AllocPageWithInitializer registers a UNINIT page at va, per spec.md
// §4.4: no frame is attached until the page is first faulted.
func (as *AddressSpace) AllocPageWithInitializer(va uintptr, typeAfterInit Kind, writable bool, init Initializer, aux any) error {
	va = pageAlign(va)
	as.mu.Lock()
	defer as.mu.Unlock()
	if _, exists := as.pages[va]; exists {
		return &kernel.AssertionError{Msg: "vm: duplicate SPT entry"}
	}
	as.pages[va] = &Page{
		VA:            va,
		Writable:      writable,
		Kind:          Uninit,
		TypeAfterInit: typeAfterInit,
		Init:          init,
		Aux:           aux,
		SwapSlot:      -1,
	}
	return nil
}

// AllocAnonPage registers an already-ANON (not UNINIT) page at va, backed
// by nothing (zero-filled on first fault). Used by fork's eager page
// duplication and by stack growth.
func (as *AddressSpace) AllocAnonPage(va uintptr, writable bool) error {
	va = pageAlign(va)
	as.mu.Lock()
	defer as.mu.Unlock()
	if _, exists := as.pages[va]; exists {
		return &kernel.AssertionError{Msg: "vm: duplicate SPT entry"}
	}
	as.pages[va] = newAnonPage(va, writable)
	return nil
}

// Lookup returns the page descriptor covering addr, rounding down to the
// page boundary, per spec.md §4.4.
func (as *AddressSpace) Lookup(addr uintptr) (*Page, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	p, ok := as.pages[pageAlign(addr)]
	return p, ok
}

// claim ensures p has a resident frame, running its type-dispatched
// swapIn if it was not already resident (spec.md §4.4 step 5). Caller
// must hold as.mu.
func (as *AddressSpace) claim(p *Page) error {
	if p.Frame != nil {
		return nil
	}
	frame, err := as.frames.Alloc(as, p)
	if err != nil {
		return err
	}
	if err := p.swapIn(as); err != nil {
		as.frames.free(frame)
		return err
	}
	if !as.pageMap.SetPage(p.VA, frame.KVA, p.Writable) {
		as.pageMap.ClearPage(p.VA)
		as.pageMap.SetPage(p.VA, frame.KVA, p.Writable)
	}
	return nil
}

// readFileInto satisfies a FILE page's first fault (or its UNINIT
// init_fn calling back into FILE semantics): reads ReadBytes from File at
// FileOffset, zero-fills the remaining ZeroBytes, per spec.md §4.4 step 5.
func (as *AddressSpace) readFileInto(p *Page) error {
	buf := p.Frame.Data[:p.ReadBytes]
	p.File.Seek(p.FileOffset)
	if _, err := p.File.Read(buf); err != nil {
		return err
	}
	for i := p.ReadBytes; i < PageSize; i++ {
		p.Frame.Data[i] = 0
	}
	return nil
}

// writeBackFile writes a dirty FILE page's contents back to its backing
// file range on eviction, per spec.md §4.4's FILE eviction case.
func (as *AddressSpace) writeBackFile(p *Page) error {
	if !as.pageMap.IsDirty(p.VA) {
		return nil
	}
	p.File.Seek(p.FileOffset)
	if _, err := p.File.Write(p.Frame.Data[:p.ReadBytes]); err != nil {
		return err
	}
	as.pageMap.SetDirty(p.VA, false)
	return nil
}

// translate resolves addr to its backing frame and in-page byte offset,
// faulting the page in if it isn't yet resident. Returns BadPointerError
// if addr has no SPT entry at all (an unmapped access).
func (as *AddressSpace) translate(addr uintptr, forWrite bool) (*Frame, int, error) {
	va := pageAlign(addr)
	as.mu.Lock()
	p, ok := as.pages[va]
	if !ok {
		as.mu.Unlock()
		return nil, 0, &kernel.BadPointerError{Addr: addr, Op: "translate"}
	}
	if forWrite && !p.Writable {
		as.mu.Unlock()
		return nil, 0, &kernel.BadPointerError{Addr: addr, Op: "write to read-only page"}
	}
	if err := as.claim(p); err != nil {
		as.mu.Unlock()
		return nil, 0, err
	}
	as.pageMap.SetAccessed(va, true)
	frame := p.Frame
	as.mu.Unlock()
	return frame, int(addr - va), nil
}

// ReadUser copies len(buf) bytes starting at addr out of user memory,
// faulting in pages as needed (spec.md §4.5's pointer-validation path
// calls this once addresses have been range-checked).
func (as *AddressSpace) ReadUser(addr uintptr, buf []byte) error {
	for len(buf) > 0 {
		frame, off, err := as.translate(addr, false)
		if err != nil {
			return err
		}
		n := copy(buf, frame.Data[off:])
		buf = buf[n:]
		addr += uintptr(n)
	}
	return nil
}

// WriteUser copies buf into user memory starting at addr, marking every
// touched page dirty.
func (as *AddressSpace) WriteUser(addr uintptr, buf []byte) error {
	for len(buf) > 0 {
		frame, off, err := as.translate(addr, true)
		if err != nil {
			return err
		}
		n := copy(frame.Data[off:], buf)
		as.mu.Lock()
		as.pageMap.SetDirty(pageAlign(addr), true)
		as.mu.Unlock()
		buf = buf[n:]
		addr += uintptr(n)
	}
	return nil
}

// ValidateRange checks that every page covering [addr, addr+length) has
// an SPT entry, without faulting any of them in — the syscall-boundary
// check of spec.md §4.4's "Address validation for syscalls".
func (as *AddressSpace) ValidateRange(addr uintptr, length int) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if length <= 0 {
		return nil
	}
	last := pageAlign(addr + uintptr(length) - 1)
	for va := pageAlign(addr); ; va += PageSize {
		if _, ok := as.pages[va]; !ok {
			bad := va
			if bad < addr {
				bad = addr
			}
			return &kernel.BadPointerError{Addr: bad, Op: "syscall argument"}
		}
		if va == last {
			return nil
		}
	}
}

// ForkInto duplicates every page of as into the freshly-created child
// address space, per spec.md §4.3's fork description: ANON pages are
// duplicated by copying frame contents, UNINIT descriptors are
// re-installed as-is, and FILE-backed ranges are re-opened (an
// independent file position, shared data) rather than copied.
func (as *AddressSpace) ForkInto(child *AddressSpace) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	for va, p := range as.pages {
		switch p.Kind {
		case Uninit:
			if err := child.AllocPageWithInitializer(va, p.TypeAfterInit, p.Writable, p.Init, p.Aux); err != nil {
				return err
			}

		case File:
			child.mu.Lock()
			child.pages[va] = &Page{
				VA: va, Writable: p.Writable, Kind: File,
				File: p.File.Reopen(), FileOffset: p.FileOffset,
				ReadBytes: p.ReadBytes, ZeroBytes: p.ZeroBytes,
				SwapSlot: -1,
			}
			child.mu.Unlock()

		case Anon:
			if err := child.AllocAnonPage(va, p.Writable); err != nil {
				return err
			}
			if err := as.claim(p); err != nil {
				return err
			}
			childPage, _ := child.Lookup(va)
			child.mu.Lock()
			err := child.claim(childPage)
			if err == nil {
				childPage.Frame.Data = p.Frame.Data
			}
			child.mu.Unlock()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Destroy tears down every page in the address space: resident ANON/FILE
// pages are written back or simply discarded (no swap slot need be
// allocated on exit, since the contents are no longer needed), and all
// frames are released to the shared frame table (spec.md §4.3's exit
// teardown: "address space torn down (which writes dirty file-backed
// pages and frees swap slots of ANON pages)").
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for va, p := range as.pages {
		if p.Kind == Anon && p.SwapSlot >= 0 {
			as.swap.freeSlot(p.SwapSlot)
		}
		if p.Frame != nil {
			if p.Kind == File {
				_ = as.writeBackFile(p)
			}
			as.frames.free(p.Frame)
			as.pageMap.ClearPage(va)
		}
	}
	as.pages = nil
	as.pageMap.Destroy()
}
