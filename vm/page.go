// Package vm implements demand-paged virtual memory: the supplemental
// page table, frame table with clock eviction, anonymous swap, and
// file-backed write-back of spec.md §4.4. Grounded on
// original_source/vm for the UNINIT/ANON/FILE page lifecycle, and on
// catrate/ring.go for the frame table's bounded, cursor-scanned shape
// (see frametable.go).
package vm

import (
	"github.com/go-pintos/kernelcore/devices"
	"github.com/go-pintos/kernelcore/kernel"
)

// PageSize is the simulated hardware page size (4 KiB, matching the
// x86-64 target spec.md assumes throughout).
const PageSize = 4096

// Kind tags which variant a Page currently is. spec.md §9 calls for "a
// tagged variant with a dispatch table; no inheritance required" in place
// of the original's polymorphism over page types — this is that tag.
type Kind int

const (
	Uninit Kind = iota
	Anon
	File
)

func (k Kind) String() string {
	switch k {
	case Uninit:
		return "UNINIT"
	case Anon:
		return "ANON"
	case File:
		return "FILE"
	default:
		return "?"
	}
}

// Initializer populates a freshly-claimed page on its first fault,
// typically rewriting p's Kind to Anon or File before returning
// (spec.md §4.4's alloc_page_with_initializer/init_fn contract).
type Initializer func(p *Page, aux any) error

// Page is the supplemental page table's per-virtual-page descriptor. All
// three kinds share this struct (the tagged-variant pattern); only the
// fields relevant to p.Kind are meaningful at any moment.
type Page struct {
	VA       uintptr
	Writable bool
	Kind     Kind
	Frame    *Frame // nil iff not resident

	// UNINIT
	TypeAfterInit Kind
	Init          Initializer
	Aux           any

	// ANON
	SwapSlot int // -1 if not currently swapped out

	// FILE
	File       devices.File
	FileOffset int64
	ReadBytes  int
	ZeroBytes  int
}

// newAnonPage builds an already-resident-eligible ANON page descriptor
// with no swap slot assigned.
func newAnonPage(va uintptr, writable bool) *Page {
	return &Page{VA: va, Writable: writable, Kind: Anon, SwapSlot: -1}
}

// swapIn brings p into its Frame's backing storage according to its
// current Kind — the dispatch spec.md §9 calls for. Caller must have
// already attached a Frame to p (via FrameTable.Alloc) before calling.
func (p *Page) swapIn(as *AddressSpace) error {
	switch p.Kind {
	case Uninit:
		return p.Init(p, p.Aux)
	case Anon:
		if p.SwapSlot < 0 {
			// Never swapped out: the frame's zeroed Data is already
			// correct (fresh anonymous memory reads as zero).
			return nil
		}
		return as.swap.swapIn(p)
	case File:
		return as.readFileInto(p)
	default:
		kernel.Panic("vm: swapIn on page of unknown kind", nil)
		panic("unreachable")
	}
}

// swapOut evicts p's resident contents to their backing store, per the
// dispatch table of spec.md §4.4's frame-table eviction section.
func (p *Page) swapOut(as *AddressSpace) error {
	switch p.Kind {
	case Anon:
		return as.swap.swapOut(p)
	case File:
		return as.writeBackFile(p)
	case Uninit:
		kernel.Panic("vm: swapOut on an UNINIT page (never resident)", nil)
		panic("unreachable")
	default:
		kernel.Panic("vm: swapOut on page of unknown kind", nil)
		panic("unreachable")
	}
}
