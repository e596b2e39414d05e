package vm

import (
	"sync"

	"github.com/go-pintos/kernelcore/devices"
	"github.com/go-pintos/kernelcore/kernel"
)

// sectorsPerSlot is the number of consecutive disk sectors one swap slot
// occupies: PageSize / devices.SectorSize = 4096/512 = 8 (spec.md §4.4's
// "a page occupies 8 consecutive sectors").
const sectorsPerSlot = PageSize / devices.SectorSize

// SwapSpace is the anonymous-page swap area: a bitmap of slot occupancy
// over a block device, scanned-and-flipped under a single lock (spec.md
// §5's "Swap bitmap: protected by a swap lock").
type SwapSpace struct {
	mu     sync.Mutex
	disk   devices.Disk
	bitmap []bool // true = occupied
}

// NewSwapSpace partitions disk into PageSize-sized slots, all initially
// free. Swap state is never persisted across restarts (spec.md §6: "Not
// persisted across reboot").
func NewSwapSpace(disk devices.Disk) *SwapSpace {
	slots := disk.SectorCount() / sectorsPerSlot
	return &SwapSpace{disk: disk, bitmap: make([]bool, slots)}
}

// SlotCount returns the total number of swap slots.
func (s *SwapSpace) SlotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bitmap)
}

// FreeSlotCount returns the number of unoccupied slots.
func (s *SwapSpace) FreeSlotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, used := range s.bitmap {
		if !used {
			n++
		}
	}
	return n
}

func (s *SwapSpace) allocSlot() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, used := range s.bitmap {
		if !used {
			s.bitmap[i] = true
			return i, true
		}
	}
	return -1, false
}

func (s *SwapSpace) freeSlot(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitmap[slot] = false
}

// swapOut writes p's frame contents to a freshly allocated slot and
// records it on p, per spec.md §4.4's ANON eviction case. Swap exhaustion
// is a panic, per spec.md §7's explicit "no graceful degradation" design
// choice.
func (s *SwapSpace) swapOut(p *Page) error {
	slot, ok := s.allocSlot()
	if !ok {
		kernel.Panic("swap space exhausted", kernel.ErrSwapExhausted)
	}
	for i := 0; i < sectorsPerSlot; i++ {
		sector := int64(slot*sectorsPerSlot + i)
		buf := p.Frame.Data[i*devices.SectorSize : (i+1)*devices.SectorSize]
		if err := s.disk.WriteSector(sector, buf); err != nil {
			return err
		}
	}
	p.SwapSlot = slot
	return nil
}

// swapIn reads p's swapped-out contents back into its (already attached)
// frame and frees the slot, per spec.md §8's round-trip law: swap_out
// followed by swap_in yields byte-identical contents.
func (s *SwapSpace) swapIn(p *Page) error {
	slot := p.SwapSlot
	for i := 0; i < sectorsPerSlot; i++ {
		sector := int64(slot*sectorsPerSlot + i)
		buf := p.Frame.Data[i*devices.SectorSize : (i+1)*devices.SectorSize]
		if err := s.disk.ReadSector(sector, buf); err != nil {
			return err
		}
	}
	s.freeSlot(slot)
	p.SwapSlot = -1
	return nil
}
