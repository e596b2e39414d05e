package vm

import "github.com/go-pintos/kernelcore/kernel"

const (
	// UserStackTop is the fixed virtusl top-of-stack address every
	// process's initial user stack is built below (spec.md §4.3's exec
	// stack setup).
	UserStackTop = 0x47480000

	// stackGrowthLimit bounds how far below UserStackTop a fault may grow
	// the stack (spec.md §4.4's "within 1 MiB of the user-stack top").
	stackGrowthLimit = 1 << 20

	// KernelBase is the simulated boundary between user and kernel
	// address ranges.
	KernelBase = uintptr(1) << 47
)

// HandleFault implements spec.md §4.4's page-fault handler: reject
// clearly-invalid addresses, grow the stack if the heuristic matches,
// locate the page in the SPT, reject writes to read-only pages, and
// otherwise claim (fault in) the page. Returns a non-nil error exactly
// when the fault should terminate the owning process with exit_status
// -1, per spec.md §4.4's "Failure in the fault path terminates the
// offending process ... it must not propagate into the scheduler."
func (as *AddressSpace) HandleFault(addr uintptr, user, write, notPresent bool, userRSP uintptr) error {
	if !notPresent {
		return &kernel.BadPointerError{Addr: addr, Op: "write to a present read-only mapping"}
	}
	if addr == 0 {
		return &kernel.BadPointerError{Addr: addr, Op: "null pointer dereference"}
	}
	if user && addr >= KernelBase {
		return &kernel.BadPointerError{Addr: addr, Op: "user access to kernel address"}
	}

	va := pageAlign(addr)
	if _, ok := as.Lookup(va); !ok {
		if !isStackGrowth(addr, userRSP) {
			return &kernel.BadPointerError{Addr: addr, Op: "unmapped page fault"}
		}
		if err := as.AllocAnonPage(va, true); err != nil {
			return err
		}
	}

	p, _ := as.Lookup(va)
	if write && !p.Writable {
		return &kernel.BadPointerError{Addr: addr, Op: "write to read-only page"}
	}

	as.mu.Lock()
	err := as.claim(p)
	as.mu.Unlock()
	return err
}

// isStackGrowth reports whether a fault at addr, with the user stack
// pointer at userRSP, looks like a legitimate stack-growth access:
// no more than 8 bytes below userRSP (the range a PUSH instruction can
// touch before the fault is reported), and within stackGrowthLimit of
// UserStackTop (spec.md §4.4; §8's boundary behavior: exactly 8 bytes
// below succeeds, 9 fails).
func isStackGrowth(addr, userRSP uintptr) bool {
	if addr+8 < userRSP {
		return false
	}
	if addr > UserStackTop {
		return false
	}
	return UserStackTop-addr <= stackGrowthLimit
}
