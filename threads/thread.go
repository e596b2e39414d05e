package threads

import "github.com/go-pintos/kernelcore/kernel"

const (
	// PriMin and PriMax bound base_priority/effective_priority (spec.md §3: [0,63]).
	PriMin = 0
	PriMax = 63
	// PriDefault is the priority new threads get unless told otherwise.
	PriDefault = 31

	// NiceMin and NiceMax bound the MLFQ nice value (spec.md §3: [-20,20]).
	NiceMin = -20
	NiceMax = 20

	// MaxNameLen is the human-readable name length limit (spec.md §3: ≤15 chars).
	MaxNameLen = 15

	// donationMaxDepth bounds the priority-donation chain walk (spec.md §4.1,
	// §9: "bounded depth (8) to prevent kernel-stack blow-up from malformed
	// chains").
	donationMaxDepth = 8

	// threadMagic is the stack-overflow sentinel of spec.md §3 ("a sentinel
	// word at a known offset detects stack overflow"). There is no real
	// stack to overflow in this hosted simulation, so this is checked only
	// symbolically by assertAlive, as a faithful stand-in for the
	// kernel-panic-on-corruption behavior.
	threadMagic = 0xcd6abf4b
)

// EntryFunc is a thread's body. Unlike Pintos's thread_create, which
// obtains "the current thread" via a stack-pointer-masking trick
// (thread_current()), Go has no implicit thread-local storage, so the
// thread's own handle is passed explicitly as self. This is the one
// deliberate departure from spec.md's literal C signature; every operation
// that would read thread_current() in the original instead takes self.
type EntryFunc func(self *Thread, arg any)

// Thread is the unit of scheduling (spec.md §3).
type Thread struct {
	magic uint32

	ID   uint64
	Name string

	state State

	basePriority      int
	effectivePriority int

	// wakeTick is set by Sleep and is meaningful only while Blocked on the
	// sleep queue.
	wakeTick uint64

	// waitingLock is the lock this thread is blocked acquiring, if any —
	// the back-reference donation chains walk (spec.md §3).
	waitingLock *Lock

	// donors is the set of threads currently donating priority to this
	// thread, keyed by donor for O(1) membership/removal.
	donors map[*Thread]struct{}

	// heldLocks is this thread's locks-held set, maintained by Acquire,
	// TryAcquire and Release. recomputeEffective reads donors, not this set.
	heldLocks map[*Lock]struct{}

	// MLFQ fields, meaningful only when the owning Scheduler runs in MLFQ
	// mode (spec.md §3).
	nice      int
	recentCPu Fixed

	// ticksInSlice counts ticks since this thread last became RUNNING, for
	// TIME_SLICE (4-tick) preemption (spec.md §4.1).
	ticksInSlice int

	// UserData is an extension point for higher layers (userprog.Process)
	// to attach process-mode fields to a thread without threads importing
	// userprog, avoiding an import cycle between the scheduler and the
	// process layer it's generalized to serve.
	UserData any
}

func (t *Thread) String() string {
	return t.Name
}

// State returns the thread's current scheduling state.
func (t *Thread) State() State { return t.state }

// BasePriority returns the user-set priority, unaffected by donation.
func (t *Thread) BasePriority() int { return t.basePriority }

// EffectivePriority returns the priority actually used for scheduling
// decisions: max(base_priority, donation) (spec.md §3 invariant).
func (t *Thread) EffectivePriority() int { return t.effectivePriority }

// Nice returns the MLFQ nice value.
func (t *Thread) Nice() int { return t.nice }

// RecentCPU returns the MLFQ recent_cpu value.
func (t *Thread) RecentCPU() Fixed { return t.recentCPu }

// assertAlive panics (kernel-panic-style) if the stack-overflow sentinel
// has been corrupted. Called at points where a real Pintos build would
// have just read off the end of the thread's kernel stack.
func (t *Thread) assertAlive() {
	if t.magic != threadMagic {
		kernel.Panic("threads: stack overflow sentinel corrupted", nil)
	}
}

// recomputeEffective recalculates effective_priority from base_priority and
// the current donor set, per spec.md §3's invariant. Caller must hold the
// owning Scheduler's lock.
func (t *Thread) recomputeEffective() int {
	eff := t.basePriority
	for d := range t.donors {
		if d.effectivePriority > eff {
			eff = d.effectivePriority
		}
	}
	t.effectivePriority = eff
	return eff
}
