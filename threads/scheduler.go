package threads

import "sync"

const (
	// timeSliceTicks is TIME_SLICE from spec.md §4.1: ticks a thread may
	// run before a same-or-lower-priority peer gets a turn.
	timeSliceTicks = 4
	// timerFreq is TIMER_FREQ, the number of Tick() calls per simulated
	// second, used to pace the once-a-second MLFQ recalculation.
	timerFreq = 100
)

// Scheduler is the kernel's single scheduling domain: one ready queue, one
// sleep queue, and one thread table, all guarded by a single mutex that
// plays the role of spec.md §5's "interrupts disabled" critical section
// (see the threads package doc comment). Exactly one Thread is ever
// "current" at a time; every other live thread's goroutine is parked in
// waitTurnLocked, which only returns once the scheduler has chosen it.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	table  *table
	readyQ *readyQueue
	sleepQ *sleepQueue

	current *Thread
	idle    *Thread

	ticks uint64

	mlfqs   bool
	loadAvg Fixed

	// requestPreempt is set by Tick() when the running thread's time
	// slice has expired or a higher-priority thread just became ready. It
	// is honored cooperatively: the running thread observes it only when
	// it next calls CheckPreempt, since a hosted goroutine can't safely be
	// interrupted at an arbitrary instruction the way a real CPU can
	// (spec.md §9's hosted-target allowance; see DESIGN.md).
	requestPreempt bool

	hooks *testHooks
}

// NewScheduler creates a Scheduler with an idle placeholder thread already
// "current". mlfqs selects 4.4BSD MLFQ scheduling (spec.md §4.1); when
// false, the scheduler runs strict priority scheduling with donation.
func NewScheduler(mlfqs bool) *Scheduler {
	s := &Scheduler{
		table:  newTable(),
		readyQ: newReadyQueue(),
		sleepQ: newSleepQueue(),
		mlfqs:  mlfqs,
	}
	s.cond = sync.NewCond(&s.mu)
	s.idle = &Thread{magic: threadMagic, Name: "idle", basePriority: PriMin, effectivePriority: PriMin, state: Running}
	s.current = s.idle
	return s
}

// truncName clamps a thread name to MaxNameLen runes (spec.md §3).
func truncName(name string) string {
	r := []rune(name)
	if len(r) > MaxNameLen {
		r = r[:MaxNameLen]
	}
	return string(r)
}

// Current returns the thread the scheduler currently considers running.
// Safe to call from any goroutine, including the thread itself.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Idle returns the scheduler's placeholder idle thread.
func (s *Scheduler) Idle() *Thread { return s.idle }

// Ticks returns the number of Tick() calls so far.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

func (s *Scheduler) currentPriorityLocked() int {
	return s.current.effectivePriority
}

// Create spawns a new thread running fn(t, arg) at the given base
// priority (in MLFQ mode the next recalculation replaces it; see
// mlfq.go). The new thread inherits nice and recent_cpu from a non-nil
// creator and starts at zero for both otherwise. creator is the thread calling Create, or nil when called from
// a non-thread bootstrap context (e.g. before the scheduler's first
// thread exists); a non-nil creator that's lower priority than the new
// thread yields immediately, matching spec.md §4.1's thread_create
// preemption behavior.
func (s *Scheduler) Create(creator *Thread, name string, priority int, fn EntryFunc, arg any) *Thread {
	if priority < PriMin {
		priority = PriMin
	}
	if priority > PriMax {
		priority = PriMax
	}
	t := &Thread{
		magic:             threadMagic,
		Name:              truncName(name),
		basePriority:      priority,
		effectivePriority: priority,
		state:             Ready,
	}
	if creator != nil {
		t.nice = creator.nice
		t.recentCPu = creator.recentCPu
	}
	s.table.insert(t)

	s.mu.Lock()
	s.readyQ.push(t)
	preempt := s.current != s.idle && t.effectivePriority > s.currentPriorityLocked()
	if s.current == s.idle {
		s.scheduleLocked()
	}
	s.mu.Unlock()

	go func() {
		s.mu.Lock()
		s.waitTurnLocked(t)
		s.mu.Unlock()
		fn(t, arg)
		s.Exit(t)
	}()

	if preempt && creator != nil {
		s.Yield(creator)
	}
	return t
}

// waitTurnLocked blocks the calling goroutine until t is the scheduler's
// current thread. Caller must hold s.mu; it is released while waiting and
// reacquired before returning, per sync.Cond's contract.
func (s *Scheduler) waitTurnLocked(t *Thread) {
	for s.current != t {
		s.cond.Wait()
	}
}

// scheduleLocked picks the next thread to run: the highest-priority ready
// thread, or the idle thread if none are ready. Caller must hold s.mu.
func (s *Scheduler) scheduleLocked() {
	next := s.readyQ.popFront()
	if next == nil {
		next = s.idle
	}
	next.state = Running
	next.ticksInSlice = 0
	s.current = next
	s.cond.Broadcast()
}

// blockLocked transitions self (which must be s.current) to Blocked and
// schedules a replacement. Caller must hold s.mu; after this returns, the
// caller must call waitTurnLocked(self) to park until self runs again.
func (s *Scheduler) blockLocked(self *Thread) {
	self.assertAlive()
	self.state = Blocked
	s.scheduleLocked()
}

// unblockLocked makes t Ready and inserts it in the ready queue. If the
// CPU is currently idle, the newly-ready thread is scheduled immediately,
// since the idle thread has no goroutine of its own to voluntarily yield.
func (s *Scheduler) unblockLocked(t *Thread) {
	t.state = Ready
	s.readyQ.push(t)
	if s.current == s.idle {
		s.scheduleLocked()
	}
}

// Block puts self to sleep until some other thread calls Unblock on it.
// Used directly by higher layers (e.g. process wait) that need a raw
// block/unblock pair without semaphore bookkeeping.
func (s *Scheduler) Block(self *Thread) {
	s.mu.Lock()
	s.blockLocked(self)
	s.waitTurnLocked(self)
	s.mu.Unlock()
}

// Unblock makes a Blocked thread Ready again.
func (s *Scheduler) Unblock(t *Thread) {
	s.mu.Lock()
	s.unblockLocked(t)
	s.mu.Unlock()
}

// Yield voluntarily gives up the CPU: self moves to the back of its
// priority tier on the ready queue, and the calling goroutine blocks until
// the scheduler picks it again (spec.md §4.1's thread_yield).
func (s *Scheduler) Yield(self *Thread) {
	s.mu.Lock()
	self.assertAlive()
	if self != s.current {
		s.mu.Unlock()
		return
	}
	self.state = Ready
	s.readyQ.push(self)
	s.scheduleLocked()
	s.waitTurnLocked(self)
	s.mu.Unlock()
}

// Sleep blocks self until at least ticks timer interrupts have occurred
// (spec.md §4.1's timer_sleep). A non-positive ticks is a no-op.
func (s *Scheduler) Sleep(self *Thread, ticks int64) {
	if ticks <= 0 {
		return
	}
	s.mu.Lock()
	wake := s.ticks + uint64(ticks)
	self.wakeTick = wake
	s.sleepQ.add(self, wake)
	s.blockLocked(self)
	s.waitTurnLocked(self)
	s.mu.Unlock()
}

// CheckPreempt yields self if Tick() has requested a preemption since
// self last checked. Higher layers call this at safe suspension points
// (syscall boundaries, loop iterations) to honor cooperative preemption
// (see requestPreempt's doc comment).
func (s *Scheduler) CheckPreempt(self *Thread) {
	s.mu.Lock()
	should := s.requestPreempt && s.current == self
	if should {
		s.requestPreempt = false
	}
	s.mu.Unlock()
	if should {
		s.Yield(self)
	}
}

// Tick advances the scheduler's timer by one interrupt: wakes due
// sleepers, runs MLFQ bookkeeping if enabled, and flags a preemption
// request if warranted. Returns the new tick count. Grounded on
// original_source/devices/timer.c's timer_interrupt plus
// threads/thread.c's thread_tick.
func (s *Scheduler) Tick() uint64 {
	s.mu.Lock()
	s.ticks++
	now := s.ticks

	due := s.sleepQ.due(now)
	preempt := false
	for _, t := range due {
		s.unblockLocked(t)
		if t.effectivePriority > s.current.effectivePriority {
			preempt = true
		}
	}

	if s.current != s.idle {
		s.current.ticksInSlice++
		if s.mlfqs {
			s.current.recentCPu = s.current.recentCPu.AddInt(1)
		}
	}

	if s.mlfqs {
		if now%4 == 0 {
			s.recalcPriorityAllLocked()
		}
		if now%timerFreq == 0 {
			s.recalcRecentCPUAndLoadAvgLocked()
			s.recalcPriorityAllLocked()
		}
	}

	if s.current == s.idle && s.readyQ.len() > 0 {
		preempt = true
	}
	timeSliceExpired := s.current != s.idle && s.current.ticksInSlice >= timeSliceTicks
	if preempt || timeSliceExpired {
		s.requestPreempt = true
	}

	if s.hooks != nil && s.hooks.afterTick != nil {
		s.hooks.afterTick(s, now)
	}
	s.mu.Unlock()
	return now
}

// Exit tears self down: removes it from every queue and the thread table,
// and schedules a replacement if self was current. Called automatically
// after a Create-spawned entry function returns; higher layers that want
// to terminate a thread early call this directly (spec.md §4.1's
// thread_exit).
func (s *Scheduler) Exit(self *Thread) {
	s.mu.Lock()
	self.state = Dying
	s.readyQ.remove(self)
	s.sleepQ.remove(self)
	if s.current == self {
		s.scheduleLocked()
	}
	s.table.remove(self.ID)
	if s.hooks != nil && s.hooks.afterExit != nil {
		s.hooks.afterExit(s, self)
	}
	s.mu.Unlock()
}

// SetPriority changes self's base priority, recomputing its effective
// priority (which may still be higher, via donation) and yielding if it's
// no longer the highest-priority runnable thread (spec.md §4.1's
// thread_set_priority). A no-op in MLFQ mode, which derives priority from
// nice/recent_cpu instead (spec.md §4.1).
func (s *Scheduler) SetPriority(self *Thread, priority int) {
	if s.mlfqs {
		return
	}
	if priority < PriMin {
		priority = PriMin
	}
	if priority > PriMax {
		priority = PriMax
	}
	s.mu.Lock()
	self.basePriority = priority
	self.recomputeEffective()
	shouldYield := s.readyQ.maxPriority() > self.effectivePriority
	s.mu.Unlock()
	if shouldYield {
		s.Yield(self)
	}
}
