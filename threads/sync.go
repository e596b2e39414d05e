package threads

import "github.com/go-pintos/kernelcore/kernel"

// Semaphore, Lock, and Cond are spec.md §4.2's synchronization primitives,
// each built directly on Scheduler.block/unblock rather than on Go's own
// sync package — the same layering Pintos uses (locks and condition
// variables are implemented in terms of semaphores, semaphores in terms of
// block/unblock), generalized to this package's single-mutex hosted
// simulation instead of interrupt-disable.

// Semaphore is a counting semaphore (spec.md §4.2).
type Semaphore struct {
	sched   *Scheduler
	value   int
	waiters []*Thread
}

// NewSemaphore creates a semaphore with the given initial value, owned by
// sched.
func NewSemaphore(sched *Scheduler, value int) *Semaphore {
	if value < 0 {
		kernel.Panic("threads: negative semaphore initial value", nil)
	}
	return &Semaphore{sched: sched, value: value}
}

// Down waits for the semaphore's value to be positive, then decrements it.
// self is the calling thread (see EntryFunc's doc comment on why this is
// explicit rather than implicit).
func (s *Semaphore) Down(self *Thread) {
	s.sched.mu.Lock()
	for s.value == 0 {
		s.waiters = append(s.waiters, self)
		s.sched.blockLocked(self)
		s.sched.waitTurnLocked(self)
	}
	s.value--
	s.sched.mu.Unlock()
}

// TryDown decrements the semaphore without waiting if it's already
// positive, reporting whether it succeeded.
func (s *Semaphore) TryDown() bool {
	s.sched.mu.Lock()
	defer s.sched.mu.Unlock()
	if s.value == 0 {
		return false
	}
	s.value--
	return true
}

// Up increments the semaphore, waking one waiter if any are present.
// spec.md §4.2 leaves waiter wake order unspecified beyond "some waiting
// thread"; this picks the highest-priority waiter, consistent with the
// rest of the scheduler always preferring the highest-priority runnable
// thread.
func (s *Semaphore) Up() {
	s.sched.mu.Lock()
	var woken *Thread
	if len(s.waiters) > 0 {
		best := 0
		for i, w := range s.waiters[1:] {
			if w.effectivePriority > s.waiters[best].effectivePriority {
				best = i + 1
			}
		}
		woken = s.waiters[best]
		s.waiters = append(s.waiters[:best], s.waiters[best+1:]...)
	}
	s.value++
	if woken != nil {
		s.sched.unblockLocked(woken)
	}
	yield := woken != nil && woken.effectivePriority > s.sched.currentPriorityLocked()
	s.sched.mu.Unlock()
	if yield {
		s.sched.Yield(s.sched.Current())
	}
}

// Lock is a recursive-acquire-forbidding mutual-exclusion lock layered on
// a Semaphore(1), with priority donation (spec.md §4.1, §4.2).
type Lock struct {
	sem   *Semaphore
	sched *Scheduler
	owner *Thread
}

// NewLock creates an unheld lock owned by sched.
func NewLock(sched *Scheduler) *Lock {
	return &Lock{sem: NewSemaphore(sched, 1), sched: sched}
}

// Owner returns the thread currently holding l, or nil.
func (l *Lock) Owner() *Thread { return l.owner }

// Acquire blocks self until l is free, then takes it. If l is already
// held, self donates its effective priority to the holder (and
// transitively, up the donation chain) until the holder releases l
// (spec.md §4.1's priority donation). In MLFQ mode no donation is made.
func (l *Lock) Acquire(self *Thread) {
	l.sched.mu.Lock()
	if l.owner == self {
		l.sched.mu.Unlock()
		kernel.Panic("threads: recursive lock acquire", nil)
	}
	if l.owner != nil && !l.sched.mlfqs {
		l.sched.donatePriorityLocked(self, l)
	}
	l.sched.mu.Unlock()

	l.sem.Down(self)

	l.sched.mu.Lock()
	l.owner = self
	self.waitingLock = nil
	if self.heldLocks == nil {
		self.heldLocks = make(map[*Lock]struct{})
	}
	self.heldLocks[l] = struct{}{}
	l.sched.mu.Unlock()
}

// TryAcquire takes l without blocking if it's free, reporting success.
func (l *Lock) TryAcquire(self *Thread) bool {
	if !l.sem.TryDown() {
		return false
	}
	l.sched.mu.Lock()
	l.owner = self
	if self.heldLocks == nil {
		self.heldLocks = make(map[*Lock]struct{})
	}
	self.heldLocks[l] = struct{}{}
	l.sched.mu.Unlock()
	return true
}

// Release gives up l, reverting any priority donated on its account and
// waking the highest-priority waiter, if any.
func (l *Lock) Release(self *Thread) {
	l.sched.mu.Lock()
	if l.owner != self {
		l.sched.mu.Unlock()
		kernel.Panic("threads: Release by non-owner", nil)
	}
	l.owner = nil
	delete(self.heldLocks, l)
	l.sched.revertDonationLocked(self, l)
	l.sched.mu.Unlock()

	l.sem.Up()
}

// Cond is a condition variable, always used together with an associated
// Lock held by the caller (spec.md §4.2).
type Cond struct {
	sched   *Scheduler
	waiters []*Semaphore
}

// NewCond creates a condition variable owned by sched.
func NewCond(sched *Scheduler) *Cond {
	return &Cond{sched: sched}
}

// Wait atomically releases lock and blocks self until Signal or Broadcast
// wakes it, then re-acquires lock before returning — the standard monitor
// pattern, implemented as Pintos does via a private per-waiter semaphore.
func (c *Cond) Wait(self *Thread, lock *Lock) {
	waitSem := NewSemaphore(c.sched, 0)
	c.sched.mu.Lock()
	c.waiters = append(c.waiters, waitSem)
	c.sched.mu.Unlock()

	lock.Release(self)
	waitSem.Down(self)
	lock.Acquire(self)
}

// Signal wakes one waiter, if any are present. Caller must hold lock.
func (c *Cond) Signal(self *Thread, lock *Lock) {
	c.sched.mu.Lock()
	if len(c.waiters) == 0 {
		c.sched.mu.Unlock()
		return
	}
	sem := c.waiters[0]
	c.waiters = c.waiters[1:]
	c.sched.mu.Unlock()
	sem.Up()
}

// Broadcast wakes every waiter. Caller must hold lock.
func (c *Cond) Broadcast(self *Thread, lock *Lock) {
	c.sched.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.sched.mu.Unlock()
	for _, sem := range waiters {
		sem.Up()
	}
}
