package threads

// donatePriorityLocked records self as waiting on lock (held by some other
// thread) and propagates self's effective priority up the donation chain:
// self -> lock.owner -> (whatever lock.owner is itself waiting on) -> ...,
// bounded to donationMaxDepth hops (spec.md §4.1, §9). Caller must hold
// sched.mu.
func (s *Scheduler) donatePriorityLocked(self *Thread, lock *Lock) {
	self.waitingLock = lock

	holder := lock.owner
	depth := 0
	for holder != nil && depth < donationMaxDepth {
		if holder.donors == nil {
			holder.donors = make(map[*Thread]struct{})
		}
		holder.donors[self] = struct{}{}
		before := holder.effectivePriority
		after := holder.recomputeEffective()
		if after == before {
			// No change at this link; further links can't change either,
			// since they were already consistent with the old value.
			break
		}
		if holder.state == Ready {
			s.readyQ.remove(holder)
			s.readyQ.push(holder)
		}
		if holder.waitingLock == nil {
			break
		}
		next := holder.waitingLock.owner
		self = holder
		holder = next
		depth++
	}
}

// revertDonationLocked removes every donation self received on account of
// lock (i.e. every thread whose waitingLock is lock) and recomputes self's
// effective priority. Called by Lock.Release, before the lock is handed to
// the next owner. Caller must hold sched.mu.
func (s *Scheduler) revertDonationLocked(self *Thread, lock *Lock) {
	for donor := range self.donors {
		if donor.waitingLock == lock {
			delete(self.donors, donor)
		}
	}
	self.recomputeEffective()
}
