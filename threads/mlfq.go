package threads

// mlfq.go implements the 4.4BSD-style multi-level feedback queue formulas
// of spec.md §4.1, grounded on original_source/threads/thread.c's
// advanced_priority_calculation, advanced_recent_cpu_calculation, and
// advanced_load_avg_calculation. All arithmetic runs through Fixed
// (fixedpoint.go) to match the original's 17.14 integer math exactly,
// including its rounding behavior at the boundaries spec.md §8 tests.

// mlfqPriorityLocked recomputes t's priority from its recent_cpu and nice
// value: priority = PRI_MAX - (recent_cpu / 4) - (nice * 2), clamped to
// [PriMin, PriMax]. Caller must hold the owning Scheduler's mutex.
func mlfqPriorityLocked(t *Thread) int {
	p := FromInt(PriMax).Sub(t.recentCPu.DivInt(4)).Sub(FromInt(t.nice * 2))
	pri := p.Round()
	if pri < PriMin {
		pri = PriMin
	}
	if pri > PriMax {
		pri = PriMax
	}
	return pri
}

// mlfqRecentCPUDecay computes the new recent_cpu for a thread with recent
// recent_cpu rc, given the current system loadAvg:
// recent_cpu = (2*load_avg)/(2*load_avg+1) * recent_cpu + nice.
func mlfqRecentCPUDecay(rc Fixed, nice int, loadAvg Fixed) Fixed {
	twoLoad := loadAvg.MulInt(2)
	coeff := twoLoad.DivFixed(twoLoad.AddInt(1))
	return coeff.MulFixed(rc).AddInt(nice)
}

// mlfqLoadAvgLocked computes the new system load_avg from the previous
// value and the number of ready-or-running threads (readyCount, excluding
// the idle thread per spec.md §4.1):
// load_avg = (59/60)*load_avg + (1/60)*ready_threads.
func mlfqLoadAvgLocked(prev Fixed, readyCount int) Fixed {
	fiftyNineSixtieths := FromInt(59).DivInt(60)
	oneSixtieth := FromInt(1).DivInt(60)
	return fiftyNineSixtieths.MulFixed(prev).Add(oneSixtieth.MulInt(readyCount))
}

// recalcPriorityAllLocked recomputes every thread's priority from its
// current recent_cpu/nice (the every-4-ticks step of spec.md §4.1) and
// re-sorts the ready queue accordingly. Caller must hold sched.mu.
func (s *Scheduler) recalcPriorityAllLocked() {
	for _, t := range s.table.all() {
		if t == s.idle {
			continue
		}
		t.basePriority = mlfqPriorityLocked(t)
		t.effectivePriority = t.basePriority
	}
	s.readyQ.reorder()
}

// recalcRecentCPUAndLoadAvgLocked runs the once-per-second step of
// spec.md §4.1: recompute load_avg from the current ready/running thread
// count, then update every thread's recent_cpu from the new load_avg.
// Caller must hold sched.mu.
func (s *Scheduler) recalcRecentCPUAndLoadAvgLocked() {
	ready := s.readyQ.len()
	if s.current != nil && s.current != s.idle {
		ready++
	}
	s.loadAvg = mlfqLoadAvgLocked(s.loadAvg, ready)

	for _, t := range s.table.all() {
		if t == s.idle {
			continue
		}
		t.recentCPu = mlfqRecentCPUDecay(t.recentCPu, t.nice, s.loadAvg)
	}
}

// SetNice sets self's nice value and immediately recomputes its priority,
// yielding if it's no longer the highest-priority runnable thread
// (spec.md §4.1's thread_set_nice).
func (s *Scheduler) SetNice(self *Thread, nice int) {
	if nice < NiceMin {
		nice = NiceMin
	}
	if nice > NiceMax {
		nice = NiceMax
	}
	s.mu.Lock()
	self.nice = nice
	self.basePriority = mlfqPriorityLocked(self)
	self.effectivePriority = self.basePriority
	shouldYield := s.readyQ.maxPriority() > self.effectivePriority
	s.mu.Unlock()
	if shouldYield {
		s.Yield(self)
	}
}

// LoadAvg returns the system load average, scaled by 100 and rounded, as
// spec.md §4.1's diagnostic getters report it.
func (s *Scheduler) LoadAvg() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAvg.MulInt(100).Round()
}
