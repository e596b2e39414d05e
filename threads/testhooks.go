package threads

// testHooks lets tests observe scheduler internals deterministically,
// grounded on eventloop/loop.go's loopTestHooks (a struct of optional
// callbacks fired at points a test would otherwise have to race to catch).
type testHooks struct {
	afterTick func(s *Scheduler, tick uint64)
	afterExit func(s *Scheduler, t *Thread)
}

// SetTestHooks installs callback hooks for deterministic testing. Passing
// nil clears any installed hooks. Not for use outside tests.
func (s *Scheduler) SetTestHooks(h *testHooks) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

// NewTestHooks constructs a testHooks value; exported as a function since
// the fields themselves are unexported (package-internal shape, stable
// external construction surface).
func NewTestHooks(afterTick func(*Scheduler, uint64), afterExit func(*Scheduler, *Thread)) *testHooks {
	return &testHooks{afterTick: afterTick, afterExit: afterExit}
}
