package threads

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spinUntil repeatedly yields self until cond reports true. Threads in
// this package are real goroutines with no preemptive scheduler behind
// them; a thread that wants to wait for something without holding the CPU
// forever must voluntarily yield through the scheduler (as Pintos threads
// do via thread_yield), not block on a raw Go channel, or no other thread
// would ever get to run.
func spinUntil(s *Scheduler, self *Thread, cond func() bool) {
	for !cond() {
		s.Yield(self)
	}
}

func effectivePriorityAtLeast(s *Scheduler, t *Thread, want int) func() bool {
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return t.effectivePriority >= want
	}
}

// TestPriorityDonationChain reproduces spec.md §8 scenario 1: A (30) holds
// L1; B (31) holds L2 then blocks on L1, donating 31 (later 32) to A; C
// (32) blocks on L2, donating 32 to B, which forwards it to A.
func TestPriorityDonationChain(t *testing.T) {
	s := NewScheduler(false)
	l1 := NewLock(s)
	l2 := NewLock(s)

	aHasL1 := make(chan struct{})
	bHasL2 := make(chan struct{})
	released := make(chan string, 3)

	aThread := s.Create(nil, "A", 30, func(self *Thread, _ any) {
		l1.Acquire(self)
		close(aHasL1)
		spinUntil(s, self, effectivePriorityAtLeast(s, self, 32))
		released <- "A"
		l1.Release(self)
	}, nil)

	<-aHasL1

	bThread := s.Create(nil, "B", 31, func(self *Thread, _ any) {
		l2.Acquire(self)
		close(bHasL2)
		l1.Acquire(self) // contended: donates to A, directly or via chain
		released <- "B"
		l2.Release(self)
	}, nil)

	<-bHasL2

	cThread := s.Create(nil, "C", 32, func(self *Thread, _ any) {
		l2.Acquire(self) // contended: donates to B, which forwards to A
		released <- "C"
		l2.Release(self)
	}, nil)

	require.Eventually(t, func() bool {
		return len(released) == 3
	}, 2*time.Second, time.Millisecond)

	order := []string{<-released, <-released, <-released}
	assert.Equal(t, []string{"A", "B", "C"}, order)

	assert.Equal(t, 30, aThread.BasePriority())
	assert.Equal(t, 31, bThread.BasePriority())
	assert.Equal(t, 32, cThread.BasePriority())
}

// TestSleepFairness reproduces spec.md §8 scenario 2: 10 threads each call
// sleep(i*10) for i=1..10; it checks that they wake in the order
// 1,2,...,10.
func TestSleepFairness(t *testing.T) {
	s := NewScheduler(false)

	const n = 10
	woke := make(chan int, n)

	for i := 1; i <= n; i++ {
		i := i
		s.Create(nil, "sleeper", PriDefault, func(self *Thread, _ any) {
			s.Sleep(self, int64(i*10))
			woke <- i
		}, nil)
	}

	stop := make(chan struct{})
	go func() {
		for i := 0; i < n*10+5; i++ {
			s.Tick()
			time.Sleep(time.Millisecond)
		}
		close(stop)
	}()

	var order []int
	for len(order) < n {
		select {
		case v := <-woke:
			order = append(order, v)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for sleepers to wake, got %v so far", order)
		}
	}
	<-stop

	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, order)
}

// TestSleepZeroTicksNeverLost covers the spec.md §8 boundary behavior:
// sleeping 0 ticks may run on the next tick at the latest, but is never
// lost.
func TestSleepZeroTicksNeverLost(t *testing.T) {
	s := NewScheduler(false)
	done := make(chan struct{})
	s.Create(nil, "zero-sleeper", PriDefault, func(self *Thread, _ any) {
		s.Sleep(self, 0)
		close(done)
	}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("thread sleeping 0 ticks never completed")
	}
}

// TestSetPriorityYieldsWhenNoLongerHighest covers thread_set_priority's
// immediate-yield behavior (spec.md §4.1): dropping below a ready, lower
// priority thread hands off the CPU right away rather than waiting for a
// timer tick.
func TestSetPriorityYieldsWhenNoLongerHighest(t *testing.T) {
	s := NewScheduler(false)
	var lowCreated atomic.Bool
	lowRan := make(chan struct{})

	s.Create(nil, "high", PriDefault, func(self *Thread, _ any) {
		spinUntil(s, self, lowCreated.Load)
		s.SetPriority(self, PriMin)
	}, nil)

	s.Create(nil, "low", PriDefault-10, func(self *Thread, _ any) {
		close(lowRan)
	}, nil)
	lowCreated.Store(true)

	select {
	case <-lowRan:
	case <-time.After(time.Second):
		t.Fatal("low-priority thread never ran after high dropped its priority")
	}
}
