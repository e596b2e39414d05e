package threads

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedRoundTrip(t *testing.T) {
	assert.Equal(t, 5, FromInt(5).Round())
	assert.Equal(t, -5, FromInt(-5).Round())
	assert.Equal(t, 0, FromInt(0).Round())
}

func TestFixedRoundHalfAwayFromZero(t *testing.T) {
	half := fixedOne.DivInt(2)
	assert.Equal(t, 1, half.Round())
	assert.Equal(t, -1, half.MulInt(-1).Round())
}

func TestFixedArithmetic(t *testing.T) {
	a := FromInt(3)
	b := FromInt(2)
	assert.Equal(t, FromInt(5), a.Add(b))
	assert.Equal(t, FromInt(1), a.Sub(b))
	assert.Equal(t, FromInt(6), a.MulInt(2))
	assert.Equal(t, FromInt(1), a.DivInt(3))
	assert.Equal(t, 6, a.MulFixed(b).Trunc())
}

func TestMLFQPriorityFormula(t *testing.T) {
	// priority = PRI_MAX - (recent_cpu/4) - (nice*2); recent_cpu=0, nice=0
	// gives exactly PriMax.
	th := &Thread{recentCPu: 0, nice: 0}
	assert.Equal(t, PriMax, mlfqPriorityLocked(th))

	th2 := &Thread{recentCPu: FromInt(4), nice: 0}
	assert.Equal(t, PriMax-1, mlfqPriorityLocked(th2))

	th3 := &Thread{recentCPu: 0, nice: 20}
	assert.Equal(t, PriMax-40, mlfqPriorityLocked(th3))
}

func TestMLFQPriorityClampsToRange(t *testing.T) {
	th := &Thread{recentCPu: FromInt(1000), nice: 20}
	assert.Equal(t, PriMin, mlfqPriorityLocked(th))
}

func TestMLFQLoadAvgConverges(t *testing.T) {
	avg := Fixed(0)
	for i := 0; i < 10000; i++ {
		avg = mlfqLoadAvgLocked(avg, 1)
	}
	// steady state of (59/60)*x + (1/60)*1 = x is x=1.
	assert.InDelta(t, 1.0, float64(avg)/float64(fixedOne), 0.01)
}
