package swingsense

import (
	"math"

	"github.com/gammazero/deque"
)

// WindowedAverager keeps the running mean of the last Capacity samples.
type WindowedAverager struct {
	capacity int
	samples  deque.Deque[float64]
	sum      float64
}

// NewWindowedAverager creates an averager holding at most capacity samples.
// A capacity below 1 is treated as 1.
func NewWindowedAverager(capacity int) *WindowedAverager {
	if capacity < 1 {
		capacity = 1
	}
	return &WindowedAverager{capacity: capacity}
}

// Push appends v, evicting the oldest sample once the window is full.
func (a *WindowedAverager) Push(v float64) {
	if a.samples.Len() == a.capacity {
		a.sum -= a.samples.PopFront()
	}
	a.samples.PushBack(v)
	a.sum += v

	// An infinite sample poisons the running sum even after it has been
	// evicted, so rebuild it from the window.
	if math.IsInf(a.sum, 0) || math.IsNaN(a.sum) {
		a.resum()
	}
}

func (a *WindowedAverager) resum() {
	a.sum = 0
	for i := 0; i < a.samples.Len(); i++ {
		a.sum += a.samples.At(i)
	}
}

// Mean returns the average of the held samples, 0 when empty.
func (a *WindowedAverager) Mean() float64 {
	if a.samples.Len() == 0 {
		return 0
	}
	return a.sum / float64(a.samples.Len())
}

// Len returns the number of held samples.
func (a *WindowedAverager) Len() int {
	return a.samples.Len()
}

// Capacity returns the window size.
func (a *WindowedAverager) Capacity() int {
	return a.capacity
}
