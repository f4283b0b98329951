package progress

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle forwards a single stream of fractions to fn, dropping decreases and
// rate-limiting intermediate updates. Finish always delivers 1.0.
type Throttle struct {
	mu      sync.Mutex
	fn      func(float64)
	last    float64
	emitted bool
	done    bool
	limiter *rate.Sometimes
}

// NewThrottle wraps fn. A nil fn turns every call into a no-op; interval <= 0 forwards everything.
func NewThrottle(fn func(float64), interval time.Duration) *Throttle {
	t := &Throttle{fn: fn}
	if interval > 0 {
		t.limiter = &rate.Sometimes{Interval: interval}
	}
	return t
}

// Report offers a new fraction.
func (t *Throttle) Report(fraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fn == nil || t.done {
		return
	}
	f := clamp01(fraction)
	if t.emitted && f <= t.last {
		return
	}
	t.last = math.Max(t.last, f)
	if t.limiter == nil {
		t.emit()
		return
	}
	t.limiter.Do(t.emit)
}

// Finish delivers 1.0 once; later reports are ignored.
func (t *Throttle) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fn == nil || t.done {
		return
	}
	t.last = 1
	t.emit()
	t.done = true
}

func (t *Throttle) emit() {
	t.emitted = true
	t.fn(t.last)
}
