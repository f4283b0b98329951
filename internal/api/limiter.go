package api

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// RunLimiter caps the number of pipeline runs executing at once.
// Unlike a blocking acquire, TryAcquire fails immediately so the caller can answer 429.
type RunLimiter struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
}

// NewRunLimiter creates a limiter with max slots (at least 1).
func NewRunLimiter(max int64) *RunLimiter {
	if max < 1 {
		max = 1
	}
	return &RunLimiter{sem: semaphore.NewWeighted(max), capacity: max}
}

// TryAcquire takes a slot if one is free.
func (l *RunLimiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.inFlight.Add(1)
	return true
}

// Release returns a slot. Call it exactly once per successful TryAcquire.
func (l *RunLimiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// InFlight reports the number of held slots.
func (l *RunLimiter) InFlight() int64 { return l.inFlight.Load() }

// Capacity reports the configured maximum.
func (l *RunLimiter) Capacity() int64 { return l.capacity }
