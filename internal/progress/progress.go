// Package progress folds per-stage progress into one monotonic fraction.
package progress

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Func receives overall progress in [0, 1] and the stage that produced it.
type Func func(fraction float64, stage string)

// Stage is a named slice of the overall bar.
type Stage struct {
	Name   string
	Weight float64
}

// Aggregator maps stage-local fractions onto the overall bar.
// Emitted values never decrease, and intermediate updates are throttled.
type Aggregator struct {
	mu       sync.Mutex
	sink     Func
	offsets  map[string]float64
	weights  map[string]float64
	last     float64
	emitted  bool
	done     bool
	throttle *rate.Sometimes
}

// NewAggregator creates an aggregator. Stage weights are normalized to sum to 1.
// interval <= 0 disables throttling. A nil sink is allowed.
func NewAggregator(sink Func, interval time.Duration, stages ...Stage) *Aggregator {
	total := 0.0
	for _, s := range stages {
		total += math.Max(s.Weight, 0)
	}
	a := &Aggregator{
		sink:    sink,
		offsets: make(map[string]float64, len(stages)),
		weights: make(map[string]float64, len(stages)),
	}
	off := 0.0
	for _, s := range stages {
		w := 0.0
		if total > 0 {
			w = math.Max(s.Weight, 0) / total
		}
		a.offsets[s.Name] = off
		a.weights[s.Name] = w
		off += w
	}
	if interval > 0 {
		a.throttle = &rate.Sometimes{Interval: interval}
	}
	return a
}

// Report records stage-local progress. Unknown stages are ignored.
func (a *Aggregator) Report(stage string, fraction float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	off, ok := a.offsets[stage]
	if !ok || a.done {
		return
	}
	overall := math.Min(off+a.weights[stage]*clamp01(fraction), 1)
	if overall <= a.last && a.emitted {
		return
	}
	a.last = math.Max(a.last, overall)

	// 阶段结束时不节流，保证每个阶段的终点可见
	if fraction >= 1 || a.throttle == nil {
		a.emit(stage)
		return
	}
	a.throttle.Do(func() { a.emit(stage) })
}

// StageFunc returns a reporter bound to one stage.
func (a *Aggregator) StageFunc(stage string) func(float64) {
	return func(f float64) { a.Report(stage, f) }
}

// Complete emits the final 1.0 exactly once.
func (a *Aggregator) Complete(stage string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return
	}
	a.last = 1
	a.emit(stage)
	a.done = true
}

// Current returns the last recorded overall fraction.
func (a *Aggregator) Current() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *Aggregator) emit(stage string) {
	a.emitted = true
	if a.sink != nil {
		a.sink(a.last, stage)
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
