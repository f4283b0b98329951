package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	values []float64
	stages []string
}

func (r *recorder) sink(f float64, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, f)
	r.stages = append(r.stages, stage)
}

func testStages() []Stage {
	return []Stage{
		{Name: "prepare", Weight: 0.2},
		{Name: "transcribe", Weight: 0.6},
		{Name: "merge", Weight: 0.15},
		{Name: "finalize", Weight: 0.05},
	}
}

func TestAggregator_WeightedAndMonotonic(t *testing.T) {
	rec := &recorder{}
	agg := NewAggregator(rec.sink, 0, testStages()...)

	agg.Report("prepare", 0.5)
	agg.Report("prepare", 1)
	agg.Report("transcribe", 0.5)
	agg.Report("transcribe", 0.25) // 回退被忽略
	agg.Report("merge", 1)
	agg.Complete("finalize")

	require.Len(t, rec.values, 5)
	assert.InDelta(t, 0.1, rec.values[0], 1e-9)
	assert.InDelta(t, 0.2, rec.values[1], 1e-9)
	assert.InDelta(t, 0.5, rec.values[2], 1e-9)
	assert.InDelta(t, 0.95, rec.values[3], 1e-9)
	assert.Equal(t, 1.0, rec.values[4])
	for i := 1; i < len(rec.values); i++ {
		assert.GreaterOrEqual(t, rec.values[i], rec.values[i-1])
	}
}

func TestAggregator_ClampsAndIgnoresUnknown(t *testing.T) {
	rec := &recorder{}
	agg := NewAggregator(rec.sink, 0, Stage{Name: "only", Weight: 3})

	agg.Report("nope", 0.5)
	agg.Report("only", -1)
	agg.Report("only", 7)

	require.Len(t, rec.values, 2)
	assert.Equal(t, 0.0, rec.values[0])
	assert.Equal(t, 1.0, rec.values[1])
}

func TestAggregator_CompleteOnce(t *testing.T) {
	rec := &recorder{}
	agg := NewAggregator(rec.sink, 0, testStages()...)

	agg.Complete("finalize")
	agg.Complete("finalize")
	agg.Report("merge", 0.5)

	assert.Equal(t, []float64{1}, rec.values)
	assert.Equal(t, 1.0, agg.Current())
}

func TestAggregator_Throttled(t *testing.T) {
	rec := &recorder{}
	agg := NewAggregator(rec.sink, time.Hour, testStages()...)

	report := agg.StageFunc("transcribe")
	for i := 1; i <= 50; i++ {
		report(float64(i) / 100)
	}
	report(1)
	agg.Complete("finalize")

	// 首次上报、阶段终点与完成信号
	assert.Len(t, rec.values, 3)
	assert.Equal(t, 1.0, rec.values[len(rec.values)-1])
	assert.InDelta(t, 0.8, rec.values[1], 1e-9)
}

func TestAggregator_NilSink(t *testing.T) {
	agg := NewAggregator(nil, 0, testStages()...)
	agg.Report("prepare", 1)
	agg.Complete("finalize")
	assert.Equal(t, 1.0, agg.Current())
}

func TestThrottle_MonotonicAndFinal(t *testing.T) {
	var got []float64
	th := NewThrottle(func(f float64) { got = append(got, f) }, 0)

	th.Report(0.2)
	th.Report(0.1)
	th.Report(0.2)
	th.Report(0.6)
	th.Finish()
	th.Report(0.7)
	th.Finish()

	assert.Equal(t, []float64{0.2, 0.6, 1}, got)
}

func TestThrottle_RateLimited(t *testing.T) {
	var got []float64
	th := NewThrottle(func(f float64) { got = append(got, f) }, time.Hour)

	for i := 1; i <= 20; i++ {
		th.Report(float64(i) / 40)
	}
	th.Finish()

	assert.Equal(t, []float64{0.025, 1}, got)
}

func TestThrottle_NilFunc(t *testing.T) {
	th := NewThrottle(nil, 0)
	assert.NotPanics(t, func() {
		th.Report(0.5)
		th.Finish()
	})
}
