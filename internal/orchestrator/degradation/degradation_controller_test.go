package degradation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/houzhh15/chunkscribe/internal/orchestrator/health"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/whisper"
)

// MockTranscriberForDegradation is a thread-safe mock transcriber for degradation testing.
type MockTranscriberForDegradation struct {
	name    string
	healthy bool
	mu      sync.RWMutex
}

func (m *MockTranscriberForDegradation) Transcribe(ctx context.Context, audioPath string, options *whisper.TranscribeOptions) (*whisper.TranscriptionResult, error) {
	return &whisper.TranscriptionResult{
		Text:     "transcribed by " + m.name,
		Segments: []whisper.TranscriptionSegment{},
		Language: "en",
	}, nil
}

func (m *MockTranscriberForDegradation) HealthCheck(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy, nil
}

func (m *MockTranscriberForDegradation) Name() string {
	return m.name
}

func (m *MockTranscriberForDegradation) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

var _ whisper.Selector = (*DegradationController)(nil)

// TestDegradationController tests automatic degradation logic.
func TestDegradationController(t *testing.T) {
	t.Run("initial state uses primary transcriber", func(t *testing.T) {
		primary := &MockTranscriberForDegradation{name: "primary", healthy: true}
		fallback := &MockTranscriberForDegradation{name: "fallback", healthy: true}

		controller := NewDegradationController(primary, fallback, health.NewHealthChecker(primary, time.Hour, 3))

		if name := controller.GetTranscriber().Name(); name != "primary" {
			t.Errorf("Initial transcriber = %q, want %q", name, "primary")
		}
		if controller.IsDegraded() {
			t.Error("Initial state should not be degraded")
		}
	})

	t.Run("degrades and recovers with explicit checks", func(t *testing.T) {
		primary := &MockTranscriberForDegradation{name: "primary", healthy: false}
		fallback := &MockTranscriberForDegradation{name: "fallback"}
		hc := health.NewHealthChecker(primary, time.Hour, 1)
		controller := NewDegradationController(primary, fallback, hc)
		ctx := context.Background()

		hc.CheckNow(ctx)
		if name := controller.GetTranscriber().Name(); name != "fallback" {
			t.Errorf("After degradation: transcriber = %q, want %q", name, "fallback")
		}
		if !controller.IsDegraded() {
			t.Error("Should be in degraded state")
		}

		primary.SetHealthy(true)
		hc.CheckNow(ctx)
		if name := controller.GetTranscriber().Name(); name != "primary" {
			t.Errorf("After recovery: transcriber = %q, want %q", name, "primary")
		}
		if controller.IsDegraded() {
			t.Error("Should not be degraded after recovery")
		}
	})

	t.Run("background checker drives degradation", func(t *testing.T) {
		primary := &MockTranscriberForDegradation{name: "primary", healthy: false}
		fallback := &MockTranscriberForDegradation{name: "fallback"}
		hc := health.NewHealthChecker(primary, 10*time.Millisecond, 1)
		controller := NewDegradationController(primary, fallback, hc)

		go hc.Start(context.Background())
		defer hc.Stop()

		deadline := time.Now().Add(2 * time.Second)
		for controller.GetTranscriber().Name() != "fallback" && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if !controller.IsDegraded() {
			t.Error("Should be degraded to fallback")
		}
	})

	t.Run("transcribe uses correct implementation", func(t *testing.T) {
		primary := &MockTranscriberForDegradation{name: "primary-impl", healthy: true}
		fallback := &MockTranscriberForDegradation{name: "fallback-impl", healthy: true}
		controller := NewDegradationController(primary, fallback, health.NewHealthChecker(primary, time.Hour, 3))

		result, err := controller.GetTranscriber().Transcribe(context.Background(), "/test/audio.wav", nil)
		if err != nil {
			t.Fatalf("Transcribe error: %v", err)
		}
		if result.Text != "transcribed by primary-impl" {
			t.Errorf("Primary transcription text = %q", result.Text)
		}
	})

	t.Run("snapshot reports state", func(t *testing.T) {
		primary := &MockTranscriberForDegradation{name: "whisper-cli", healthy: false}
		fallback := whisper.NewMockTranscriber()
		hc := health.NewHealthChecker(primary, time.Hour, 1)
		controller := NewDegradationController(primary, fallback, hc)

		hc.CheckNow(context.Background())
		snap := controller.Snapshot()

		if !snap.Degraded || snap.Current != "mock-degraded" || snap.Primary != "whisper-cli" {
			t.Errorf("unexpected snapshot: %+v", snap)
		}
		if snap.Health.IsHealthy {
			t.Error("health should be unhealthy")
		}
	})
}
