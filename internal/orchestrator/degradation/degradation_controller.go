// Package degradation switches between a primary and a fallback engine based on health status.
package degradation

import (
	"log/slog"
	"sync"

	"github.com/houzhh15/chunkscribe/internal/orchestrator/health"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/whisper"
)

// DegradationController implements whisper.Selector. It hands out the primary
// engine while its health checker reports healthy and the fallback otherwise.
//
// Thread-safety: All public methods are thread-safe via sync.RWMutex.
type DegradationController struct {
	primaryTranscriber  whisper.WhisperTranscriber
	fallbackTranscriber whisper.WhisperTranscriber
	healthChecker       *health.HealthChecker
	currentTranscriber  whisper.WhisperTranscriber
	mu                  sync.RWMutex
	isDegraded          bool
}

// Snapshot is the controller state exposed by the engine health endpoint.
type Snapshot struct {
	Primary  string               `json:"primary"`
	Fallback string               `json:"fallback"`
	Current  string               `json:"current"`
	Degraded bool                 `json:"degraded"`
	Health   health.ServiceStatus `json:"health"`
}

// NewDegradationController starts on the primary transcriber.
func NewDegradationController(
	primary whisper.WhisperTranscriber,
	fallback whisper.WhisperTranscriber,
	hc *health.HealthChecker,
) *DegradationController {
	return &DegradationController{
		primaryTranscriber:  primary,
		fallbackTranscriber: fallback,
		healthChecker:       hc,
		currentTranscriber:  primary,
	}
}

// GetTranscriber returns the current active transcriber, switching between
// primary and fallback based on the latest health status.
func (dc *DegradationController) GetTranscriber() whisper.WhisperTranscriber {
	status := dc.healthChecker.GetStatus()

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if !status.IsHealthy && !dc.isDegraded {
		slog.Warn("[DegradationController] degrading to fallback engine",
			"fallback", dc.fallbackTranscriber.Name(),
			"primary", dc.primaryTranscriber.Name(),
			"reason", status.ErrorMessage,
		)
		dc.currentTranscriber = dc.fallbackTranscriber
		dc.isDegraded = true
	}

	if status.IsHealthy && dc.isDegraded {
		slog.Info("[DegradationController] recovering to primary engine", "primary", dc.primaryTranscriber.Name())
		dc.currentTranscriber = dc.primaryTranscriber
		dc.isDegraded = false
	}

	return dc.currentTranscriber
}

// IsDegraded returns whether the fallback engine is in use.
func (dc *DegradationController) IsDegraded() bool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.isDegraded
}

// Snapshot refreshes the selection and reports it.
func (dc *DegradationController) Snapshot() Snapshot {
	current := dc.GetTranscriber()
	return Snapshot{
		Primary:  dc.primaryTranscriber.Name(),
		Fallback: dc.fallbackTranscriber.Name(),
		Current:  current.Name(),
		Degraded: dc.IsDegraded(),
		Health:   dc.healthChecker.GetStatus(),
	}
}
