package chunking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/houzhh15/chunkscribe/internal/orchestrator/dependency"
	"github.com/houzhh15/chunkscribe/pkg/logger"
	"github.com/houzhh15/chunkscribe/pkg/metrics"
)

// AudioChunk is one extracted window. Path points at a mono 16 kHz WAV inside the run directory.
type AudioChunk struct {
	Index       int     `json:"index"`
	StartSec    float64 `json:"start_sec"`
	EndSec      float64 `json:"end_sec"`
	DurationSec float64 `json:"duration_sec"`
	Path        string  `json:"path"`
}

// AudioTools is the decoder surface the planner needs; *dependency.DependencyClient implements it.
type AudioTools interface {
	ProbeDuration(ctx context.Context, audioPath string) (float64, error)
	ExtractWindow(ctx context.Context, inputPath, outputPath string, startSec, durationSec float64) error
	ConvertAudio(ctx context.Context, inputPath, outputPath string) error
}

// PrepareOptions controls one Prepare call.
type PrepareOptions struct {
	RunID string

	// SingleShot skips windowing and converts the whole file into one chunk.
	SingleShot bool

	// SizingHintSec overrides the duration used to pick a tier (0 = probed total).
	SizingHintSec float64
}

// Prepared is the planner output handed to the coordinator.
type Prepared struct {
	TotalDurationSec float64
	Plan             Plan
	SingleShot       bool
	Chunks           []AudioChunk

	// FailedWindows lists planned window indices whose extraction failed.
	FailedWindows []int
}

// Planner probes, plans and extracts.
type Planner struct {
	tools  AudioTools
	paths  *dependency.PathManager
	cfg    PlannerConfig
	logger *slog.Logger
}

// NewPlanner creates a Planner. A nil logger falls back to logger.L().
func NewPlanner(tools AudioTools, paths *dependency.PathManager, cfg PlannerConfig, l *slog.Logger) *Planner {
	if l == nil {
		l = logger.L()
	}
	return &Planner{tools: tools, paths: paths, cfg: cfg, logger: l.With("component", "planner")}
}

// Config returns the planner configuration.
func (p *Planner) Config() PlannerConfig {
	return p.cfg
}

// Prepare probes the duration, plans windows and extracts them one at a time.
//
// A window whose extraction fails is logged and left out; Prepare only fails when
// the duration is unknown, the context is done, or no chunk survives.
// onProgress receives the fraction of windows processed.
func (p *Planner) Prepare(ctx context.Context, audioPath string, opts PrepareOptions, onProgress func(float64)) (*Prepared, error) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	total, err := p.tools.ProbeDuration(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurationUnknown, err)
	}

	if opts.SingleShot || total <= p.cfg.SingleShotThresholdSec {
		return p.prepareSingleShot(ctx, audioPath, total, opts, onProgress)
	}

	plan, err := PlanWindows(total, opts.SizingHintSec, p.cfg)
	if err != nil {
		return nil, err
	}

	p.logger.Info("chunk plan computed",
		"audio_path", audioPath,
		"total_sec", total,
		"tier", plan.TierName,
		"chunk_size_sec", plan.ChunkSizeSec,
		"overlap_sec", plan.OverlapSec,
		"windows", len(plan.Windows),
	)

	prepared := &Prepared{TotalDurationSec: total, Plan: plan}
	for i, w := range plan.Windows {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("chunk extraction interrupted: %w", err)
		}

		out := p.paths.GetChunkAudioPath(opts.RunID, w.Index, "wav")
		start := time.Now()
		err := p.tools.ExtractWindow(ctx, audioPath, out, w.StartSec, w.DurationSec())
		elapsed := time.Since(start)
		metrics.RecordDuration("extract", elapsed.Seconds())

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("chunk extraction interrupted: %w", ctxErr)
			}
			logger.LogChunkEvent(p.logger, "extract", "error", w.Index, elapsed.Milliseconds(), "EXTRACT_FAILED")
			p.logger.Warn("window excluded", "chunk_index", w.Index, "error", err)
			metrics.RecordChunkProcessed("extract", "error")
			prepared.FailedWindows = append(prepared.FailedWindows, w.Index)
		} else {
			logger.LogChunkEvent(p.logger, "extract", "success", w.Index, elapsed.Milliseconds(), "")
			metrics.RecordChunkProcessed("extract", "success")
			prepared.Chunks = append(prepared.Chunks, AudioChunk{
				Index:       w.Index,
				StartSec:    w.StartSec,
				EndSec:      w.EndSec,
				DurationSec: w.DurationSec(),
				Path:        out,
			})
		}
		onProgress(float64(i+1) / float64(len(plan.Windows)))
	}

	if len(prepared.Chunks) == 0 {
		return nil, fmt.Errorf("%w: all %d windows failed extraction", ErrNoChunks, len(plan.Windows))
	}
	return prepared, nil
}

func (p *Planner) prepareSingleShot(ctx context.Context, audioPath string, total float64, opts PrepareOptions, onProgress func(float64)) (*Prepared, error) {
	out := p.paths.GetSourcePath(opts.RunID)
	start := time.Now()
	err := p.tools.ConvertAudio(ctx, audioPath, out)
	elapsed := time.Since(start)
	metrics.RecordDuration("extract", elapsed.Seconds())

	if err != nil {
		logger.LogChunkEvent(p.logger, "extract", "error", 0, elapsed.Milliseconds(), "CONVERT_FAILED")
		metrics.RecordChunkProcessed("extract", "error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("audio conversion interrupted: %w", ctxErr)
		}
		return nil, errors.Join(ErrNoChunks, err)
	}

	logger.LogChunkEvent(p.logger, "extract", "success", 0, elapsed.Milliseconds(), "")
	metrics.RecordChunkProcessed("extract", "success")
	onProgress(1)

	w := Window{Index: 0, StartSec: 0, EndSec: total}
	return &Prepared{
		TotalDurationSec: total,
		SingleShot:       true,
		Plan:             Plan{TierName: "single-shot", ChunkSizeSec: total, Windows: []Window{w}},
		Chunks: []AudioChunk{{
			Index:       0,
			StartSec:    0,
			EndSec:      total,
			DurationSec: total,
			Path:        out,
		}},
	}, nil
}
