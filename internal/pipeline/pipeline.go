// Package pipeline wires planning, transcription and merging into one run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/houzhh15/chunkscribe/internal/chunking"
	"github.com/houzhh15/chunkscribe/internal/coordinator"
	"github.com/houzhh15/chunkscribe/internal/merger"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/dependency"
	"github.com/houzhh15/chunkscribe/internal/progress"
	"github.com/houzhh15/chunkscribe/pkg/logger"
	"github.com/houzhh15/chunkscribe/pkg/metrics"
)

// Stage names, also used as keys of Metadata.StageTimings.
const (
	StagePlan       = "plan"
	StageTranscribe = "transcribe"
	StageMerge      = "merge"
	StageFinalize   = "finalize"
)

const (
	skippedRatioWarn = 0.3
	successRateWarn  = 0.5
)

const tracerName = "github.com/houzhh15/chunkscribe/internal/pipeline"

// Options controls one run.
type Options struct {
	// RunID 为空时自动生成
	RunID string `json:"run_id,omitempty"`

	// Language "auto" (or empty) lets the engine detect; anything else is forced.
	Language string `json:"language"`

	// MaxConcurrency 0 = auto
	MaxConcurrency int `json:"max_concurrency"`

	SingleShot      bool `json:"single_shot"`
	RequireNonEmpty bool `json:"require_non_empty"`
}

// Metadata describes how a run went.
type Metadata struct {
	RunID            string                   `json:"run_id"`
	ChunksPlanned    int                      `json:"chunks_planned"`
	ChunksSucceeded  int                      `json:"chunks_succeeded"`
	ChunksSkipped    int                      `json:"chunks_skipped"`
	SuccessRate      float64                  `json:"success_rate"`
	TotalDurationSec float64                  `json:"total_duration_sec"`
	ChunkSizeSec     float64                  `json:"chunk_size_sec"`
	OverlapSec       float64                  `json:"overlap_sec"`
	Concurrency      int                      `json:"concurrency"`
	StageTimings     map[string]time.Duration `json:"stage_timings"`
	Errors           []coordinator.ChunkError `json:"errors,omitempty"`
	Warnings         []string                 `json:"warnings,omitempty"`
}

// Result is the output of a successful run.
type Result struct {
	Transcript merger.MergedTranscript `json:"transcript"`
	Metadata   Metadata                `json:"metadata"`
}

// RunRecord is what a Recorder receives after every run, successful or not.
type RunRecord struct {
	RunID      string
	AudioPath  string
	Options    Options
	StartedAt  time.Time
	FinishedAt time.Time
	Result     *Result
	Err        error
}

// Recorder persists run records.
type Recorder interface {
	SaveRun(ctx context.Context, rec RunRecord) error
}

// Preparer is the planning stage; *chunking.Planner implements it.
type Preparer interface {
	Prepare(ctx context.Context, audioPath string, opts chunking.PrepareOptions, onProgress func(float64)) (*chunking.Prepared, error)
}

// Pipeline runs plan → transcribe → merge → finalize.
type Pipeline struct {
	planner          Preparer
	coord            *coordinator.Coordinator
	merger           *merger.Merger
	paths            *dependency.PathManager
	recorder         Recorder
	logger           *slog.Logger
	tracer           trace.Tracer
	progressInterval time.Duration
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRecorder stores every run through r.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithProgressInterval throttles intermediate progress callbacks.
func WithProgressInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.progressInterval = d }
}

// New creates a Pipeline.
func New(planner Preparer, coord *coordinator.Coordinator, m *merger.Merger, paths *dependency.PathManager, l *slog.Logger, opts ...Option) *Pipeline {
	if l == nil {
		l = logger.L()
	}
	p := &Pipeline{
		planner: planner,
		coord:   coord,
		merger:  m,
		paths:   paths,
		logger:  l.With("component", "pipeline"),
	}
	for _, o := range opts {
		o(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

// Run transcribes one audio file. The run directory is removed on every path.
// onProgress may be nil; when set it sees non-decreasing fractions ending in 1.0 on success.
func (p *Pipeline) Run(ctx context.Context, audioPath string, opts Options, onProgress progress.Func) (res *Result, err error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	opts.RunID = runID
	// 解析为绝对路径，"../talk.mp3" 这类输入才能通过命令参数校验
	if abs, aerr := filepath.Abs(audioPath); aerr == nil {
		audioPath = abs
	}
	startedAt := time.Now()
	log := p.logger.With("run_id", runID)

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("audio.path", audioPath),
		attribute.String("language", opts.Language),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(CodeOf(err)))
			log.Error("pipeline run failed", "code", CodeOf(err), "error", err)
			metrics.RecordPipelineRun(false, 0)
		} else {
			metrics.RecordPipelineRun(true, res.Metadata.SuccessRate)
		}
		span.End()
		p.record(ctx, RunRecord{
			RunID:      runID,
			AudioPath:  audioPath,
			Options:    opts,
			StartedAt:  startedAt,
			FinishedAt: time.Now(),
			Result:     res,
			Err:        err,
		})
	}()

	agg := progress.NewAggregator(onProgress, p.progressInterval,
		progress.Stage{Name: StagePlan, Weight: 0.20},
		progress.Stage{Name: StageTranscribe, Weight: 0.60},
		progress.Stage{Name: StageMerge, Weight: 0.15},
		progress.Stage{Name: StageFinalize, Weight: 0.05},
	)
	timings := make(map[string]time.Duration, 4)

	if _, werr := p.paths.EnsureRunDir(runID); werr != nil {
		return nil, NewWorkdirError(werr)
	}
	defer func() {
		if rerr := p.paths.RemoveRunDir(runID); rerr != nil {
			log.Warn("failed to remove run directory", "error", rerr)
		}
	}()

	log.Info("pipeline run started", "audio_path", audioPath, "language", opts.Language, "single_shot", opts.SingleShot)

	// plan
	stageStart := time.Now()
	sctx, sspan := p.tracer.Start(ctx, "pipeline.plan")
	prepared, perr := p.planner.Prepare(sctx, audioPath, chunking.PrepareOptions{
		RunID:      runID,
		SingleShot: opts.SingleShot,
	}, agg.StageFunc(StagePlan))
	endSpan(sspan, perr)
	timings[StagePlan] = time.Since(stageStart)
	if perr != nil {
		return nil, classifyPrepareError(ctx, perr)
	}
	agg.Report(StagePlan, 1)

	// transcribe
	stageStart = time.Now()
	sctx, sspan = p.tracer.Start(ctx, "pipeline.transcribe", trace.WithAttributes(
		attribute.Int("chunks", len(prepared.Chunks)),
	))
	batch := p.coord.WithLanguage(opts.Language).TranscribeAll(sctx, prepared.Chunks, opts.MaxConcurrency, agg.StageFunc(StageTranscribe))
	sspan.SetAttributes(attribute.Float64("success_rate", batch.SuccessRate))
	sspan.End()
	timings[StageTranscribe] = time.Since(stageStart)
	if cerr := ctx.Err(); cerr != nil {
		return nil, NewCanceledError(cerr)
	}

	// merge
	stageStart = time.Now()
	_, sspan = p.tracer.Start(ctx, "pipeline.merge")
	merged := p.merger.Merge(batch.Results, prepared.TotalDurationSec)
	if forced := forcedLanguage(opts.Language); forced != "" {
		merged.Language = forced
	}
	sspan.SetAttributes(attribute.Int("segments", len(merged.Segments)))
	sspan.End()
	timings[StageMerge] = time.Since(stageStart)
	agg.Report(StageMerge, 1)

	// finalize
	stageStart = time.Now()
	meta := buildMetadata(runID, prepared, batch, opts.MaxConcurrency)
	if opts.RequireNonEmpty && len(merged.Segments) == 0 {
		return nil, NewEmptyTranscriptError()
	}
	timings[StageFinalize] = time.Since(stageStart)
	meta.StageTimings = timings
	for _, w := range meta.Warnings {
		log.Warn("transcript quality warning", "warning", w)
	}

	res = &Result{Transcript: merged, Metadata: meta}
	agg.Complete(StageFinalize)
	log.Info("pipeline run finished",
		"chunks_planned", meta.ChunksPlanned,
		"chunks_succeeded", meta.ChunksSucceeded,
		"segments", len(merged.Segments),
		"language", merged.Language,
		"elapsed", time.Since(startedAt),
	)
	return res, nil
}

func (p *Pipeline) record(ctx context.Context, rec RunRecord) {
	if p.recorder == nil {
		return
	}
	// 取消的运行同样需要落库
	if err := p.recorder.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("failed to record run", "run_id", rec.RunID, "error", err)
	}
}

func classifyPrepareError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return NewCanceledError(errors.Join(ctx.Err(), err))
	case errors.Is(err, ErrDurationUnknown):
		return NewDurationUnknownError(err)
	case errors.Is(err, ErrNoChunks):
		return NewNoChunksError(err)
	default:
		return NewNoChunksError(fmt.Errorf("planning failed: %w", err))
	}
}

func buildMetadata(runID string, prepared *chunking.Prepared, batch *coordinator.BatchResult, requested int) Metadata {
	planned := len(prepared.Plan.Windows)
	succeeded := 0
	for _, r := range batch.Results {
		if r.Succeeded() {
			succeeded++
		}
	}
	skipped := planned - succeeded

	meta := Metadata{
		RunID:            runID,
		ChunksPlanned:    planned,
		ChunksSucceeded:  succeeded,
		ChunksSkipped:    skipped,
		TotalDurationSec: prepared.TotalDurationSec,
		ChunkSizeSec:     prepared.Plan.ChunkSizeSec,
		OverlapSec:       prepared.Plan.OverlapSec,
		Concurrency:      min(coordinator.ResolveConcurrency(requested), max(len(prepared.Chunks), 1)),
		Errors:           batch.Errors,
	}
	if planned > 0 {
		meta.SuccessRate = float64(succeeded) / float64(planned)
	}
	for _, idx := range prepared.FailedWindows {
		meta.Errors = append(meta.Errors, coordinator.ChunkError{
			ChunkIndex: idx,
			Message:    "extraction failed",
		})
	}
	sort.Slice(meta.Errors, func(i, j int) bool { return meta.Errors[i].ChunkIndex < meta.Errors[j].ChunkIndex })

	if planned > 0 && float64(skipped)/float64(planned) > skippedRatioWarn {
		meta.Warnings = append(meta.Warnings,
			fmt.Sprintf("%d of %d chunks were skipped; transcript has gaps", skipped, planned))
	}
	if meta.SuccessRate < successRateWarn {
		meta.Warnings = append(meta.Warnings,
			fmt.Sprintf("success rate %.2f is below %.2f", meta.SuccessRate, successRateWarn))
	}
	return meta
}

func forcedLanguage(lang string) string {
	if lang == "" || lang == "auto" {
		return ""
	}
	return lang
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
