// Package coordinator runs the transcription engine over prepared chunks with bounded
// concurrency, per-chunk deadlines and bounded retry.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/houzhh15/chunkscribe/internal/chunking"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/whisper"
	"github.com/houzhh15/chunkscribe/internal/progress"
	"github.com/houzhh15/chunkscribe/internal/transcript"
	"github.com/houzhh15/chunkscribe/pkg/logger"
	"github.com/houzhh15/chunkscribe/pkg/metrics"
)

const (
	minAutoConcurrency = 2
	maxAutoConcurrency = 6
	maxConcurrency     = 16
)

// errChunkTimeout marks an attempt that ran past its deadline.
var errChunkTimeout = errors.New("chunk transcription deadline exceeded")

// Config controls deadlines and retries.
type Config struct {
	// MaxRetries 非超时失败后的额外尝试次数
	MaxRetries int `yaml:"max_retries"`

	// Deadline = BaseOverhead + DeadlineFactor × chunk seconds, capped at MaxDeadline.
	BaseOverhead   time.Duration `yaml:"base_overhead"`
	DeadlineFactor float64       `yaml:"deadline_factor"`
	MaxDeadline    time.Duration `yaml:"max_deadline"`

	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval"`

	// ProgressInterval 进度回调最小间隔，0 表示不节流
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:           2,
		BaseOverhead:         30 * time.Second,
		DeadlineFactor:       1.5,
		MaxDeadline:          15 * time.Minute,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
		ProgressInterval:     250 * time.Millisecond,
	}
}

// Coordinator dispatches chunks to the engine picked by a whisper.Selector.
type Coordinator struct {
	selector whisper.Selector
	cfg      Config
	opts     whisper.TranscribeOptions
	logger   *slog.Logger
}

// New creates a coordinator. opts are passed to every engine call.
func New(selector whisper.Selector, cfg Config, opts whisper.TranscribeOptions, l *slog.Logger) *Coordinator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxDeadline <= 0 {
		cfg.MaxDeadline = DefaultConfig().MaxDeadline
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = DefaultConfig().RetryInitialInterval
	}
	if cfg.RetryMaxInterval < cfg.RetryInitialInterval {
		cfg.RetryMaxInterval = cfg.RetryInitialInterval
	}
	if l == nil {
		l = logger.L()
	}
	return &Coordinator{selector: selector, cfg: cfg, opts: opts, logger: l}
}

// WithLanguage returns a copy that forces the engine language. "" or "auto" means detection.
func (c *Coordinator) WithLanguage(lang string) *Coordinator {
	cp := *c
	if lang == "auto" {
		lang = ""
	}
	cp.opts.Language = lang
	return &cp
}

// ResolveConcurrency maps a requested worker count onto the allowed range.
// 0 or negative means auto: NumCPU clamped to [2, 6]. Explicit values are clamped to [1, 16].
func ResolveConcurrency(requested int) int {
	if requested <= 0 {
		return min(max(runtime.NumCPU(), minAutoConcurrency), maxAutoConcurrency)
	}
	return min(requested, maxConcurrency)
}

// Deadline returns the per-attempt deadline for a chunk of the given length.
func (c *Coordinator) Deadline(chunkSec float64) time.Duration {
	d := c.cfg.BaseOverhead + time.Duration(c.cfg.DeadlineFactor*chunkSec*float64(time.Second))
	if d > c.cfg.MaxDeadline {
		d = c.cfg.MaxDeadline
	}
	return d
}

// TranscribeAll transcribes every chunk and never fails as a whole: per-chunk
// failures are recorded in the batch. Results are ordered by chunk position.
func (c *Coordinator) TranscribeAll(ctx context.Context, chunks []chunking.AudioChunk, concurrency int, onProgress func(float64)) *BatchResult {
	n := len(chunks)
	batch := &BatchResult{Results: make([]ChunkTranscriptResult, n)}
	reporter := progress.NewThrottle(onProgress, c.cfg.ProgressInterval)
	defer reporter.Finish()
	if n == 0 {
		return batch
	}

	workers := min(ResolveConcurrency(concurrency), n)
	c.logger.Info("transcription started", "chunks", n, "workers", workers, "engine", c.selector.GetTranscriber().Name())

	tracker := &inflightTracker{total: n, report: reporter.Report}
	var cursor atomic.Int64
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= n {
					return nil
				}
				tracker.claim()
				batch.Results[i] = c.transcribeChunk(ctx, chunks[i])
				tracker.resolve()
			}
		})
	}
	_ = g.Wait()

	ok := 0
	for _, r := range batch.Results {
		if r.Succeeded() {
			ok++
			continue
		}
		batch.Errors = append(batch.Errors, ChunkError{
			ChunkIndex: r.ChunkIndex,
			Attempts:   r.Attempts,
			Timeout:    r.TimedOut,
			Message:    r.Error,
		})
	}
	batch.SuccessRate = float64(ok) / float64(n)
	c.logger.Info("transcription finished", "chunks", n, "succeeded", ok, "success_rate", batch.SuccessRate)
	return batch
}

func (c *Coordinator) transcribeChunk(ctx context.Context, chunk chunking.AudioChunk) ChunkTranscriptResult {
	started := time.Now()
	res := ChunkTranscriptResult{
		ChunkIndex: chunk.Index,
		ChunkStart: chunk.StartSec,
		ChunkEnd:   chunk.EndSec,
		Segments:   []transcript.Segment{},
	}
	deadline := c.Deadline(chunk.DurationSec)
	opts := c.opts
	opts.Timeout = deadline

	attempt := func() (*whisper.TranscriptionResult, error) {
		res.Attempts++
		if res.Attempts > 1 {
			metrics.RecordChunkRetry()
			logger.LogChunkEvent(c.logger, "asr", "retry", chunk.Index, time.Since(started).Milliseconds(), "")
		}
		engine := c.selector.GetTranscriber()
		actx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		metrics.EngineStarted()
		out, err := engine.Transcribe(actx, chunk.Path, &opts)
		metrics.EngineFinished()
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded) {
			// 超时不重试，引擎子进程已被终止
			return nil, backoff.Permanent(fmt.Errorf("%w after %s (%s): %v", errChunkTimeout, deadline, engine.Name(), err))
		}
		return nil, fmt.Errorf("%s: %w", engine.Name(), err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryInitialInterval
	eb.MaxInterval = c.cfg.RetryMaxInterval
	out, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
	)
	elapsed := time.Since(started)
	metrics.RecordDuration("asr", elapsed.Seconds())

	if err != nil {
		res.Skipped = true
		res.Error = err.Error()
		res.TimedOut = errors.Is(err, errChunkTimeout)
		status := "error"
		if res.TimedOut {
			status = "timeout"
		}
		metrics.RecordChunkProcessed("asr", status)
		logger.LogChunkEvent(c.logger, "asr", status, chunk.Index, elapsed.Milliseconds(), errorCode(ctx, res.TimedOut))
		return res
	}

	res.Language = out.Language
	res.Segments = Sanitize(out.Segments, chunk)
	metrics.RecordChunkProcessed("asr", "success")
	logger.LogChunkEvent(c.logger, "asr", "success", chunk.Index, elapsed.Milliseconds(), "")
	return res
}

func errorCode(ctx context.Context, timedOut bool) string {
	switch {
	case timedOut:
		return "CHUNK_TIMEOUT"
	case ctx.Err() != nil:
		return "CANCELED"
	default:
		return "ENGINE_FAILED"
	}
}

// inflightTracker 计算批次进度：已完成 + 0.1 × 进行中
type inflightTracker struct {
	mu       sync.Mutex
	total    int
	resolved int
	inflight int
	report   func(float64)
}

func (t *inflightTracker) claim() {
	t.mu.Lock()
	t.inflight++
	f := t.fraction()
	t.mu.Unlock()
	t.report(f)
}

func (t *inflightTracker) resolve() {
	t.mu.Lock()
	t.inflight--
	t.resolved++
	f := t.fraction()
	t.mu.Unlock()
	t.report(f)
}

func (t *inflightTracker) fraction() float64 {
	return (float64(t.resolved) + 0.1*float64(t.inflight)) / float64(t.total)
}
