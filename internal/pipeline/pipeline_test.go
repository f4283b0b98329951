package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/chunkscribe/internal/chunking"
	"github.com/houzhh15/chunkscribe/internal/coordinator"
	"github.com/houzhh15/chunkscribe/internal/merger"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/dependency"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/whisper"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

// fakeTools 模拟 ffprobe/ffmpeg：写出占位文件
type fakeTools struct {
	duration    float64
	probeErr    error
	extractFail bool

	mu     sync.Mutex
	probed []string
}

func (f *fakeTools) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	f.probed = append(f.probed, path)
	f.mu.Unlock()
	return f.duration, f.probeErr
}

func (f *fakeTools) ExtractWindow(_ context.Context, _, out string, _, _ float64) error {
	if f.extractFail {
		return errors.New("ffmpeg exited with status 1")
	}
	return os.WriteFile(out, []byte("RIFF"), 0o644)
}

func (f *fakeTools) ConvertAudio(_ context.Context, _, out string) error {
	return os.WriteFile(out, []byte("RIFF"), 0o644)
}

type fakeEngine struct {
	mu    sync.Mutex
	langs []string
	fail  map[string]bool
	empty bool
}

func (e *fakeEngine) Transcribe(_ context.Context, path string, opts *whisper.TranscribeOptions) (*whisper.TranscriptionResult, error) {
	e.mu.Lock()
	e.langs = append(e.langs, opts.Language)
	e.mu.Unlock()
	base := filepath.Base(path)
	if e.fail[base] {
		return nil, errors.New("engine crashed")
	}
	if e.empty {
		return &whisper.TranscriptionResult{Language: "en"}, nil
	}
	return &whisper.TranscriptionResult{
		Language: "en",
		Segments: []whisper.TranscriptionSegment{{Start: 2, End: 8, Text: "speech from " + base}},
	}, nil
}

func (e *fakeEngine) HealthCheck(context.Context) (bool, error) { return true, nil }
func (e *fakeEngine) Name() string                              { return "fake" }

type memRecorder struct {
	mu   sync.Mutex
	recs []RunRecord
}

func (m *memRecorder) SaveRun(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

type fixture struct {
	paths    *dependency.PathManager
	tools    *fakeTools
	engine   *fakeEngine
	recorder *memRecorder
	pipeline *Pipeline
}

func newFixture(t *testing.T, tools *fakeTools, engine *fakeEngine) *fixture {
	t.Helper()
	paths := dependency.NewPathManager(t.TempDir())
	planner := chunking.NewPlanner(tools, paths, chunking.DefaultPlannerConfig(), logger.Discard())

	cfg := coordinator.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.ProgressInterval = 0
	coord := coordinator.New(whisper.StaticSelector{Transcriber: engine}, cfg, whisper.TranscribeOptions{}, logger.Discard())

	rec := &memRecorder{}
	p := New(planner, coord, merger.New(merger.DefaultConfig()), paths, logger.Discard(), WithRecorder(rec))
	return &fixture{paths: paths, tools: tools, engine: engine, recorder: rec, pipeline: p}
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t, &fakeTools{duration: 300}, &fakeEngine{})

	var mu sync.Mutex
	var fractions []float64
	res, err := f.pipeline.Run(context.Background(), "/audio/talk.mp3", Options{RunID: "run-ok", Language: "auto"}, func(fr float64, _ string) {
		mu.Lock()
		fractions = append(fractions, fr)
		mu.Unlock()
	})
	require.NoError(t, err)

	meta := res.Metadata
	assert.Equal(t, "run-ok", meta.RunID)
	assert.Equal(t, 3, meta.ChunksPlanned)
	assert.Equal(t, 3, meta.ChunksSucceeded)
	assert.Equal(t, 0, meta.ChunksSkipped)
	assert.Equal(t, 1.0, meta.SuccessRate)
	assert.Equal(t, 300.0, meta.TotalDurationSec)
	assert.Equal(t, 120.0, meta.ChunkSizeSec)
	assert.Equal(t, 5.0, meta.OverlapSec)
	assert.Empty(t, meta.Warnings)
	assert.Contains(t, meta.StageTimings, StagePlan)
	assert.Contains(t, meta.StageTimings, StageFinalize)

	segs := res.Transcript.Segments
	require.Len(t, segs, 3)
	assert.Equal(t, 2.0, segs[0].Start)
	assert.Equal(t, 117.0, segs[1].Start)
	assert.Equal(t, 232.0, segs[2].Start)
	for i := 1; i < len(segs); i++ {
		assert.Greater(t, segs[i].Start, segs[i-1].Start)
		assert.GreaterOrEqual(t, segs[i].Start, segs[i-1].End)
	}
	assert.Equal(t, "en", res.Transcript.Language)

	require.NotEmpty(t, fractions)
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
	assert.Equal(t, 1.0, fractions[len(fractions)-1])

	_, statErr := os.Stat(f.paths.GetRunDir("run-ok"))
	assert.True(t, os.IsNotExist(statErr), "run directory must be removed")

	require.Len(t, f.recorder.recs, 1)
	assert.NoError(t, f.recorder.recs[0].Err)
	assert.Same(t, res, f.recorder.recs[0].Result)
}


func TestRun_RelativeInputResolved(t *testing.T) {
	base := t.TempDir()
	sub := filepath.Join(base, "meetings")
	require.NoError(t, os.Mkdir(sub, 0o755))
	t.Chdir(sub)

	tools := &fakeTools{duration: 300}
	f := newFixture(t, tools, &fakeEngine{})

	res, err := f.pipeline.Run(context.Background(), "../talk.wav", Options{RunID: "run-rel", Language: "auto"}, nil)
	require.NoError(t, err)
	require.NotNil(t, res)

	want := filepath.Join(base, "talk.wav")
	require.NotEmpty(t, tools.probed)
	for _, got := range tools.probed {
		assert.Equal(t, want, got)
	}

	// 解析后的路径可以作为 ffprobe 参数通过校验
	req := dependency.CommandRequest{Command: "ffprobe", Args: []string{"-i", tools.probed[0]}}
	assert.NoError(t, dependency.ValidateCommandRequest(req, dependency.ExecutorConfig{}))
	raw := dependency.CommandRequest{Command: "ffprobe", Args: []string{"-i", "../talk.wav"}}
	assert.Error(t, dependency.ValidateCommandRequest(raw, dependency.ExecutorConfig{}))

	require.Len(t, f.recorder.recs, 1)
	assert.Equal(t, want, f.recorder.recs[0].AudioPath)
}
func TestRun_GeneratesRunID(t *testing.T) {
	f := newFixture(t, &fakeTools{duration: 60}, &fakeEngine{})

	res, err := f.pipeline.Run(context.Background(), "/audio/short.wav", Options{}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Metadata.RunID)
	assert.Equal(t, 1, res.Metadata.ChunksPlanned, "short audio runs single-shot")
}

func TestRun_DurationUnknown(t *testing.T) {
	f := newFixture(t, &fakeTools{probeErr: errors.New("ffprobe: invalid data")}, &fakeEngine{})

	res, err := f.pipeline.Run(context.Background(), "/audio/broken.bin", Options{RunID: "run-bad"}, nil)

	assert.Nil(t, res)
	require.Error(t, err)
	assert.Equal(t, DURATION_UNKNOWN, CodeOf(err))
	assert.ErrorIs(t, err, ErrDurationUnknown)
	_, statErr := os.Stat(f.paths.GetRunDir("run-bad"))
	assert.True(t, os.IsNotExist(statErr))
	require.Len(t, f.recorder.recs, 1)
	assert.Error(t, f.recorder.recs[0].Err)
}

func TestRun_NoChunks(t *testing.T) {
	f := newFixture(t, &fakeTools{duration: 600, extractFail: true}, &fakeEngine{})

	_, err := f.pipeline.Run(context.Background(), "/audio/a.mp3", Options{}, nil)

	assert.Equal(t, NO_CHUNKS, CodeOf(err))
	assert.ErrorIs(t, err, ErrNoChunks)
}

func TestRun_EmptyTranscript(t *testing.T) {
	t.Run("required", func(t *testing.T) {
		f := newFixture(t, &fakeTools{duration: 300}, &fakeEngine{empty: true})
		_, err := f.pipeline.Run(context.Background(), "/audio/silence.wav", Options{RequireNonEmpty: true}, nil)
		assert.Equal(t, EMPTY_TRANSCRIPT, CodeOf(err))
		assert.ErrorIs(t, err, ErrEmptyTranscript)
	})

	t.Run("allowed", func(t *testing.T) {
		f := newFixture(t, &fakeTools{duration: 300}, &fakeEngine{empty: true})
		res, err := f.pipeline.Run(context.Background(), "/audio/silence.wav", Options{}, nil)
		require.NoError(t, err)
		assert.Empty(t, res.Transcript.Segments)
		assert.Equal(t, 1.0, res.Metadata.SuccessRate)
	})
}

func TestRun_ForcedLanguage(t *testing.T) {
	engine := &fakeEngine{}
	f := newFixture(t, &fakeTools{duration: 300}, engine)

	res, err := f.pipeline.Run(context.Background(), "/audio/a.mp3", Options{Language: "fr"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "fr", res.Transcript.Language)
	for _, l := range engine.langs {
		assert.Equal(t, "fr", l)
	}
}

func TestRun_QualityWarnings(t *testing.T) {
	engine := &fakeEngine{fail: map[string]bool{"chunk_0000.wav": true, "chunk_0001.wav": true}}
	f := newFixture(t, &fakeTools{duration: 300}, engine)

	res, err := f.pipeline.Run(context.Background(), "/audio/a.mp3", Options{}, nil)
	require.NoError(t, err)

	meta := res.Metadata
	assert.Equal(t, 2, meta.ChunksSkipped)
	assert.InDelta(t, 1.0/3.0, meta.SuccessRate, 1e-9)
	assert.Len(t, meta.Warnings, 2)
	require.Len(t, meta.Errors, 2)
	assert.Equal(t, 0, meta.Errors[0].ChunkIndex)
	assert.Len(t, res.Transcript.Segments, 1)
}

func TestRun_Canceled(t *testing.T) {
	f := newFixture(t, &fakeTools{duration: 300}, &fakeEngine{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Run(ctx, "/audio/a.mp3", Options{}, nil)

	assert.Equal(t, CANCELED, CodeOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipelineError(t *testing.T) {
	cause := errors.New("disk full")
	err := NewWorkdirError(cause)

	assert.Contains(t, err.Error(), "[WORKDIR_FAILED]")
	assert.ErrorIs(t, err, cause)
	assert.WithinDuration(t, time.Now(), err.Timestamp, time.Second)
	assert.Equal(t, ErrorCode(""), CodeOf(cause))
}
