package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/chunkscribe/internal/merger"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/degradation"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/health"
	"github.com/houzhh15/chunkscribe/internal/pipeline"
	"github.com/houzhh15/chunkscribe/internal/progress"
	"github.com/houzhh15/chunkscribe/internal/store"
	"github.com/houzhh15/chunkscribe/internal/transcript"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeRunner records what it was asked to run and saves a result like the pipeline recorder would.
type fakeRunner struct {
	st      *store.Store
	release chan struct{}

	mu    sync.Mutex
	calls []pipeline.Options
	seen  []bool // whether the audio file existed during Run
}

func (f *fakeRunner) Run(ctx context.Context, audioPath string, opts pipeline.Options, onProgress progress.Func) (*pipeline.Result, error) {
	_, statErr := os.Stat(audioPath)
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.seen = append(f.seen, statErr == nil)
	f.mu.Unlock()

	onProgress(0.5, pipeline.StageTranscribe)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, pipeline.NewCanceledError(ctx.Err())
		}
	}

	res := &pipeline.Result{
		Transcript: merger.MergedTranscript{
			Language: "en",
			Segments: []transcript.Segment{{Start: 0, End: 2, Text: "hello"}},
		},
		Metadata: pipeline.Metadata{RunID: opts.RunID, ChunksPlanned: 1, ChunksSucceeded: 1, SuccessRate: 1},
	}
	now := time.Now()
	err := f.st.SaveRun(context.Background(), pipeline.RunRecord{
		RunID: opts.RunID, AudioPath: audioPath, Options: opts,
		StartedAt: now, FinishedAt: now, Result: res,
	})
	return res, err
}

type fakeEngine struct{ snap degradation.Snapshot }

func (f fakeEngine) Snapshot() degradation.Snapshot { return f.snap }

func newTestServer(t *testing.T, maxRuns int64, runner *fakeRunner, engine EngineStatus) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"), discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	runner.st = st

	srv := New(runner, st, engine, Config{
		UploadDir:         filepath.Join(t.TempDir(), "uploads"),
		MaxConcurrentRuns: maxRuns,
		MaxUploadMB:       10,
	}, discard())
	return srv, srv.Router()
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postJSON(t *testing.T, r http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return do(r, req)
}

func runIDFrom(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			RunID  string `json:"run_id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	assert.Equal(t, store.StatusRunning, resp.Data.Status)
	require.NotEmpty(t, resp.Data.RunID)
	return resp.Data.RunID
}

func writeAudio(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "talk.wav")
	require.NoError(t, os.WriteFile(p, []byte("RIFF"), 0o644))
	return p
}

func TestCreateFromPathAndFetch(t *testing.T) {
	runner := &fakeRunner{}
	srv, r := newTestServer(t, 2, runner, nil)

	w := postJSON(t, r, map[string]any{"path": writeAudio(t), "language": "de", "concurrency": 3, "require_text": true})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := runIDFrom(t, w)

	srv.Wait()

	require.Len(t, runner.calls, 1)
	assert.Equal(t, pipeline.Options{RunID: id, Language: "de", MaxConcurrency: 3, RequireNonEmpty: true}, runner.calls[0])

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/transcriptions/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Run      store.Run       `json:"run"`
			Progress json.RawMessage `json:"progress"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, store.StatusSucceeded, resp.Data.Run.Status)
	require.NotNil(t, resp.Data.Run.Result)
	assert.Equal(t, "hello", resp.Data.Run.Result.Transcript.Segments[0].Text)
	assert.Empty(t, resp.Data.Progress)
}

func TestCreateFromUpload(t *testing.T) {
	runner := &fakeRunner{}
	srv, r := newTestServer(t, 1, runner, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "meeting.mp3")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("ID3 fake audio"))
	require.NoError(t, mw.WriteField("single_shot", "true"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := do(r, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := runIDFrom(t, w)

	srv.Wait()

	require.Len(t, runner.calls, 1)
	assert.True(t, runner.seen[0], "upload must exist while running")
	assert.True(t, runner.calls[0].SingleShot)

	_, err = os.Stat(filepath.Join(srv.cfg.UploadDir, id+".mp3"))
	assert.True(t, os.IsNotExist(err), "upload should be removed after the run")
}

func TestCreateRejectsBadInput(t *testing.T) {
	_, r := newTestServer(t, 1, &fakeRunner{}, nil)

	w := postJSON(t, r, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, r, map[string]any{"path": filepath.Join(t.TempDir(), "missing.wav")})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, r, map[string]any{"path": t.TempDir()})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, r, map[string]any{"path": writeAudio(t), "concurrency": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateReturns429WhenSaturated(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	srv, r := newTestServer(t, 1, runner, nil)
	audio := writeAudio(t)

	w := postJSON(t, r, map[string]any{"path": audio})
	require.Equal(t, http.StatusAccepted, w.Code)
	id := runIDFrom(t, w)

	w = postJSON(t, r, map[string]any{"path": audio})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// 运行中的任务带进度
	require.Eventually(t, func() bool {
		p, ok := srv.getProgress(id)
		return ok && p.Stage == pipeline.StageTranscribe
	}, time.Second, 10*time.Millisecond)
	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/transcriptions/"+id, nil))
	assert.Contains(t, w.Body.String(), `"progress"`)

	close(runner.release)
	srv.Wait()

	w = postJSON(t, r, map[string]any{"path": audio})
	assert.Equal(t, http.StatusAccepted, w.Code)
	srv.Wait()
}

func TestShutdownCancelsRuns(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	srv, r := newTestServer(t, 1, runner, nil)

	w := postJSON(t, r, map[string]any{"path": writeAudio(t)})
	require.Equal(t, http.StatusAccepted, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Equal(t, int64(0), srv.limiter.InFlight())
}

func TestGetUnknownRun(t *testing.T) {
	_, r := newTestServer(t, 1, &fakeRunner{}, nil)
	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/transcriptions/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRuns(t *testing.T) {
	runner := &fakeRunner{}
	srv, r := newTestServer(t, 2, runner, nil)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/transcriptions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)

	require.Equal(t, http.StatusAccepted, postJSON(t, r, map[string]any{"path": writeAudio(t)}).Code)
	srv.Wait()

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/transcriptions?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []store.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/transcriptions?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEngineHealth(t *testing.T) {
	_, r := newTestServer(t, 1, &fakeRunner{}, nil)
	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/engine/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"health_checks":false`)

	engine := fakeEngine{snap: degradation.Snapshot{
		Primary: "local-whisper", Fallback: "mock", Current: "mock", Degraded: true,
		Health: health.ServiceStatus{Engine: "local-whisper", ConsecutiveFails: 3, ErrorMessage: "exit status 1"},
	}}
	_, r = newTestServer(t, 1, &fakeRunner{}, engine)
	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/engine/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data degradation.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Degraded)
	assert.Equal(t, "mock", resp.Data.Current)
	assert.Equal(t, 3, resp.Data.Health.ConsecutiveFails)
}

func TestHealthzAndMetrics(t *testing.T) {
	_, r := newTestServer(t, 3, &fakeRunner{}, nil)

	w := do(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"runs_capacity":3`)

	w = do(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
