// Package api exposes the transcription pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/houzhh15/chunkscribe/internal/orchestrator/degradation"
	"github.com/houzhh15/chunkscribe/internal/pipeline"
	"github.com/houzhh15/chunkscribe/internal/progress"
	"github.com/houzhh15/chunkscribe/internal/store"
)

// Runner runs one transcription; *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, audioPath string, opts pipeline.Options, onProgress progress.Func) (*pipeline.Result, error)
}

// RunStore is the history surface the API reads and seeds; *store.Store implements it.
type RunStore interface {
	MarkRunning(ctx context.Context, runID, audioPath string) error
	GetRun(ctx context.Context, runID string) (*store.Run, error)
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
}

// EngineStatus reports engine selection; *degradation.DegradationController implements it.
type EngineStatus interface {
	Snapshot() degradation.Snapshot
}

// Config holds the server knobs.
type Config struct {
	// UploadDir 上传文件暂存目录
	UploadDir         string
	MaxConcurrentRuns int64
	MaxUploadMB       int64
	Production        bool
}

// Server owns the routes and the background runs they start.
type Server struct {
	runner  Runner
	runs    RunStore
	engine  EngineStatus
	limiter *RunLimiter
	cfg     Config
	logger  *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.RWMutex
	progress map[string]runProgress
}

type runProgress struct {
	Fraction float64 `json:"fraction"`
	Stage    string  `json:"stage"`
}

// New creates a Server. engine may be nil when health checking is disabled.
func New(runner Runner, runs RunStore, engine EngineStatus, cfg Config, l *slog.Logger) *Server {
	if l == nil {
		l = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		runner:   runner,
		runs:     runs,
		engine:   engine,
		limiter:  NewRunLimiter(cfg.MaxConcurrentRuns),
		cfg:      cfg,
		logger:   l.With("component", "api"),
		baseCtx:  ctx,
		cancel:   cancel,
		progress: make(map[string]runProgress),
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.logger))

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/transcriptions", s.handleCreate)
		v1.GET("/transcriptions", s.handleList)
		v1.GET("/transcriptions/:id", s.handleGet)
		v1.GET("/engine/health", s.handleEngineHealth)
	}
	return r
}

// Shutdown cancels in-flight runs and waits for them until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every background run has finished.
func (s *Server) Wait() { s.wg.Wait() }

type createRequest struct {
	Path        string `json:"path" form:"path"`
	Language    string `json:"language" form:"language"`
	Concurrency int    `json:"concurrency" form:"concurrency"`
	SingleShot  bool   `json:"single_shot" form:"single_shot"`
	RequireText bool   `json:"require_text" form:"require_text"`
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Concurrency < 0 {
		badRequest(c, "concurrency must be >= 0")
		return
	}

	if !s.limiter.TryAcquire() {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error":   fmt.Sprintf("too many concurrent runs (max %d)", s.limiter.Capacity()),
		})
		return
	}
	started := false
	defer func() {
		// 启动成功后由后台任务释放
		if !started {
			s.limiter.Release()
		}
	}()

	runID := uuid.NewString()
	audioPath, cleanup, err := s.resolveAudio(c, runID, req.Path)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := s.runs.MarkRunning(c.Request.Context(), runID, audioPath); err != nil {
		cleanup()
		s.logger.Error("mark run failed", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to record run"})
		return
	}

	opts := pipeline.Options{
		RunID:           runID,
		Language:        req.Language,
		MaxConcurrency:  req.Concurrency,
		SingleShot:      req.SingleShot,
		RequireNonEmpty: req.RequireText,
	}

	s.setProgress(runID, runProgress{Stage: pipeline.StagePlan})
	started = true
	s.wg.Add(1)
	go s.execute(runID, audioPath, opts, cleanup)

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data":    gin.H{"run_id": runID, "status": store.StatusRunning},
	})
}

func (s *Server) execute(runID, audioPath string, opts pipeline.Options, cleanup func()) {
	defer s.wg.Done()
	defer s.limiter.Release()
	defer cleanup()
	defer s.clearProgress(runID)

	start := time.Now()
	_, err := s.runner.Run(s.baseCtx, audioPath, opts, func(fraction float64, stage string) {
		s.setProgress(runID, runProgress{Fraction: fraction, Stage: stage})
	})
	if err != nil {
		s.logger.Warn("run failed", "run_id", runID, "code", pipeline.CodeOf(err), "error", err)
		return
	}
	s.logger.Info("run finished", "run_id", runID, "elapsed_ms", time.Since(start).Milliseconds())
}

// resolveAudio returns the path to transcribe: an uploaded "file" part saved
// under UploadDir, or an existing local path from the request body.
func (s *Server) resolveAudio(c *gin.Context, runID, path string) (string, func(), error) {
	noop := func() {}

	fh, err := c.FormFile("file")
	if err == nil {
		if s.cfg.MaxUploadMB > 0 && fh.Size > s.cfg.MaxUploadMB<<20 {
			return "", noop, fmt.Errorf("upload exceeds %d MB", s.cfg.MaxUploadMB)
		}
		if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
			return "", noop, fmt.Errorf("prepare upload dir: %w", err)
		}
		dst := filepath.Join(s.cfg.UploadDir, runID+filepath.Ext(filepath.Base(fh.Filename)))
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			return "", noop, fmt.Errorf("save upload: %w", err)
		}
		return dst, func() { _ = os.Remove(dst) }, nil
	}
	if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		return "", noop, fmt.Errorf("read upload: %w", err)
	}

	if path == "" {
		return "", noop, errors.New("either a file upload or a path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", noop, fmt.Errorf("audio not accessible: %v", err)
	}
	if info.IsDir() {
		return "", noop, fmt.Errorf("audio path is a directory: %s", path)
	}
	return path, noop, nil
}

func (s *Server) handleGet(c *gin.Context) {
	id := c.Param("id")
	run, err := s.runs.GetRun(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "run not found"})
		return
	}
	if err != nil {
		s.logger.Error("get run failed", "run_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load run"})
		return
	}

	data := gin.H{"run": run}
	if p, ok := s.getProgress(id); ok && run.Status == store.StatusRunning {
		data["progress"] = p
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (s *Server) handleList(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": runs})
}

// handleEngineHealth 返回当前引擎与降级状态
func (s *Server) handleEngineHealth(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    gin.H{"health_checks": false},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": s.engine.Snapshot()})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"runs_inflight": s.limiter.InFlight(),
		"runs_capacity": s.limiter.Capacity(),
	})
}

func (s *Server) setProgress(runID string, p runProgress) {
	s.mu.Lock()
	s.progress[runID] = p
	s.mu.Unlock()
}

func (s *Server) getProgress(runID string) (runProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[runID]
	return p, ok
}

func (s *Server) clearProgress(runID string) {
	s.mu.Lock()
	delete(s.progress, runID)
	s.mu.Unlock()
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}
