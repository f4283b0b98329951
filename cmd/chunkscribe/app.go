package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/houzhh15/chunkscribe/internal/chunking"
	"github.com/houzhh15/chunkscribe/internal/config"
	"github.com/houzhh15/chunkscribe/internal/coordinator"
	"github.com/houzhh15/chunkscribe/internal/merger"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/degradation"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/dependency"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/health"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/whisper"
	"github.com/houzhh15/chunkscribe/internal/pipeline"
	"github.com/houzhh15/chunkscribe/internal/store"
	"github.com/houzhh15/chunkscribe/internal/telemetry"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

// app 是一次命令执行所需的全部组件
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   *dependency.DependencyClient
	pipeline *pipeline.Pipeline
	store    *store.Store

	// degrade/health 仅在启用健康检查时存在
	degrade *degradation.DegradationController
	health  *health.HealthChecker

	closers []func(context.Context) error
}

// setupTracing 可在测试中替换
var setupTracing = telemetry.Setup

// buildApp wires config → logger → telemetry → tools → engine → pipeline → store.
// A store that cannot be opened is logged and skipped unless requireStore is set.
func buildApp(ctx context.Context, cfg *config.Config, requireStore bool) (_ *app, err error) {
	log, err := logger.Init(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, logger: log}
	// 构建中途失败时释放已获取的资源
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	shutdownTracing, err := setupTracing(ctx, cfg.Telemetry, os.Stderr, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	execCfg := cfg.ExecutorConfig()
	a.client = dependency.NewClient(execCfg)

	primary, err := whisper.New(cfg.Engine, a.client.Executor(), execCfg)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	var selector whisper.Selector = whisper.StaticSelector{Transcriber: primary}
	if cfg.Health.Enabled {
		fallback, err := whisper.New(cfg.Health.Fallback, a.client.Executor(), execCfg)
		if err != nil {
			return nil, fmt.Errorf("init fallback engine: %w", err)
		}
		a.health = health.NewHealthChecker(primary, cfg.Health.Interval, cfg.Health.FailThreshold)
		a.degrade = degradation.NewDegradationController(primary, fallback, a.health)
		selector = a.degrade

		hcCtx, cancel := context.WithCancel(context.Background())
		go a.health.Start(hcCtx)
		a.closers = append(a.closers, func(context.Context) error {
			cancel()
			a.health.Stop()
			return nil
		})
	}

	paths := a.client.PathManager()
	planner := chunking.NewPlanner(a.client, paths, cfg.Planner, log)
	coord := coordinator.New(selector, cfg.Coordinator, whisper.TranscribeOptions{
		Model:       cfg.Engine.Model,
		Prompt:      cfg.Engine.Prompt,
		Temperature: cfg.Engine.Temperature,
	}, log)
	m := merger.New(cfg.Merger)

	var opts []pipeline.Option
	st, err := store.Open(ctx, storePath(cfg), log)
	switch {
	case err == nil:
		a.store = st
		opts = append(opts, pipeline.WithRecorder(st))
		a.closers = append(a.closers, func(context.Context) error { return st.Close() })
	case requireStore:
		return nil, fmt.Errorf("open run store: %w", err)
	default:
		log.Warn("run history disabled", "path", storePath(cfg), "error", err)
	}

	a.pipeline = pipeline.New(planner, coord, m, paths, log, opts...)
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
}
