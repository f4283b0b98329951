// Package metrics provides Prometheus metrics for monitoring chunkscribe components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// chunksTotal 切片处理总数计数器
	// Labels: component (extract/asr), status (success/error/skipped/timeout)
	chunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkscribe_chunks_total",
			Help: "Total number of audio chunks processed by component and status",
		},
		[]string{"component", "status"},
	)

	// chunkRetriesTotal 切片转写重试次数
	chunkRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chunkscribe_chunk_retries_total",
			Help: "Total number of transcription retries after non-timeout failures",
		},
	)

	// chunkDuration 切片处理耗时直方图（秒）
	// Buckets: 0.1s .. 900s
	chunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chunkscribe_chunk_processing_duration_seconds",
			Help:    "Chunk processing duration in seconds by component",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"component"},
	)

	// enginesInFlight 当前正在运行的转写任务数
	enginesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chunkscribe_engine_tasks_in_flight",
			Help: "Number of transcription engine invocations currently running",
		},
	)

	// pipelineRunsTotal 流水线运行次数
	// Labels: result (success/failed)
	pipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkscribe_pipeline_runs_total",
			Help: "Total number of pipeline runs by result",
		},
		[]string{"result"},
	)

	// lastSuccessRate 最近一次运行的成功率
	lastSuccessRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chunkscribe_last_run_success_rate",
			Help: "Fraction of chunks transcribed successfully in the most recent run",
		},
	)

	// commandExecutionTotal records external command executions.
	// Labels:
	//   - command: Command name (e.g., "ffmpeg", "ffprobe", "whisper")
	//   - status: Execution status (e.g., "success", "failed", "timeout")
	commandExecutionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkscribe_command_executions_total",
			Help: "Total number of external command executions",
		},
		[]string{"command", "status"},
	)

	// commandExecutionDuration records the duration of external command executions.
	commandExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chunkscribe_command_duration_seconds",
			Help:    "Duration of external command executions in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"command"},
	)
)

// RecordChunkProcessed 记录切片处理结果
func RecordChunkProcessed(component, status string) {
	chunksTotal.WithLabelValues(component, status).Inc()
}

// RecordChunkRetry 记录一次重试
func RecordChunkRetry() {
	chunkRetriesTotal.Inc()
}

// RecordDuration 记录切片处理耗时（秒）
func RecordDuration(component string, durationSeconds float64) {
	chunkDuration.WithLabelValues(component).Observe(durationSeconds)
}

// EngineStarted and EngineFinished bracket one engine invocation.
func EngineStarted()  { enginesInFlight.Inc() }
func EngineFinished() { enginesInFlight.Dec() }

// RecordPipelineRun 记录一次完整运行
func RecordPipelineRun(success bool, successRate float64) {
	result := "success"
	if !success {
		result = "failed"
	}
	pipelineRunsTotal.WithLabelValues(result).Inc()
	if success {
		lastSuccessRate.Set(successRate)
	}
}

// RecordCommandExecution records a command execution event.
func RecordCommandExecution(command, status string) {
	commandExecutionTotal.WithLabelValues(command, status).Inc()
}

// RecordCommandDuration records the duration of a command execution.
func RecordCommandDuration(command string, durationSeconds float64) {
	commandExecutionDuration.WithLabelValues(command).Observe(durationSeconds)
}
