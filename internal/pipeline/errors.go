package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/houzhh15/chunkscribe/internal/chunking"
)

// ErrorCode 表示流水线失败类型代码
type ErrorCode string

const (
	// DURATION_UNKNOWN 无法探测音频时长
	DURATION_UNKNOWN ErrorCode = "DURATION_UNKNOWN"

	// NO_CHUNKS 没有任何切片提取成功
	NO_CHUNKS ErrorCode = "NO_CHUNKS"

	// EMPTY_TRANSCRIPT 要求非空输出但合并结果为空
	EMPTY_TRANSCRIPT ErrorCode = "EMPTY_TRANSCRIPT"

	// WORKDIR_FAILED 无法创建运行目录
	WORKDIR_FAILED ErrorCode = "WORKDIR_FAILED"

	// CANCELED 调用方取消（Ctrl-C、HTTP 断开）
	CANCELED ErrorCode = "CANCELED"
)

var (
	ErrDurationUnknown = chunking.ErrDurationUnknown
	ErrNoChunks        = chunking.ErrNoChunks
	ErrEmptyTranscript = errors.New("transcript is empty")
)

// PipelineError 表示一次运行的致命错误
type PipelineError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error 实现 error 接口
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现错误链支持
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError 创建新的流水线错误
func NewPipelineError(code ErrorCode, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// CodeOf extracts the code from err, or "" when err is not a PipelineError.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// NewDurationUnknownError 创建时长未知错误
func NewDurationUnknownError(cause error) *PipelineError {
	return NewPipelineError(DURATION_UNKNOWN, "无法确定音频时长", cause)
}

// NewNoChunksError 创建无可用切片错误
func NewNoChunksError(cause error) *PipelineError {
	return NewPipelineError(NO_CHUNKS, "没有可转写的切片", cause)
}

// NewEmptyTranscriptError 创建空转写错误
func NewEmptyTranscriptError() *PipelineError {
	return NewPipelineError(EMPTY_TRANSCRIPT, "合并后没有任何文本", ErrEmptyTranscript)
}

// NewWorkdirError 创建运行目录错误
func NewWorkdirError(cause error) *PipelineError {
	return NewPipelineError(WORKDIR_FAILED, "无法创建运行目录", cause)
}

// NewCanceledError 创建取消错误
func NewCanceledError(cause error) *PipelineError {
	return NewPipelineError(CANCELED, "运行已取消", cause)
}
