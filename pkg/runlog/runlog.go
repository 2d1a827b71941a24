package runlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wordflowlab/arbiter/pkg/logging"
)

// RunKind 运行记录的层级
type RunKind string

const (
	RunKindWorkflow RunKind = "workflow"
	RunKindAgent    RunKind = "agent"
	RunKindTool     RunKind = "tool"
)

// Run 一次运行的元数据, 通过ParentID形成父子链
type Run struct {
	// ID 运行ID
	ID string `json:"id"`

	// ParentID 父运行ID(顶层为空)
	ParentID string `json:"parent_id,omitempty"`

	// Kind workflow | agent | tool
	Kind RunKind `json:"kind"`

	// Subject 运行对象(工作流id/agent id/工具名)
	Subject string `json:"subject"`

	// StartTime 开始时间
	StartTime time.Time `json:"start_time"`
}

// Sink 运行日志接收器。
// 核心以fire-and-forget方式调用, 不依赖任何一次上报成功。
type Sink interface {
	// Started 上报运行开始, 返回运行ID供子运行关联
	Started(ctx context.Context, kind RunKind, subject, parentID string) string

	// Completed 上报运行成功结束
	Completed(ctx context.Context, runID string)

	// Failed 上报运行失败
	Failed(ctx context.Context, runID string, reason string)
}

// NopSink 丢弃所有上报
type NopSink struct{}

func (NopSink) Started(ctx context.Context, kind RunKind, subject, parentID string) string {
	return ""
}
func (NopSink) Completed(ctx context.Context, runID string)      {}
func (NopSink) Failed(ctx context.Context, runID, reason string) {}

// LogSink 把运行记录写入Logger的接收器
type LogSink struct {
	mu     sync.Mutex
	logger *logging.Logger
	runs   map[string]*Run
}

// NewLogSink 创建LogSink
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{
		logger: logger.WithFields(map[string]interface{}{"component": "runlog"}),
		runs:   make(map[string]*Run),
	}
}

// Started 记录运行开始
func (s *LogSink) Started(ctx context.Context, kind RunKind, subject, parentID string) string {
	run := &Run{
		ID:        uuid.New().String(),
		ParentID:  parentID,
		Kind:      kind,
		Subject:   subject,
		StartTime: time.Now(),
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	s.logger.Info(ctx, "run started", map[string]interface{}{
		"run_id":    run.ID,
		"parent_id": parentID,
		"kind":      string(kind),
		"subject":   subject,
	})
	return run.ID
}

// Completed 记录运行成功
func (s *LogSink) Completed(ctx context.Context, runID string) {
	run := s.take(runID)
	if run == nil {
		return
	}
	s.logger.Info(ctx, "run completed", map[string]interface{}{
		"run_id":      run.ID,
		"kind":        string(run.Kind),
		"subject":     run.Subject,
		"duration_ms": time.Since(run.StartTime).Milliseconds(),
	})
}

// Failed 记录运行失败
func (s *LogSink) Failed(ctx context.Context, runID, reason string) {
	run := s.take(runID)
	if run == nil {
		return
	}
	s.logger.Warn(ctx, "run failed", map[string]interface{}{
		"run_id":      run.ID,
		"kind":        string(run.Kind),
		"subject":     run.Subject,
		"duration_ms": time.Since(run.StartTime).Milliseconds(),
		"reason":      reason,
	})
}

func (s *LogSink) take(runID string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[runID]
	delete(s.runs, runID)
	return run
}
