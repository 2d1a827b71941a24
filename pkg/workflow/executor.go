package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wordflowlab/arbiter/pkg/logging"
	"github.com/wordflowlab/arbiter/pkg/runtime"
	"github.com/wordflowlab/arbiter/pkg/types"
)

// DefaultMaxIterations 单个Agent在一次执行中最多的推理轮数
const DefaultMaxIterations = 10

// Definition 工作流定义: 一组按层级顺序执行的Agent
type Definition struct {
	// ID 工作流唯一标识
	ID string `json:"id" yaml:"id"`

	// Name 工作流名称
	Name string `json:"name" yaml:"name"`

	// Agents 参与执行的Agent id列表, 实际顺序按各Agent的Level升序
	Agents []string `json:"agents" yaml:"agents"`

	// MaxIterations 每个Agent的推理轮数上限, 0使用默认值
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
}

// ExecutionStatus 一次工作流执行的状态
type ExecutionStatus string

const (
	// ExecutionRunning 执行中
	ExecutionRunning ExecutionStatus = "running"

	// ExecutionCompleted 正常结束
	ExecutionCompleted ExecutionStatus = "completed"

	// ExecutionFailed 执行失败
	ExecutionFailed ExecutionStatus = "failed"

	// ExecutionCancelled 被调用方取消
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// StepResult 单个Agent在一次执行中的汇总
type StepResult struct {
	// AgentID Agent标识
	AgentID string `json:"agent_id"`

	// Iterations 实际消耗的推理轮数
	Iterations int `json:"iterations"`

	// Status Agent最后一轮的状态
	Status types.AgentStatus `json:"status"`

	// Reasoning Agent最后一轮的推理说明
	Reasoning string `json:"reasoning,omitempty"`
}

// Execution 一次工作流执行的记录
type Execution struct {
	// ID 执行唯一标识
	ID string `json:"id"`

	// WorkflowID 所属工作流
	WorkflowID string `json:"workflow_id"`

	// EventID 触发本次执行的事件
	EventID string `json:"event_id"`

	// Status 执行状态
	Status ExecutionStatus `json:"status"`

	// StartedAt 开始时间
	StartedAt time.Time `json:"started_at"`

	// CompletedAt 结束时间, 执行中为nil
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error 失败原因
	Error string `json:"error,omitempty"`

	// Steps 各Agent的执行汇总
	Steps []StepResult `json:"steps,omitempty"`
}

// Executor 工作流执行器。
// 把一个触发事件转化为一串Agent推理循环: 按Level升序逐个驱动
// 工作流内的Agent, 每个Agent在界内循环里执行工具调用并把结果
// 回喂给模型, 直到它报告完成或耗尽轮数。
// Executor自身是Dispatcher的事件处理函数来源(见Process)。
type Executor struct {
	mu         sync.RWMutex
	runtime    *runtime.Runtime
	workflows  map[string]*Definition
	executions map[string]*Execution
	cancels    map[string]context.CancelFunc
	logger     *logging.Logger
}

// NewExecutor 创建执行器
func NewExecutor(rt *runtime.Runtime, logger *logging.Logger) *Executor {
	return &Executor{
		runtime:    rt,
		workflows:  make(map[string]*Definition),
		executions: make(map[string]*Execution),
		cancels:    make(map[string]context.CancelFunc),
		logger:     logger.WithFields(map[string]interface{}{"component": "executor"}),
	}
}

// RegisterDefinition 登记工作流定义, 同id覆盖
func (e *Executor) RegisterDefinition(def Definition) error {
	if def.ID == "" {
		return types.NewValidationError("id")
	}
	if len(def.Agents) == 0 {
		return types.NewValidationError("agents")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[def.ID] = &def
	return nil
}

// RemoveDefinition 移除工作流定义, 不影响进行中的执行
func (e *Executor) RemoveDefinition(workflowID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.workflows[workflowID]; !ok {
		return types.NewNotFoundError("workflow", workflowID)
	}
	delete(e.workflows, workflowID)
	return nil
}

// GetDefinition 查询工作流定义
func (e *Executor) GetDefinition(workflowID string) (Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	def, ok := e.workflows[workflowID]
	if !ok {
		return Definition{}, types.NewNotFoundError("workflow", workflowID)
	}
	return *def, nil
}

// Process 事件处理入口, 签名与types.EventProcessor一致。
// 执行失败时返回错误, 由分发例程转成带内结果。
func (e *Executor) Process(event *types.Event, handler *types.Handler) error {
	exec, err := e.ExecuteWorkflow(context.Background(), handler.WorkflowID, event)
	if err != nil {
		return err
	}
	if exec.Status == ExecutionFailed {
		return fmt.Errorf("workflow execution failed: %s", exec.Error)
	}
	return nil
}

// ExecuteWorkflow 同步执行一次工作流。
// 执行记录在开始时登记, 无论结果如何都保留供查询;
// 任意一个Agent失败即中止后续Agent。
func (e *Executor) ExecuteWorkflow(ctx context.Context, workflowID string, event *types.Event) (*Execution, error) {
	e.mu.RLock()
	def, ok := e.workflows[workflowID]
	e.mu.RUnlock()
	if !ok {
		return nil, types.NewNotFoundError("workflow", workflowID)
	}

	agents, err := e.orderedAgents(def)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exec := &Execution{
		ID:         "exec_" + uuid.New().String()[:8],
		WorkflowID: workflowID,
		EventID:    event.ID,
		Status:     ExecutionRunning,
		StartedAt:  time.Now(),
	}

	e.mu.Lock()
	e.executions[exec.ID] = exec
	e.cancels[exec.ID] = cancel
	e.mu.Unlock()

	maxIter := def.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	for _, agentID := range agents {
		step, stepErr := e.runAgent(execCtx, agentID, event, maxIter)
		if step != nil {
			e.mu.Lock()
			exec.Steps = append(exec.Steps, *step)
			e.mu.Unlock()
		}
		if stepErr != nil {
			if execCtx.Err() != nil {
				e.finish(exec, ExecutionCancelled, "execution cancelled")
			} else {
				e.finish(exec, ExecutionFailed, stepErr.Error())
			}
			return exec, nil
		}
	}

	e.finish(exec, ExecutionCompleted, "")
	return exec, nil
}

// runAgent 驱动单个Agent的推理循环。
// 第一轮输入是触发事件, 之后每轮把工具调用结果和上一轮推理
// 回喂给模型; Agent报告completed/need_info即停,
// error视为失败, 轮数耗尽同样视为失败。
func (e *Executor) runAgent(ctx context.Context, agentID string, event *types.Event, maxIter int) (*StepResult, error) {
	input := map[string]interface{}{"event": event}
	step := &StepResult{AgentID: agentID}

	for i := 0; i < maxIter; i++ {
		if err := ctx.Err(); err != nil {
			return step, err
		}

		result, err := e.runtime.ExecuteAgent(ctx, agentID, input, "")
		if err != nil {
			return step, err
		}

		step.Iterations = i + 1
		step.Status = result.Status
		step.Reasoning = result.Reasoning

		switch result.Status {
		case types.AgentStatusCompleted, types.AgentStatusNeedInfo:
			return step, nil
		case types.AgentStatusError:
			return step, fmt.Errorf("agent %s reported error: %s", agentID, result.Reasoning)
		}

		// working但没有任何工具调用, 再循环也不会有新输入
		if len(result.ToolCalls) == 0 {
			return step, nil
		}

		outcomes := make([]types.ToolCallOutcome, 0, len(result.ToolCalls))
		for _, call := range result.ToolCalls {
			outcome, err := e.runtime.ExecuteToolCall(ctx, agentID, call)
			if err != nil {
				outcome = &types.ToolCallOutcome{ToolName: call.ToolName, Error: err.Error()}
			}
			outcomes = append(outcomes, *outcome)
		}

		input = map[string]interface{}{
			"tool_results":       outcomes,
			"previous_reasoning": result.Reasoning,
		}
	}

	return step, fmt.Errorf("agent %s did not finish within %d iterations", agentID, maxIter)
}

// orderedAgents 按Level升序排列工作流内的Agent, 同级保持定义顺序
func (e *Executor) orderedAgents(def *Definition) ([]string, error) {
	type entry struct {
		id    string
		level int
	}

	entries := make([]entry, 0, len(def.Agents))
	for _, id := range def.Agents {
		config, err := e.runtime.GetAgentConfig(id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{id: id, level: config.Level})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].level < entries[j].level
	})

	out := make([]string, len(entries))
	for i, en := range entries {
		out[i] = en.id
	}
	return out, nil
}

// finish 落定执行状态并释放取消句柄
func (e *Executor) finish(exec *Execution, status ExecutionStatus, errMsg string) {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	exec.Status = status
	exec.CompletedAt = &now
	exec.Error = errMsg
	delete(e.cancels, exec.ID)

	e.logger.Info(context.Background(), "workflow execution finished", map[string]interface{}{
		"execution_id": exec.ID,
		"workflow_id":  exec.WorkflowID,
		"status":       string(status),
	})
}

// GetExecution 查询单次执行的快照
func (e *Executor) GetExecution(executionID string) (Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	exec, ok := e.executions[executionID]
	if !ok {
		return Execution{}, types.NewNotFoundError("execution", executionID)
	}
	return *exec, nil
}

// GetActiveExecutions 列出所有仍在运行的执行
func (e *Executor) GetActiveExecutions() []Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Execution, 0)
	for _, exec := range e.executions {
		if exec.Status == ExecutionRunning {
			out = append(out, *exec)
		}
	}
	return out
}

// CancelExecution 取消一次进行中的执行。
// 取消在Agent轮次边界生效, 进行中的模型调用不会被打断。
func (e *Executor) CancelExecution(executionID string) error {
	e.mu.Lock()
	exec, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return types.NewNotFoundError("execution", executionID)
	}
	cancel, hasCancel := e.cancels[executionID]
	e.mu.Unlock()

	if exec.Status != ExecutionRunning || !hasCancel {
		return types.NewBackendError("executor", "execution is not running")
	}
	cancel()
	return nil
}
