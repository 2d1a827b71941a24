package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/wordflowlab/arbiter/pkg/agent"
	"github.com/wordflowlab/arbiter/pkg/provider"
	"github.com/wordflowlab/arbiter/pkg/runlog"
	"github.com/wordflowlab/arbiter/pkg/tools"
	"github.com/wordflowlab/arbiter/pkg/types"
)

// Runtime Agent注册表: 持有所有活跃Agent, 全局工具目录和模型后端。
// 所有map都是实例own的状态, 只通过方法变更, 并发安全。
type Runtime struct {
	mu       sync.RWMutex
	provider provider.Provider
	globals  *tools.Registry
	agents   map[string]*agent.Agent
	configs  map[string]types.AgentConfig
	usage    map[string]*types.TokenUsage
	sink     runlog.Sink
}

// New 创建Runtime。sink为nil时使用NopSink。
func New(prov provider.Provider, sink runlog.Sink) *Runtime {
	if sink == nil {
		sink = runlog.NopSink{}
	}
	return &Runtime{
		provider: prov,
		globals:  tools.NewRegistry(),
		agents:   make(map[string]*agent.Agent),
		configs:  make(map[string]types.AgentConfig),
		usage:    make(map[string]*types.TokenUsage),
		sink:     sink,
	}
}

// GlobalTools 返回全局工具注册表
func (r *Runtime) GlobalTools() *tools.Registry { return r.globals }

// CreateAgent 校验配置, 创建Agent, 把availableTools中已注册的全局工具
// 附加到它的私有目录, 并同时保存活跃Agent和原始配置。
// 配置单独保存是因为配置查询必须无副作用。
func (r *Runtime) CreateAgent(config types.AgentConfig) (*agent.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[config.ID]; exists {
		return nil, fmt.Errorf("agent already registered: %s", config.ID)
	}

	a, err := agent.New(config, r.provider)
	if err != nil {
		return nil, err
	}

	for _, name := range config.AvailableTools {
		if tool, ok := r.globals.Get(name); ok {
			a.RegisterTool(tool)
		}
	}

	r.agents[config.ID] = a
	r.configs[config.ID] = config
	return a, nil
}

// RemoveAgent 注销Agent, 丢弃其会话和token计数。
// 私有工具随Agent一起消失, 全局工具不受影响。
func (r *Runtime) RemoveAgent(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[agentID]; !ok {
		return types.NewNotFoundError("agent", agentID)
	}
	delete(r.agents, agentID)
	delete(r.configs, agentID)
	delete(r.usage, agentID)
	return nil
}

// GetAgent 按id获取活跃Agent
func (r *Runtime) GetAgent(agentID string) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[agentID]
	if !ok {
		return nil, types.NewNotFoundError("agent", agentID)
	}
	return a, nil
}

// GetAgentConfig 查询Agent的原始配置, 无副作用
func (r *Runtime) GetAgentConfig(agentID string) (types.AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.configs[agentID]
	if !ok {
		return types.AgentConfig{}, types.NewNotFoundError("agent", agentID)
	}
	return config, nil
}

// ListAgents 列出所有已注册Agent的配置
func (r *Runtime) ListAgents() []types.AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.AgentConfig, 0, len(r.configs))
	for _, config := range r.configs {
		out = append(out, config)
	}
	return out
}

// RegisterGlobalTool 注册全局工具, 并追溯附加到所有
// availableTools已声明该工具的存量Agent。
// 全局工具注册和Agent创建的先后顺序因此不影响结果。
func (r *Runtime) RegisterGlobalTool(tool tools.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.globals.Register(tool)

	for id, a := range r.agents {
		for _, name := range r.configs[id].AvailableTools {
			if name == tool.Name() {
				a.RegisterTool(tool)
				break
			}
		}
	}
}

// ExecuteAgent 执行指定Agent的一次推理步骤并累计token用量
func (r *Runtime) ExecuteAgent(ctx context.Context, agentID string, input map[string]interface{}, userPrompt string) (*types.AgentExecutionResult, error) {
	a, err := r.GetAgent(agentID)
	if err != nil {
		return nil, err
	}

	runID := r.sink.Started(ctx, runlog.RunKindAgent, agentID, parentRunID(ctx))

	result, err := a.Execute(ctx, input, userPrompt)
	if err != nil {
		r.sink.Failed(ctx, runID, err.Error())
		return nil, err
	}
	r.sink.Completed(ctx, runID)

	if result.TokensUsed > 0 {
		r.mu.Lock()
		u, ok := r.usage[agentID]
		if !ok {
			u = &types.TokenUsage{}
			r.usage[agentID] = u
		}
		u.TotalTokens += result.TokensUsed
		r.mu.Unlock()
	}

	return result, nil
}

// ExecuteToolCall 执行指定Agent的一次工具调用。
// Agent未知返回NotFound; 工具层面的失败以结果形式返回, 不报错。
func (r *Runtime) ExecuteToolCall(ctx context.Context, agentID string, call types.ToolCallRequest) (*types.ToolCallOutcome, error) {
	a, err := r.GetAgent(agentID)
	if err != nil {
		return nil, err
	}

	runID := r.sink.Started(ctx, runlog.RunKindTool, call.ToolName, parentRunID(ctx))
	outcome := a.ExecuteToolCall(ctx, call)
	if outcome.Success {
		r.sink.Completed(ctx, runID)
	} else {
		r.sink.Failed(ctx, runID, outcome.Error)
	}
	return outcome, nil
}

// CreateAgentTool 把目标Agent包装成一个可调用的工具,
// 让一个Agent可以作为另一个Agent的工具被组合。
// 没有内建的深度或环检测; 组合出环的图由调用方自己避免。
func (r *Runtime) CreateAgentTool(target types.AgentConfig) tools.Tool {
	schema := target.InputSchema
	if schema == nil {
		schema = map[string]interface{}{"type": "object"}
	}

	description := target.Description
	if description == "" {
		description = fmt.Sprintf("Delegate a task to agent %s", target.Name)
	}

	return &tools.FuncTool{
		ToolName:        target.ID,
		ToolDescription: description,
		Schema:          schema,
		Fn: func(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
			result, err := r.ExecuteAgent(ctx, target.ID, params, "")
			if err != nil {
				return &tools.Result{Success: false, Error: err.Error()}, nil
			}
			return &tools.Result{
				Success: result.Status != types.AgentStatusError,
				Data:    result,
				Metadata: map[string]interface{}{
					"agent_id": target.ID,
					"status":   string(result.Status),
				},
			}, nil
		},
	}
}

// TokenUsage 查询指定Agent累计的token用量
func (r *Runtime) TokenUsage(agentID string) types.TokenUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.usage[agentID]; ok {
		return *u
	}
	return types.TokenUsage{}
}

// ResetTokenUsage 重置指定Agent的token计数, 不影响会话历史
func (r *Runtime) ResetTokenUsage(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.usage, agentID)
}

// =========================
// 运行上下文
// =========================

type runIDKey struct{}

// WithParentRun 把父运行ID注入上下文, 用于运行日志的父子关联
func WithParentRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func parentRunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}
