package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wordflowlab/arbiter/pkg/provider"
	"github.com/wordflowlab/arbiter/pkg/tools"
	"github.com/wordflowlab/arbiter/pkg/types"
)

// protocolPreamble 固定的协议前导, 指示模型以结构化JSON回复。
const protocolPreamble = `You are an autonomous agent. Always respond with a single JSON object of the form:
{
  "reasoning": "<your reasoning about the current task state>",
  "tool_calls": [{"tool_name": "<name>", "parameters": {}, "purpose": "<why>", "sequence_order": 1}],
  "next_steps": "<what you plan to do next>",
  "status": "working" | "completed" | "need_info" | "error"
}
Use an empty tool_calls array when no tool is needed. Do not add any text outside the JSON object.`

// Agent 一个有状态的会话式Agent。
// 独占一份会话历史和一个私有工具目录, 每次Execute只做一次模型往返;
// 多步循环由调用方驱动, Agent自身不解释status。
// mu保护会话与工具目录: RegisterTool可能在一次模型往返进行中被调用
// (全局工具的追溯注册), 模型调用基于加锁时拿到的会话快照。
type Agent struct {
	mu           sync.Mutex
	config       types.AgentConfig
	provider     provider.Provider
	conversation []types.ConversationMessage
	tools        map[string]tools.Tool
}

// New 校验配置并创建Agent。
// 会话以系统消息(长度1)开始。
func New(config types.AgentConfig, prov provider.Provider) (*Agent, error) {
	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	a := &Agent{
		config:   config,
		provider: prov,
		tools:    make(map[string]tools.Tool),
	}
	a.conversation = []types.ConversationMessage{{
		Role:      types.RoleSystem,
		Content:   a.buildSystemMessage(),
		Timestamp: time.Now(),
	}}

	return a, nil
}

// ValidateConfig 校验AgentConfig, 返回带违规字段列表的ValidationError。
func ValidateConfig(config *types.AgentConfig) error {
	var fields []string
	if config.ID == "" {
		fields = append(fields, "id")
	}
	if config.Name == "" {
		fields = append(fields, "name")
	}
	if config.SystemPrompt == "" {
		fields = append(fields, "systemPrompt")
	}
	if config.Model == "" {
		fields = append(fields, "model")
	}
	if config.Level < 0 {
		fields = append(fields, "level")
	}
	if config.AvailableTools == nil {
		fields = append(fields, "availableTools")
	}
	if len(fields) > 0 {
		return types.NewValidationError(fields...)
	}
	return nil
}

// ID 返回Agent ID
func (a *Agent) ID() string { return a.config.ID }

// Config 返回Agent配置副本
func (a *Agent) Config() types.AgentConfig { return a.config }

// RegisterTool 把工具加入私有目录, 并立即重建系统消息(原地替换消息0),
// 保证下一次模型调用看到的工具清单总是最新的。
func (a *Agent) RegisterTool(tool tools.Tool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tools[tool.Name()] = tool
	a.conversation[0] = types.ConversationMessage{
		Role:      types.RoleSystem,
		Content:   a.buildSystemMessage(),
		Timestamp: time.Now(),
	}
}

// HasTool 检查私有目录中是否有指定工具
func (a *Agent) HasTool(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.tools[name]
	return ok
}

// Conversation 返回会话历史副本
func (a *Agent) Conversation() []types.ConversationMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.ConversationMessage, len(a.conversation))
	copy(out, a.conversation)
	return out
}

// buildSystemMessage 拼接系统提示词, 协议前导和当前工具清单
func (a *Agent) buildSystemMessage() string {
	var b strings.Builder
	b.WriteString(a.config.SystemPrompt)
	b.WriteString("\n\n")
	b.WriteString(protocolPreamble)
	b.WriteString("\n\nAvailable tools:\n")

	if len(a.tools) == 0 {
		b.WriteString("- (no tools registered)")
		return b.String()
	}

	names := make([]string, 0, len(a.tools))
	for name := range a.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("- %s: %s", name, a.tools[name].Description()))
	}
	return b.String()
}

// Execute 执行一次有界推理步骤: 构建一条用户消息, 调用一次模型后端,
// 解析结构化响应并返回结果。是否继续循环由调用方根据status决定。
func (a *Agent) Execute(ctx context.Context, input map[string]interface{}, userPrompt string) (*types.AgentExecutionResult, error) {
	userMessage := a.buildUserMessage(input, userPrompt)

	// 模型调用不持锁, 基于加锁时的会话快照
	a.mu.Lock()
	a.conversation = append(a.conversation, types.ConversationMessage{
		Role:      types.RoleUser,
		Content:   userMessage,
		Timestamp: time.Now(),
	})
	snapshot := make([]types.ConversationMessage, len(a.conversation))
	copy(snapshot, a.conversation)
	a.mu.Unlock()

	resp, err := a.provider.Chat(ctx, snapshot, &provider.ChatOptions{
		Model: a.config.Model,
	})
	if err != nil {
		return nil, err
	}

	// 原始响应先入会话, 解析失败也保留上下文
	a.mu.Lock()
	a.conversation = append(a.conversation, types.ConversationMessage{
		Role:      types.RoleAssistant,
		Content:   resp.Content,
		Timestamp: time.Now(),
	})
	a.mu.Unlock()

	result, err := ParseStructuredResponse(resp.Content)
	if err != nil {
		return nil, err
	}

	result.RawResponse = resp.Content
	if resp.Usage != nil {
		result.TokensUsed = resp.Usage.TotalTokens
	}
	return result, nil
}

// buildUserMessage 构建本轮的用户消息。
// 有tool_results时渲染各工具结果并要求继续; 否则序列化任务输入。
func (a *Agent) buildUserMessage(input map[string]interface{}, userPrompt string) string {
	var b strings.Builder

	if userPrompt != "" {
		b.WriteString(userPrompt)
		b.WriteString("\n\n")
	}

	if outcomes, ok := extractToolResults(input); ok {
		b.WriteString("Tool execution results:\n")
		for _, oc := range outcomes {
			if oc.Success {
				b.WriteString(fmt.Sprintf("%s: SUCCESS - %s\n", oc.ToolName, SafeSerialize(oc.Data)))
			} else {
				b.WriteString(fmt.Sprintf("%s: ERROR - %s\n", oc.ToolName, oc.Error))
			}
		}
		b.WriteString("\nContinue with the task based on these results.")
	} else {
		b.WriteString("Task Input:\n")
		b.WriteString(SafeSerialize(input))
	}

	if input != nil {
		if prev, ok := input["previous_reasoning"].(string); ok && prev != "" {
			b.WriteString("\n\n")
			b.WriteString(prev)
		}
	}

	return b.String()
}

// extractToolResults 从输入中提取tool_results。
// 兼容强类型切片和JSON反序列化出的泛型切片。
func extractToolResults(input map[string]interface{}) ([]types.ToolCallOutcome, bool) {
	if input == nil {
		return nil, false
	}
	raw, ok := input["tool_results"]
	if !ok || raw == nil {
		return nil, false
	}

	switch v := raw.(type) {
	case []types.ToolCallOutcome:
		return v, true
	case []*types.ToolCallOutcome:
		out := make([]types.ToolCallOutcome, 0, len(v))
		for _, oc := range v {
			if oc != nil {
				out = append(out, *oc)
			}
		}
		return out, true
	case []interface{}:
		out := make([]types.ToolCallOutcome, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			oc := types.ToolCallOutcome{}
			oc.ToolName, _ = m["tool_name"].(string)
			oc.Success, _ = m["success"].(bool)
			oc.Data = m["data"]
			oc.Error, _ = m["error"].(string)
			out = append(out, oc)
		}
		return out, true
	}
	return nil, false
}

// ExecuteToolCall 执行一次模型请求的工具调用。
// 永远不抛出: 未知工具, panic, 非法结果信封都转成失败结果。
func (a *Agent) ExecuteToolCall(ctx context.Context, call types.ToolCallRequest) (outcome *types.ToolCallOutcome) {
	outcome = &types.ToolCallOutcome{ToolName: call.ToolName}

	a.mu.Lock()
	tool, ok := a.tools[call.ToolName]
	a.mu.Unlock()
	if !ok {
		outcome.Error = fmt.Sprintf("Tool %s not found", call.ToolName)
		return outcome
	}

	defer func() {
		if r := recover(); r != nil {
			outcome.Success = false
			outcome.Data = nil
			if err, ok := r.(error); ok {
				outcome.Error = err.Error()
			} else {
				outcome.Error = "Unknown error"
			}
		}
	}()

	// 参数原样透传, nil也不做默认化
	result, err := tool.Execute(ctx, call.Parameters)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	if result == nil {
		// 工具契约要求返回结果信封
		outcome.Error = "Tool returned an invalid result"
		return outcome
	}

	outcome.Success = result.Success
	outcome.Data = result.Data
	outcome.Error = result.Error
	outcome.Metadata = result.Metadata
	return outcome
}
