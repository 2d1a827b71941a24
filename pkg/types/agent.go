package types

import "time"

// Role 定义消息角色
type Role string

const (
	// RoleSystem 系统角色
	RoleSystem Role = "system"

	// RoleUser 用户角色
	RoleUser Role = "user"

	// RoleAssistant AI助手角色
	RoleAssistant Role = "assistant"
)

// ConversationMessage 会话中的一条消息。
// 消息0永远是系统消息, 工具目录变更时原地重建而不是追加。
type ConversationMessage struct {
	// Role 消息角色
	Role Role `json:"role"`

	// Content 消息文本
	Content string `json:"content"`

	// Timestamp 消息时间
	Timestamp time.Time `json:"timestamp"`
}

// AgentConfig Agent配置, 创建后不可变(工具注册除外)。
type AgentConfig struct {
	// ID Agent唯一标识
	ID string `json:"id" yaml:"id"`

	// Name Agent名称
	Name string `json:"name" yaml:"name"`

	// Description Agent描述
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Model 模型名称
	Model string `json:"model" yaml:"model"`

	// SystemPrompt 系统提示词(协议前导和工具清单会追加在其后)
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`

	// AvailableTools 可用的全局工具名列表(必须显式给出, 空列表合法)
	AvailableTools []string `json:"available_tools" yaml:"available_tools"`

	// Level 工作流层级, 非负
	Level int `json:"level" yaml:"level"`

	// InputSchema 可选的输入JSON Schema
	InputSchema map[string]interface{} `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
}

// AgentStatus Agent执行状态
type AgentStatus string

const (
	// AgentStatusWorking 仍在推进任务
	AgentStatusWorking AgentStatus = "working"

	// AgentStatusCompleted 任务完成
	AgentStatusCompleted AgentStatus = "completed"

	// AgentStatusNeedInfo 需要更多信息
	AgentStatusNeedInfo AgentStatus = "need_info"

	// AgentStatusError 出错
	AgentStatusError AgentStatus = "error"
)

// ToolCallRequest 模型产出的工具调用指令
type ToolCallRequest struct {
	// ToolName 工具名称
	ToolName string `json:"tool_name"`

	// Parameters 工具参数(可能为nil, 需原样透传)
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// Purpose 调用目的(可选)
	Purpose string `json:"purpose,omitempty"`

	// SequenceOrder 建议的执行顺序, 仅作参考, 运行时不强制
	SequenceOrder int `json:"sequence_order,omitempty"`
}

// AgentExecutionResult Agent对调用方承诺的唯一契约。
// Agent自身不解释status; 是否继续循环由调用方决定。
type AgentExecutionResult struct {
	// Reasoning 模型的推理说明
	Reasoning string `json:"reasoning"`

	// ToolCalls 请求执行的工具调用列表
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`

	// NextSteps 模型给出的后续计划
	NextSteps string `json:"next_steps,omitempty"`

	// Status working | completed | need_info | error
	Status AgentStatus `json:"status"`

	// RawResponse 模型原始文本响应
	RawResponse string `json:"raw_response,omitempty"`

	// TokensUsed 本次调用消耗的token数(后端未返回时为0)
	TokensUsed int64 `json:"tokens_used,omitempty"`
}

// ToolCallOutcome 单次工具调用的结果
type ToolCallOutcome struct {
	// ToolName 工具名称
	ToolName string `json:"tool_name"`

	// Success 是否成功
	Success bool `json:"success"`

	// Data 成功时的数据
	Data interface{} `json:"data,omitempty"`

	// Error 失败时的错误信息
	Error string `json:"error,omitempty"`

	// Metadata 工具附加信息
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TokenUsage 模型token用量统计
type TokenUsage struct {
	// InputTokens 输入token数
	InputTokens int64 `json:"input_tokens"`

	// OutputTokens 输出token数
	OutputTokens int64 `json:"output_tokens"`

	// TotalTokens 总token数
	TotalTokens int64 `json:"total_tokens"`
}
