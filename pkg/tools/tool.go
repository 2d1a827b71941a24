package tools

import (
	"context"
	"sync"
)

// Result 工具执行的统一结果信封。
// 工具契约上必须返回这个信封, 返回nil视为执行失败。
type Result struct {
	// Success 是否成功
	Success bool `json:"success"`

	// Data 成功时的数据
	Data interface{} `json:"data,omitempty"`

	// Error 失败时的错误信息
	Error string `json:"error,omitempty"`

	// Metadata 附加信息
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Tool 工具接口
type Tool interface {
	// Name 工具名称(在一个Agent的目录内唯一)
	Name() string

	// Description 工具描述
	Description() string

	// ParameterSchema 参数的JSON Schema定义
	ParameterSchema() map[string]interface{}

	// Execute 执行工具。params可能为nil, 实现需自行容忍。
	Execute(ctx context.Context, params map[string]interface{}) (*Result, error)
}

// FuncTool 用函数快速定义一个工具
type FuncTool struct {
	ToolName        string
	ToolDescription string
	Schema          map[string]interface{}
	Fn              func(ctx context.Context, params map[string]interface{}) (*Result, error)
}

func (t *FuncTool) Name() string        { return t.ToolName }
func (t *FuncTool) Description() string { return t.ToolDescription }

func (t *FuncTool) ParameterSchema() map[string]interface{} {
	if t.Schema == nil {
		return map[string]interface{}{"type": "object"}
	}
	return t.Schema
}

func (t *FuncTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	return t.Fn(ctx, params)
}

// Registry 全局工具注册表。
// 注册在这里的工具对所有availableTools中声明了它的Agent可见。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建工具注册表
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register 注册工具, 同名工具会被覆盖
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get 按名称获取工具
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List 列出所有已注册的工具名
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Has 检查工具是否已注册
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Remove 移除工具
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}
