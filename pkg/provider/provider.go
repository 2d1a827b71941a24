package provider

import (
	"context"
	"fmt"

	"github.com/wordflowlab/arbiter/pkg/types"
)

// ChatResponse 模型后端的一次完整响应
type ChatResponse struct {
	// Content choices[0].message.content的文本
	Content string

	// Usage token用量(后端可能不返回)
	Usage *types.TokenUsage
}

// ChatOptions 单次对话请求的参数
type ChatOptions struct {
	// Model 模型名称
	Model string

	// MaxTokens 最大生成token数
	MaxTokens int

	// Temperature 采样温度
	Temperature float64
}

// Provider 模型后端接口。
// Agent的一次execute对应这里的一次阻塞调用。
type Provider interface {
	// Name 后端名称
	Name() string

	// Chat 以完整会话为上下文发起一次补全
	Chat(ctx context.Context, messages []types.ConversationMessage, opts *ChatOptions) (*ChatResponse, error)

	// Close 释放资源
	Close() error
}

// Config 一个模型后端的配置
type Config struct {
	// Name 配置名称(工厂按此选择)
	Name string

	// BaseURL 聊天补全端点的基础URL
	BaseURL string

	// APIKey 鉴权密钥(可为空)
	APIKey string

	// DefaultModel 默认模型
	DefaultModel string
}

// Factory 按名称创建已配置的Provider
type Factory struct {
	configs map[string]Config
}

// NewFactory 创建Provider工厂
func NewFactory(configs []Config) *Factory {
	m := make(map[string]Config, len(configs))
	for _, c := range configs {
		m[c.Name] = c
	}
	return &Factory{configs: m}
}

// Create 创建指定名称的Provider
func (f *Factory) Create(name string) (Provider, error) {
	cfg, ok := f.configs[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return NewOpenAICompatible(cfg, nil)
}
