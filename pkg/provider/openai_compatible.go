package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wordflowlab/arbiter/pkg/types"
)

// Options OpenAI兼容Provider的可选配置
type Options struct {
	// Timeout 单次请求超时
	Timeout time.Duration

	// MaxRetries 最大重试次数
	MaxRetries int

	// RetryDelay 重试基础间隔(线性退避)
	RetryDelay time.Duration

	// CustomHeaders 自定义请求头
	CustomHeaders map[string]string
}

// OpenAICompatible OpenAI兼容格式的通用模型后端。
// 适用于 OpenAI, Groq, Ollama, Fireworks, DeepInfra 等。
type OpenAICompatible struct {
	config     Config
	httpClient *http.Client
	options    Options
}

// NewOpenAICompatible 创建OpenAI兼容Provider
func NewOpenAICompatible(config Config, options *Options) (*OpenAICompatible, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%s: base URL is required", config.Name)
	}

	// 设置默认选项
	opts := Options{
		Timeout:    120 * time.Second,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
	if options != nil {
		opts = *options
		if opts.Timeout == 0 {
			opts.Timeout = 120 * time.Second
		}
		if opts.RetryDelay == 0 {
			opts.RetryDelay = 1 * time.Second
		}
	}

	return &OpenAICompatible{
		config:     config,
		httpClient: &http.Client{Timeout: opts.Timeout},
		options:    opts,
	}, nil
}

// Name 返回后端名称
func (p *OpenAICompatible) Name() string { return p.config.Name }

// Chat 发起一次阻塞式聊天补全。
// 非2xx响应, 缺失choices或空content都是硬失败。
func (p *OpenAICompatible) Chat(ctx context.Context, messages []types.ConversationMessage, opts *ChatOptions) (*ChatResponse, error) {
	model := p.config.DefaultModel
	maxTokens := 4096
	temperature := 0.7
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
		}
		if opts.MaxTokens > 0 {
			maxTokens = opts.MaxTokens
		}
		if opts.Temperature > 0 {
			temperature = opts.Temperature
		}
	}

	requestBody := map[string]interface{}{
		"model":       model,
		"messages":    convertMessages(messages),
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := p.doRequestWithRetry(ctx, bodyBytes)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &types.BackendError{
			Backend: p.config.Name,
			Message: fmt.Sprintf("API error: %d - %s", resp.StatusCode, string(body)),
		}
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
			TotalTokens      int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &types.BackendError{Backend: p.config.Name, Message: "decode response", Err: err}
	}

	if len(apiResp.Choices) == 0 {
		return nil, &types.BackendError{Backend: p.config.Name, Message: "no choices in response"}
	}
	if apiResp.Choices[0].Message.Content == nil {
		return nil, &types.BackendError{Backend: p.config.Name, Message: "null message content"}
	}

	result := &ChatResponse{Content: *apiResp.Choices[0].Message.Content}
	if apiResp.Usage != nil {
		result.Usage = &types.TokenUsage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// Close 关闭连接
func (p *OpenAICompatible) Close() error { return nil }

// convertMessages 转换会话消息为OpenAI消息格式
func convertMessages(messages []types.ConversationMessage) []map[string]string {
	result := make([]map[string]string, 0, len(messages))
	for _, msg := range messages {
		result = append(result, map[string]string{
			"role":    string(msg.Role),
			"content": msg.Content,
		})
	}
	return result
}

// doRequestWithRetry 发送HTTP请求, 429和5xx按线性退避重试
func (p *OpenAICompatible) doRequestWithRetry(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= p.options.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.options.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := p.createRequest(ctx, body)
		if err != nil {
			return nil, err
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if attempt < p.options.MaxRetries {
				resp.Body.Close()
				lastErr = fmt.Errorf("status %d", resp.StatusCode)
				continue
			}
		}

		return resp, nil
	}

	return nil, fmt.Errorf("%s: max retries exceeded: %w", p.config.Name, lastErr)
}

// createRequest 构造聊天补全请求
func (p *OpenAICompatible) createRequest(ctx context.Context, body []byte) (*http.Request, error) {
	url := p.config.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
	for key, value := range p.options.CustomHeaders {
		req.Header.Set(key, value)
	}

	return req, nil
}
