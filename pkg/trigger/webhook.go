package trigger

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/wordflowlab/arbiter/pkg/logging"
	"github.com/wordflowlab/arbiter/pkg/types"
)

// webhookRegistration 一条webhook注册
type webhookRegistration struct {
	id       string
	config   *types.WebhookTriggerConfig
	callback types.TriggerCallback
}

// WebhookBackend 按(endpoint, method)匹配入站请求的触发器后端。
// endpoint精确匹配, method不区分大小写; 配置了必需请求头时,
// 头名不区分大小写, 每个头的值必须完全一致(区分大小写)。
type WebhookBackend struct {
	mu            sync.RWMutex
	registrations map[string]*webhookRegistration // key: endpoint|METHOD
	logger        *logging.Logger
	running       bool
}

// NewWebhookBackend 创建Webhook后端
func NewWebhookBackend(logger *logging.Logger) *WebhookBackend {
	return &WebhookBackend{
		registrations: make(map[string]*webhookRegistration),
		logger:        logger.WithFields(map[string]interface{}{"component": "trigger.webhook"}),
	}
}

// Type 返回触发器类型
func (b *WebhookBackend) Type() types.TriggerType { return types.TriggerTypeWebhook }

// Register 注册一个(endpoint, method)对
func (b *WebhookBackend) Register(id string, config *types.TriggerConfig, callback types.TriggerCallback) error {
	if err := checkType(types.TriggerTypeWebhook, config); err != nil {
		return err
	}
	if config.Webhook == nil || config.Webhook.Endpoint == "" {
		return types.NewBackendError("webhook", "Webhook configuration is required")
	}

	key := webhookKey(config.Webhook.Endpoint, config.Webhook.Method)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.registrations[key] = &webhookRegistration{
		id:       id,
		config:   config.Webhook,
		callback: callback,
	}

	b.logger.Info(context.Background(), "webhook registered", map[string]interface{}{
		"endpoint": config.Webhook.Endpoint,
		"method":   strings.ToUpper(config.Webhook.Method),
	})
	return nil
}

// Unregister 注销一个(endpoint, method)对
func (b *WebhookBackend) Unregister(id string, config *types.TriggerConfig) error {
	if err := checkType(types.TriggerTypeWebhook, config); err != nil {
		return err
	}
	if config.Webhook == nil {
		return types.NewBackendError("webhook", "Webhook configuration is required")
	}

	key := webhookKey(config.Webhook.Endpoint, config.Webhook.Method)

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.registrations, key)
	return nil
}

// RequestResult 一次入站请求的处理结果
type RequestResult struct {
	// Matched 是否匹配到注册
	Matched bool `json:"matched"`

	// Error 失败原因("Webhook not found" / "Invalid headers" / "Processing failed")
	Error string `json:"error,omitempty"`
}

// HandleRequest 处理一个入站webhook请求。
// 无匹配注册时报告"Webhook not found", 不调用任何回调;
// 回调错误被捕获并报告为"Processing failed", 不向上传播。
func (b *WebhookBackend) HandleRequest(endpoint, method string, headers map[string]string, body interface{}) *RequestResult {
	b.mu.RLock()
	reg, ok := b.registrations[webhookKey(endpoint, method)]
	b.mu.RUnlock()

	if !ok {
		return &RequestResult{Error: "Webhook not found"}
	}

	// 必需请求头逐个比对: 头名归一为规范形式, 值精确匹配
	canonical := make(map[string]string, len(headers))
	for name, value := range headers {
		canonical[http.CanonicalHeaderKey(name)] = value
	}
	for name, want := range reg.config.Headers {
		if got, ok := canonical[http.CanonicalHeaderKey(name)]; !ok || got != want {
			return &RequestResult{Matched: true, Error: "Invalid headers"}
		}
	}

	event := types.NewEvent(types.TriggerTypeWebhook, "webhook:"+endpoint, body, map[string]interface{}{
		"endpoint": endpoint,
		"method":   strings.ToUpper(method),
		"headers":  headers,
	})

	if err := reg.callback(event); err != nil {
		b.logger.Warn(context.Background(), "webhook callback failed", map[string]interface{}{
			"endpoint": endpoint,
			"error":    err.Error(),
		})
		return &RequestResult{Matched: true, Error: "Processing failed"}
	}

	return &RequestResult{Matched: true}
}

// Start 启动后端(幂等)
func (b *WebhookBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	return nil
}

// Stop 停止后端并清空注册
func (b *WebhookBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.registrations = make(map[string]*webhookRegistration)
	return nil
}

// RegistrationCount 当前注册数量
func (b *WebhookBackend) RegistrationCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.registrations)
}

// webhookKey endpoint精确, method归一为大写
func webhookKey(endpoint, method string) string {
	return fmt.Sprintf("%s|%s", endpoint, strings.ToUpper(method))
}
