package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TriggerType 触发器类型
type TriggerType string

const (
	// TriggerTypeWebhook Webhook触发
	TriggerTypeWebhook TriggerType = "webhook"

	// TriggerTypeCron 定时触发
	TriggerTypeCron TriggerType = "cron"

	// TriggerTypeFileWatch 文件变更触发
	TriggerTypeFileWatch TriggerType = "file-watch"

	// TriggerTypeManual 手动触发
	TriggerTypeManual TriggerType = "manual"
)

// Event 归一化的事件记录, 由触发器后端构建并分发给Handler。
// 构建完成后不可变。
type Event struct {
	// ID 全局唯一ID(时间前缀+随机后缀)
	ID string `json:"id"`

	// Type 对应触发器类型
	Type TriggerType `json:"type"`

	// Source 事件来源(如 "webhook:/hooks/deploy", "cron:0 0 * * *")
	Source string `json:"source"`

	// Timestamp 事件产生时间
	Timestamp time.Time `json:"timestamp"`

	// Data 事件负载(不透明)
	Data interface{} `json:"data"`

	// Metadata 附加键值信息
	Metadata map[string]interface{} `json:"metadata"`
}

// NewEvent 构建一个Event。ID由时间前缀加随机后缀组成,
// 每次分发全局唯一, 碰撞概率可忽略。
func NewEvent(triggerType TriggerType, source string, data interface{}, metadata map[string]interface{}) *Event {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	now := time.Now()
	return &Event{
		ID:        fmt.Sprintf("evt_%d_%s", now.UnixMilli(), uuid.New().String()[:8]),
		Type:      triggerType,
		Source:    source,
		Timestamp: now,
		Data:      data,
		Metadata:  metadata,
	}
}

// WebhookTriggerConfig Webhook触发配置
type WebhookTriggerConfig struct {
	// Endpoint 注册的端点路径
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Method HTTP方法(匹配时不区分大小写)
	Method string `json:"method" yaml:"method"`

	// Headers 必须完全匹配的请求头(可选, 区分大小写)
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// CronTriggerConfig 定时触发配置
type CronTriggerConfig struct {
	// Expression 标准五/六字段cron表达式
	Expression string `json:"expression" yaml:"expression"`

	// Timezone 可选的时区名称(如 "Asia/Shanghai")
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// FileWatchEventType 文件变更语义类别
type FileWatchEventType string

const (
	FileEventCreated  FileWatchEventType = "created"
	FileEventModified FileWatchEventType = "modified"
	FileEventDeleted  FileWatchEventType = "deleted"
)

// FileWatchTriggerConfig 文件监听触发配置
type FileWatchTriggerConfig struct {
	// Path 监听的根路径(递归)
	Path string `json:"path" yaml:"path"`

	// Events 关注的变更类别子集
	Events []FileWatchEventType `json:"events" yaml:"events"`

	// Pattern 可选的doublestar文件名过滤模式
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// TriggerConfig 触发配置的标签联合, 由Type字段判别。
// 只有与Type匹配的变体字段有效。
type TriggerConfig struct {
	// Type 触发器类型判别字段
	Type TriggerType `json:"type" yaml:"type"`

	// Webhook webhook变体配置
	Webhook *WebhookTriggerConfig `json:"webhook,omitempty" yaml:"webhook,omitempty"`

	// Cron cron变体配置
	Cron *CronTriggerConfig `json:"cron,omitempty" yaml:"cron,omitempty"`

	// FileWatch file-watch变体配置
	FileWatch *FileWatchTriggerConfig `json:"file_watch,omitempty" yaml:"file_watch,omitempty"`

	// manual变体没有配置
}

// Handler 每个已注册工作流对应一个Handler,
// 将触发器类型绑定到共享的分发例程。
type Handler struct {
	// ID 形如 "handler_<workflowId>"
	ID string `json:"id"`

	// EventType 绑定的触发器类型
	EventType TriggerType `json:"event_type"`

	// WorkflowID 关联的工作流ID
	WorkflowID string `json:"workflow_id"`

	// Enabled 为false时分发短路, 处理函数不会被调用
	Enabled bool `json:"enabled"`

	// TriggerCount 每次事件到达Handler递增一次
	TriggerCount int64 `json:"trigger_count"`

	// LastTriggered 最近一次触发时间
	LastTriggered *time.Time `json:"last_triggered,omitempty"`

	// Condition 展示用的触发条件描述(如webhook路径或cron表达式)
	Condition string `json:"condition,omitempty"`
}

// DispatchResult 分发例程的带内结果。
// 处理失败永远不会以异常形式越过分发边界。
type DispatchResult struct {
	// Success 处理是否成功(跳过也视为成功)
	Success bool `json:"success"`

	// Skipped Handler被禁用时为true
	Skipped bool `json:"skipped,omitempty"`

	// Reason 跳过原因
	Reason string `json:"reason,omitempty"`

	// Error 处理函数失败时的错误信息
	Error string `json:"error,omitempty"`
}

// EventProcessor 外部提供的事件处理函数, 通常由工作流执行器实现。
type EventProcessor func(event *Event, handler *Handler) error

// TriggerCallback 触发器后端构建Event后调用的回调
type TriggerCallback func(event *Event) error
