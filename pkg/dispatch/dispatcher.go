package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wordflowlab/arbiter/pkg/logging"
	"github.com/wordflowlab/arbiter/pkg/runlog"
	"github.com/wordflowlab/arbiter/pkg/trigger"
	"github.com/wordflowlab/arbiter/pkg/types"
)

// ErrNoProcessor 没有配置事件处理函数
var ErrNoProcessor = errors.New("no event processor configured")

// WorkflowRegistration 一条工作流注册请求
type WorkflowRegistration struct {
	// WorkflowID 工作流唯一标识
	WorkflowID string

	// Trigger 判别式触发配置
	Trigger types.TriggerConfig

	// Condition 展示用的触发条件描述, 为空时从触发配置推导
	Condition string
}

// Dispatcher 事件分发器。
// 每个实例持有每种触发器类型一个后端和一个按Handler id建键的Handler表,
// 把"怎样检测外部刺激"和"触发后做什么"解耦:
// 所有后端的事件最终汇到同一个外部提供的处理函数。
type Dispatcher struct {
	mu        sync.RWMutex
	backends  map[types.TriggerType]trigger.Backend
	handlers  map[string]*types.Handler
	workflows map[string]*WorkflowRegistration
	processor types.EventProcessor
	logger    *logging.Logger
	sink      runlog.Sink
}

// New 创建Dispatcher并按Type注册各触发器后端。
// sink为nil时使用NopSink。
func New(logger *logging.Logger, sink runlog.Sink, backends ...trigger.Backend) *Dispatcher {
	if sink == nil {
		sink = runlog.NopSink{}
	}

	m := make(map[types.TriggerType]trigger.Backend, len(backends))
	for _, b := range backends {
		m[b.Type()] = b
	}

	return &Dispatcher{
		backends:  m,
		handlers:  make(map[string]*types.Handler),
		workflows: make(map[string]*WorkflowRegistration),
		logger:    logger.WithFields(map[string]interface{}{"component": "dispatcher"}),
		sink:      sink,
	}
}

// SetProcessor 设置外部事件处理函数(通常是工作流执行器)
func (d *Dispatcher) SetProcessor(processor types.EventProcessor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processor = processor
}

// Backend 按类型取后端, 供适配层(如webhook入口)直接使用
func (d *Dispatcher) Backend(t types.TriggerType) (trigger.Backend, bool) {
	b, ok := d.backends[t]
	return b, ok
}

// HandlerID 工作流id到Handler id的固定映射
func HandlerID(workflowID string) string {
	return "handler_" + workflowID
}

// RegisterWorkflow 注册一个工作流触发。
// 同id重复注册会先注销旧Handler。后端注册失败时回滚Handler,
// 不留下孤儿; 没有匹配后端时采取宽松策略: Handler照常入表
// (永远不会触发), 只记一条警告。
func (d *Dispatcher) RegisterWorkflow(reg WorkflowRegistration) error {
	if reg.WorkflowID == "" {
		return types.NewValidationError("workflowId")
	}

	// 同id先注销旧注册
	d.mu.RLock()
	_, exists := d.workflows[reg.WorkflowID]
	d.mu.RUnlock()
	if exists {
		if err := d.UnregisterWorkflow(reg.WorkflowID); err != nil {
			return err
		}
	}

	handlerID := HandlerID(reg.WorkflowID)
	handler := &types.Handler{
		ID:         handlerID,
		EventType:  reg.Trigger.Type,
		WorkflowID: reg.WorkflowID,
		Enabled:    true,
		Condition:  conditionFor(&reg),
	}

	d.mu.Lock()
	d.handlers[handlerID] = handler
	d.workflows[reg.WorkflowID] = &reg
	backend, ok := d.backends[reg.Trigger.Type]
	d.mu.Unlock()

	if !ok {
		d.logger.Warn(context.Background(), "no backend for trigger type, workflow can never fire", map[string]interface{}{
			"workflow_id":  reg.WorkflowID,
			"trigger_type": string(reg.Trigger.Type),
		})
		return nil
	}

	callback := func(event *types.Event) error {
		_, err := d.DispatchEvent(handlerID, event)
		return err
	}

	if err := backend.Register(handlerID, &reg.Trigger, callback); err != nil {
		// 回滚, 不留孤儿Handler
		d.mu.Lock()
		delete(d.handlers, handlerID)
		delete(d.workflows, reg.WorkflowID)
		d.mu.Unlock()
		return err
	}

	d.logger.Info(context.Background(), "workflow registered", map[string]interface{}{
		"workflow_id":  reg.WorkflowID,
		"trigger_type": string(reg.Trigger.Type),
	})
	return nil
}

// UnregisterWorkflow 注销一个工作流。
// 后端注销失败时向上传播, Handler保持原位(不做部分拆除)。
func (d *Dispatcher) UnregisterWorkflow(workflowID string) error {
	d.mu.RLock()
	reg, ok := d.workflows[workflowID]
	d.mu.RUnlock()
	if !ok {
		return types.NewNotFoundError("workflow", workflowID)
	}

	handlerID := HandlerID(workflowID)
	if backend, ok := d.backends[reg.Trigger.Type]; ok {
		if err := backend.Unregister(handlerID, &reg.Trigger); err != nil {
			return err
		}
	}

	d.mu.Lock()
	delete(d.handlers, handlerID)
	delete(d.workflows, workflowID)
	d.mu.Unlock()

	d.logger.Info(context.Background(), "workflow unregistered", map[string]interface{}{
		"workflow_id": workflowID,
	})
	return nil
}

// TriggerManualEvent 为指定工作流合成一个manual事件并直达其Handler。
// 这是单Handler路径, 不经过手动后端的广播; 工作流未注册时
// 返回NotFound且没有任何副作用。
func (d *Dispatcher) TriggerManualEvent(workflowID string, data interface{}) (*types.DispatchResult, error) {
	d.mu.RLock()
	_, ok := d.workflows[workflowID]
	d.mu.RUnlock()
	if !ok {
		return nil, types.NewNotFoundError("workflow", workflowID)
	}

	event := types.NewEvent(types.TriggerTypeManual, "arbiter-manual", data, map[string]interface{}{
		"workflowId":  workflowID,
		"triggeredBy": "manual",
	})

	return d.DispatchEvent(HandlerID(workflowID), event)
}

// DispatchEvent 共享分发例程, 所有后端的回调最终都走这里。
// 每次到达都计数(包括Handler被禁用时); 禁用只跳过处理函数。
// 处理函数的错误和panic一律转成带内结果, 绝不越过分发边界。
func (d *Dispatcher) DispatchEvent(handlerID string, event *types.Event) (*types.DispatchResult, error) {
	d.mu.Lock()
	handler, ok := d.handlers[handlerID]
	if !ok {
		d.mu.Unlock()
		return nil, types.NewNotFoundError("handler", handlerID)
	}

	now := time.Now()
	handler.TriggerCount++
	handler.LastTriggered = &now
	enabled := handler.Enabled
	snapshot := *handler
	processor := d.processor
	d.mu.Unlock()

	if !enabled {
		return &types.DispatchResult{Success: true, Skipped: true, Reason: "Handler disabled"}, nil
	}
	if processor == nil {
		return nil, ErrNoProcessor
	}

	ctx := context.Background()
	runID := d.sink.Started(ctx, runlog.RunKindWorkflow, snapshot.WorkflowID, "")

	if err := invokeProcessor(processor, event, &snapshot); err != nil {
		d.sink.Failed(ctx, runID, err.Error())
		d.logger.Warn(ctx, "event processing failed", map[string]interface{}{
			"handler_id": handlerID,
			"event_id":   event.ID,
			"error":      err.Error(),
		})
		return &types.DispatchResult{Success: false, Error: err.Error()}, nil
	}

	d.sink.Completed(ctx, runID)
	return &types.DispatchResult{Success: true}, nil
}

// invokeProcessor 调用处理函数并把panic归一为错误
func invokeProcessor(processor types.EventProcessor, event *types.Event, handler *types.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = errors.New("Unknown error")
			}
		}
	}()
	return processor(event, handler)
}

// EnableEventHandler 启用Handler
func (d *Dispatcher) EnableEventHandler(handlerID string) error {
	return d.setEnabled(handlerID, true)
}

// DisableEventHandler 禁用Handler。
// 对已经过了启用检查的在途分发没有影响。
func (d *Dispatcher) DisableEventHandler(handlerID string) error {
	return d.setEnabled(handlerID, false)
}

func (d *Dispatcher) setEnabled(handlerID string, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	handler, ok := d.handlers[handlerID]
	if !ok {
		return types.NewNotFoundError("handler", handlerID)
	}
	handler.Enabled = enabled
	return nil
}

// GetHandler 查询单个Handler的快照
func (d *Dispatcher) GetHandler(handlerID string) (types.Handler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handler, ok := d.handlers[handlerID]
	if !ok {
		return types.Handler{}, types.NewNotFoundError("handler", handlerID)
	}
	return *handler, nil
}

// ListHandlers 返回所有Handler的快照, 用于使用统计查询
func (d *Dispatcher) ListHandlers() []types.Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]types.Handler, 0, len(d.handlers))
	for _, handler := range d.handlers {
		out = append(out, *handler)
	}
	return out
}

// Start 启动所有触发器后端
func (d *Dispatcher) Start() error {
	for _, b := range d.backends {
		if err := b.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop 停止所有触发器后端
func (d *Dispatcher) Stop() error {
	var firstErr error
	for _, b := range d.backends {
		if err := b.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// conditionFor 推导Handler的展示条件
func conditionFor(reg *WorkflowRegistration) string {
	if reg.Condition != "" {
		return reg.Condition
	}
	switch reg.Trigger.Type {
	case types.TriggerTypeWebhook:
		if reg.Trigger.Webhook != nil {
			return reg.Trigger.Webhook.Method + " " + reg.Trigger.Webhook.Endpoint
		}
	case types.TriggerTypeCron:
		if reg.Trigger.Cron != nil {
			return reg.Trigger.Cron.Expression
		}
	case types.TriggerTypeFileWatch:
		if reg.Trigger.FileWatch != nil {
			return reg.Trigger.FileWatch.Path
		}
	case types.TriggerTypeManual:
		return "manual"
	}
	return string(reg.Trigger.Type)
}
