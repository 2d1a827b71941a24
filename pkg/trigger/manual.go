package trigger

import (
	"sync"

	"github.com/wordflowlab/arbiter/pkg/logging"
	"github.com/wordflowlab/arbiter/pkg/types"
)

// manualRegistration 一条手动触发注册
type manualRegistration struct {
	id       string
	callback types.TriggerCallback
}

// ManualResult 广播中单个回调的结果
type ManualResult struct {
	// Success 回调是否成功
	Success bool `json:"success"`

	// Error 回调失败时的错误信息
	Error string `json:"error,omitempty"`
}

// ManualBackend 手动触发器后端。
// 持有一组独立注册的(trigger, callback)对, 不按工作流建键,
// 任意数量的手动注册可以共存。TriggerManual向所有注册并发广播,
// 单个回调失败只占用自己的结果槽位, 不中断其他回调。
// 注意: 这个广播语义和EventDispatcher.TriggerManualEvent的
// 单Handler直达路径是两回事。
type ManualBackend struct {
	mu            sync.RWMutex
	registrations []*manualRegistration
	logger        *logging.Logger
	running       bool
}

// NewManualBackend 创建手动后端
func NewManualBackend(logger *logging.Logger) *ManualBackend {
	return &ManualBackend{
		logger: logger.WithFields(map[string]interface{}{"component": "trigger.manual"}),
	}
}

// Type 返回触发器类型
func (b *ManualBackend) Type() types.TriggerType { return types.TriggerTypeManual }

// Register 追加一条注册。手动触发没有配置可校验, 只检查类型。
func (b *ManualBackend) Register(id string, config *types.TriggerConfig, callback types.TriggerCallback) error {
	if err := checkType(types.TriggerTypeManual, config); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.registrations = append(b.registrations, &manualRegistration{id: id, callback: callback})
	return nil
}

// Unregister 按id移除注册
func (b *ManualBackend) Unregister(id string, config *types.TriggerConfig) error {
	if err := checkType(types.TriggerTypeManual, config); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.registrations[:0]
	for _, reg := range b.registrations {
		if reg.id != id {
			kept = append(kept, reg)
		}
	}
	b.registrations = kept
	return nil
}

// TriggerManual 向每一条注册并发广播一次手动触发。
// 每次调用构建一个共享Event, 返回与注册顺序一致的结果列表;
// 回调失败(包括panic)转为该槽位的{error:...}, 不中止广播。
func (b *ManualBackend) TriggerManual(data interface{}) []ManualResult {
	b.mu.RLock()
	regs := make([]*manualRegistration, len(b.registrations))
	copy(regs, b.registrations)
	b.mu.RUnlock()

	event := types.NewEvent(types.TriggerTypeManual, "manual-trigger", data, map[string]interface{}{
		"triggeredBy": "manual",
	})

	results := make([]ManualResult, len(regs))
	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func(slot int, reg *manualRegistration) {
			defer wg.Done()
			results[slot] = invokeManual(reg.callback, event)
		}(i, reg)
	}
	wg.Wait()

	return results
}

// invokeManual 调用单个回调并吸收panic
func invokeManual(callback types.TriggerCallback, event *types.Event) (result ManualResult) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				result = ManualResult{Error: err.Error()}
			} else {
				result = ManualResult{Error: "Unknown error"}
			}
		}
	}()

	if err := callback(event); err != nil {
		return ManualResult{Error: err.Error()}
	}
	return ManualResult{Success: true}
}

// Start 启动后端(幂等)
func (b *ManualBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	return nil
}

// Stop 停止后端并清空注册列表
func (b *ManualBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.registrations = nil
	return nil
}

// RegistrationCount 当前注册数量
func (b *ManualBackend) RegistrationCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.registrations)
}
