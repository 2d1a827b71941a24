package trigger

import (
	"github.com/wordflowlab/arbiter/pkg/types"
)

// Backend 一种外部刺激源的可插拔实现。
// 每个后端只接受Type与自己一致的配置, 不一致是硬拒绝而不是静默忽略。
// Start/Stop幂等; Stop必须释放所有活跃注册(停掉调度任务, 关闭watcher,
// 清空注册表), 使后续Start从干净状态开始。
type Backend interface {
	// Type 后端的类型判别值
	Type() types.TriggerType

	// Register 注册一个触发配置。id由调用方提供, 用于后续注销。
	// 配置非法时立即失败, 不留下部分状态。
	Register(id string, config *types.TriggerConfig, callback types.TriggerCallback) error

	// Unregister 注销一个触发配置
	Unregister(id string, config *types.TriggerConfig) error

	// Start 启动后端
	Start() error

	// Stop 停止后端并释放所有注册
	Stop() error
}

// checkType 校验配置类型与后端一致
func checkType(backend types.TriggerType, config *types.TriggerConfig) error {
	if config == nil || config.Type != backend {
		return &types.BackendError{
			Backend: string(backend),
			Message: "trigger config type mismatch",
		}
	}
	return nil
}
