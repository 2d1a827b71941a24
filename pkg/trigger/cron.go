package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wordflowlab/arbiter/pkg/logging"
	"github.com/wordflowlab/arbiter/pkg/types"
)

// cronParser 标准五字段语法, 秒字段可选(六字段)
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// cronJob 一条cron注册, 持有独立启停的调度器
type cronJob struct {
	config *types.CronTriggerConfig
	runner *cron.Cron
}

// CronBackend 定时触发器后端。
// 每条注册对应一个独立的调度任务, 可选固定到命名时区;
// 回调错误只记日志不上抛, 一个失败的调度不会拖垮其他任务。
type CronBackend struct {
	mu      sync.Mutex
	jobs    map[string]*cronJob
	logger  *logging.Logger
	running bool
}

// NewCronBackend 创建Cron后端
func NewCronBackend(logger *logging.Logger) *CronBackend {
	return &CronBackend{
		jobs:   make(map[string]*cronJob),
		logger: logger.WithFields(map[string]interface{}{"component": "trigger.cron"}),
	}
}

// Type 返回触发器类型
func (b *CronBackend) Type() types.TriggerType { return types.TriggerTypeCron }

// Register 校验表达式后创建调度任务。
// 非法表达式在任何任务创建之前就失败。
func (b *CronBackend) Register(id string, config *types.TriggerConfig, callback types.TriggerCallback) error {
	if err := checkType(types.TriggerTypeCron, config); err != nil {
		return err
	}
	if config.Cron == nil || config.Cron.Expression == "" {
		return types.NewBackendError("cron", "Cron configuration is required")
	}

	cfg := config.Cron
	if _, err := cronParser.Parse(cfg.Expression); err != nil {
		return types.NewBackendError("cron", fmt.Sprintf("Invalid cron expression: %s", cfg.Expression))
	}

	opts := []cron.Option{cron.WithParser(cronParser)}
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return types.NewBackendError("cron", fmt.Sprintf("invalid timezone: %s", cfg.Timezone))
		}
		opts = append(opts, cron.WithLocation(loc))
	}

	runner := cron.New(opts...)
	if _, err := runner.AddFunc(cfg.Expression, func() {
		b.fire(cfg, callback)
	}); err != nil {
		return types.NewBackendError("cron", fmt.Sprintf("Invalid cron expression: %s", cfg.Expression))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// 同id重复注册先停掉旧任务
	if old, ok := b.jobs[id]; ok {
		old.runner.Stop()
	}
	b.jobs[id] = &cronJob{config: cfg, runner: runner}
	if b.running {
		runner.Start()
	}

	b.logger.Info(context.Background(), "cron job registered", map[string]interface{}{
		"id":       id,
		"schedule": cfg.Expression,
		"timezone": cfg.Timezone,
	})
	return nil
}

// fire 构建事件并调用回调, 错误只记日志
func (b *CronBackend) fire(cfg *types.CronTriggerConfig, callback types.TriggerCallback) {
	event := types.NewEvent(types.TriggerTypeCron, "cron:"+cfg.Expression, map[string]interface{}{
		"schedule": cfg.Expression,
		"timezone": cfg.Timezone,
	}, nil)

	if err := callback(event); err != nil {
		b.logger.Warn(context.Background(), "cron callback failed", map[string]interface{}{
			"schedule": cfg.Expression,
			"error":    err.Error(),
		})
	}
}

// Unregister 停止并移除一条注册
func (b *CronBackend) Unregister(id string, config *types.TriggerConfig) error {
	if err := checkType(types.TriggerTypeCron, config); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[id]
	if !ok {
		return types.NewNotFoundError("cron job", id)
	}
	job.runner.Stop()
	delete(b.jobs, id)
	return nil
}

// Start 启动所有已注册任务(幂等)
func (b *CronBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}
	b.running = true
	for _, job := range b.jobs {
		job.runner.Start()
	}
	return nil
}

// Stop 停止所有任务并清空注册
func (b *CronBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running && len(b.jobs) == 0 {
		return nil
	}
	for _, job := range b.jobs {
		job.runner.Stop()
	}
	b.jobs = make(map[string]*cronJob)
	b.running = false
	return nil
}

// JobCount 当前调度任务数量
func (b *CronBackend) JobCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}
