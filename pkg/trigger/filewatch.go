package trigger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/wordflowlab/arbiter/pkg/logging"
	"github.com/wordflowlab/arbiter/pkg/types"
)

// fileWatch 一条文件监听注册, 持有独立的watcher
type fileWatch struct {
	config  *types.FileWatchTriggerConfig
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// FileWatchBackend 文件变更触发器后端。
// 递归监听一个根路径, 把底层文件系统通知映射到
// {created, modified, deleted}三个语义类别, 可选doublestar模式过滤。
// watcher层面的错误只记日志, 不暴露给调用方。
type FileWatchBackend struct {
	mu      sync.Mutex
	watches map[string]*fileWatch
	logger  *logging.Logger
	running bool
}

// NewFileWatchBackend 创建文件监听后端
func NewFileWatchBackend(logger *logging.Logger) *FileWatchBackend {
	return &FileWatchBackend{
		watches: make(map[string]*fileWatch),
		logger:  logger.WithFields(map[string]interface{}{"component": "trigger.filewatch"}),
	}
}

// Type 返回触发器类型
func (b *FileWatchBackend) Type() types.TriggerType { return types.TriggerTypeFileWatch }

// Register 创建并启动一条监听
func (b *FileWatchBackend) Register(id string, config *types.TriggerConfig, callback types.TriggerCallback) error {
	if err := checkType(types.TriggerTypeFileWatch, config); err != nil {
		return err
	}
	if config.FileWatch == nil || config.FileWatch.Path == "" {
		return types.NewBackendError("file-watch", "File watch configuration is required")
	}

	cfg := config.FileWatch
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &types.BackendError{Backend: "file-watch", Message: "create watcher", Err: err}
	}

	// 递归加入根路径下所有目录
	if err := addRecursive(watcher, cfg.Path); err != nil {
		watcher.Close()
		return &types.BackendError{Backend: "file-watch", Message: "watch path", Err: err}
	}

	watch := &fileWatch{
		config:  cfg,
		watcher: watcher,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if old, ok := b.watches[id]; ok {
		close(old.done)
		old.watcher.Close()
	}
	b.watches[id] = watch
	b.mu.Unlock()

	go b.run(watch, callback)

	b.logger.Info(context.Background(), "file watch registered", map[string]interface{}{
		"id":      id,
		"path":    cfg.Path,
		"pattern": cfg.Pattern,
	})
	return nil
}

// run 消费watcher事件直到注销
func (b *FileWatchBackend) run(watch *fileWatch, callback types.TriggerCallback) {
	for {
		select {
		case <-watch.done:
			return

		case ev, ok := <-watch.watcher.Events:
			if !ok {
				return
			}
			b.handleFsEvent(watch, ev, callback)

		case err, ok := <-watch.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn(context.Background(), "watcher error", map[string]interface{}{
				"path":  watch.config.Path,
				"error": err.Error(),
			})
		}
	}
}

// handleFsEvent 把一条fsnotify通知映射为语义事件并分发
func (b *FileWatchBackend) handleFsEvent(watch *fileWatch, ev fsnotify.Event, callback types.TriggerCallback) {
	semantic, ok := mapOp(ev.Op)
	if !ok {
		return
	}

	// 新建目录要补进递归监听
	if semantic == types.FileEventCreated {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = addRecursive(watch.watcher, ev.Name)
		}
	}

	if !containsEvent(watch.config.Events, semantic) {
		return
	}

	fileName := filepath.Base(ev.Name)
	if watch.config.Pattern != "" {
		matched, err := doublestar.Match(watch.config.Pattern, fileName)
		if err != nil || !matched {
			// 带路径的模式再按相对路径试一次
			if rel, relErr := filepath.Rel(watch.config.Path, ev.Name); relErr == nil {
				matched, err = doublestar.Match(watch.config.Pattern, filepath.ToSlash(rel))
			}
			if err != nil || !matched {
				return
			}
		}
	}

	// 无扩展名时退回裸文件名
	ext := strings.TrimPrefix(filepath.Ext(fileName), ".")
	if ext == "" {
		ext = fileName
	}

	event := types.NewEvent(types.TriggerTypeFileWatch, "file-watch:"+watch.config.Path, map[string]interface{}{
		"eventType":     string(semantic),
		"filePath":      ev.Name,
		"fileName":      fileName,
		"fileExtension": ext,
	}, nil)

	if err := callback(event); err != nil {
		b.logger.Warn(context.Background(), "file watch callback failed", map[string]interface{}{
			"path":  ev.Name,
			"error": err.Error(),
		})
	}
}

// Unregister 停止并移除一条监听
func (b *FileWatchBackend) Unregister(id string, config *types.TriggerConfig) error {
	if err := checkType(types.TriggerTypeFileWatch, config); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	watch, ok := b.watches[id]
	if !ok {
		return types.NewNotFoundError("file watch", id)
	}
	close(watch.done)
	watch.watcher.Close()
	delete(b.watches, id)
	return nil
}

// Start 启动后端(幂等; 注册即生效, 这里只标记状态)
func (b *FileWatchBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	return nil
}

// Stop 关闭所有watcher并清空注册
func (b *FileWatchBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, watch := range b.watches {
		close(watch.done)
		watch.watcher.Close()
	}
	b.watches = make(map[string]*fileWatch)
	b.running = false
	return nil
}

// WatchCount 当前监听数量
func (b *FileWatchBackend) WatchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watches)
}

// mapOp 把fsnotify操作映射到语义类别。
// 文件和目录复用同一映射; Chmod不关心。
func mapOp(op fsnotify.Op) (types.FileWatchEventType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return types.FileEventCreated, true
	case op.Has(fsnotify.Write):
		return types.FileEventModified, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return types.FileEventDeleted, true
	}
	return "", false
}

// containsEvent 检查语义类别是否在关注子集内
func containsEvent(events []types.FileWatchEventType, target types.FileWatchEventType) bool {
	for _, e := range events {
		if e == target {
			return true
		}
	}
	return false
}

// addRecursive 把root及其所有子目录加入watcher
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
