package trigger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wordflowlab/arbiter/pkg/types"
)

func fileWatchConfig(path, pattern string, events ...types.FileWatchEventType) *types.TriggerConfig {
	return &types.TriggerConfig{
		Type: types.TriggerTypeFileWatch,
		FileWatch: &types.FileWatchTriggerConfig{
			Path:    path,
			Events:  events,
			Pattern: pattern,
		},
	}
}

func waitForEvent(t *testing.T, ch <-chan *types.Event) *types.Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for a file watch event")
		return nil
	}
}

func TestFileWatchCreateEvent(t *testing.T) {
	dir := t.TempDir()
	b := NewFileWatchBackend(testLogger())
	defer b.Stop()

	ch := make(chan *types.Event, 8)
	err := b.Register("handler_fw", fileWatchConfig(dir, "", types.FileEventCreated), func(event *types.Event) error {
		ch <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	path := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	event := waitForEvent(t, ch)
	data := event.Data.(map[string]interface{})
	if data["eventType"] != "created" {
		t.Errorf("Expected created, got %v", data["eventType"])
	}
	if data["fileName"] != "report.txt" {
		t.Errorf("Expected report.txt, got %v", data["fileName"])
	}
	if data["fileExtension"] != "txt" {
		t.Errorf("Expected extension txt, got %v", data["fileExtension"])
	}
	if event.Source != "file-watch:"+dir {
		t.Errorf("Unexpected source %q", event.Source)
	}
}

func TestFileWatchPatternFilter(t *testing.T) {
	dir := t.TempDir()
	b := NewFileWatchBackend(testLogger())
	defer b.Stop()

	ch := make(chan *types.Event, 8)
	err := b.Register("handler_fw", fileWatchConfig(dir, "*.log", types.FileEventCreated), func(event *types.Event) error {
		ch <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// 不匹配模式的文件先创建, 不应触发
	os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "app.log"), []byte("x"), 0o644)

	event := waitForEvent(t, ch)
	data := event.Data.(map[string]interface{})
	if data["fileName"] != "app.log" {
		t.Errorf("Pattern should filter to app.log, got %v", data["fileName"])
	}

	select {
	case extra := <-ch:
		t.Errorf("Unexpected extra event: %v", extra.Data)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFileWatchEventSubset(t *testing.T) {
	dir := t.TempDir()
	b := NewFileWatchBackend(testLogger())
	defer b.Stop()

	path := filepath.Join(dir, "data.txt")
	os.WriteFile(path, []byte("v1"), 0o644)

	ch := make(chan *types.Event, 8)
	// 只关注deleted, 修改不触发
	err := b.Register("handler_fw", fileWatchConfig(dir, "", types.FileEventDeleted), func(event *types.Event) error {
		ch <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	os.WriteFile(path, []byte("v2"), 0o644)
	os.Remove(path)

	event := waitForEvent(t, ch)
	data := event.Data.(map[string]interface{})
	if data["eventType"] != "deleted" {
		t.Errorf("Expected deleted, got %v", data["eventType"])
	}
}

func TestFileWatchNoExtensionFallsBackToName(t *testing.T) {
	dir := t.TempDir()
	b := NewFileWatchBackend(testLogger())
	defer b.Stop()

	ch := make(chan *types.Event, 8)
	err := b.Register("handler_fw", fileWatchConfig(dir, "", types.FileEventCreated), func(event *types.Event) error {
		ch <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	os.WriteFile(filepath.Join(dir, "Makefile"), []byte("all:"), 0o644)

	event := waitForEvent(t, ch)
	data := event.Data.(map[string]interface{})
	if data["fileExtension"] != "Makefile" {
		t.Errorf("Extensionless file should fall back to its name, got %v", data["fileExtension"])
	}
}

func TestFileWatchMissingConfig(t *testing.T) {
	b := NewFileWatchBackend(testLogger())

	err := b.Register("handler_fw", &types.TriggerConfig{Type: types.TriggerTypeFileWatch}, func(event *types.Event) error { return nil })
	if err == nil {
		t.Fatal("Missing file watch config should fail")
	}
}

func TestFileWatchUnregister(t *testing.T) {
	dir := t.TempDir()
	b := NewFileWatchBackend(testLogger())
	defer b.Stop()

	cfg := fileWatchConfig(dir, "", types.FileEventCreated)
	b.Register("handler_fw", cfg, func(event *types.Event) error { return nil })
	if b.WatchCount() != 1 {
		t.Fatalf("Expected 1 watch, got %d", b.WatchCount())
	}

	if err := b.Unregister("handler_fw", cfg); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if b.WatchCount() != 0 {
		t.Errorf("Expected 0 watches, got %d", b.WatchCount())
	}

	if err := b.Unregister("handler_fw", cfg); err == nil {
		t.Error("Unregistering twice should fail")
	}
}
