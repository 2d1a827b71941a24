package trigger

import (
	"errors"
	"sync"
	"testing"

	"github.com/wordflowlab/arbiter/pkg/types"
)

func manualConfig() *types.TriggerConfig {
	return &types.TriggerConfig{Type: types.TriggerTypeManual}
}

func TestManualBroadcastOrderAndIsolation(t *testing.T) {
	b := NewManualBackend(testLogger())

	var mu sync.Mutex
	var events []*types.Event

	record := func(event *types.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
		return nil
	}

	b.Register("handler_a", manualConfig(), record)
	b.Register("handler_b", manualConfig(), func(event *types.Event) error {
		return errors.New("boom")
	})
	b.Register("handler_c", manualConfig(), record)

	results := b.TriggerManual(map[string]interface{}{"reason": "test"})

	// 结果按注册顺序排列, 中间的失败不影响两侧
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if !results[0].Success || results[0].Error != "" {
		t.Errorf("First result should succeed, got %+v", results[0])
	}
	if results[1].Success || results[1].Error != "boom" {
		t.Errorf("Second result should carry 'boom', got %+v", results[1])
	}
	if !results[2].Success {
		t.Errorf("Third result should succeed, got %+v", results[2])
	}

	// 一次广播共享同一个Event
	if len(events) != 2 {
		t.Fatalf("Expected 2 recorded events, got %d", len(events))
	}
	if events[0].ID != events[1].ID {
		t.Error("All callbacks of one broadcast should see the same event")
	}
	if events[0].Source != "manual-trigger" {
		t.Errorf("Unexpected source %q", events[0].Source)
	}
}

func TestManualBroadcastRecoversPanic(t *testing.T) {
	b := NewManualBackend(testLogger())

	b.Register("handler_a", manualConfig(), func(event *types.Event) error {
		panic(errors.New("panicked"))
	})
	b.Register("handler_b", manualConfig(), func(event *types.Event) error {
		panic("just a string")
	})

	results := b.TriggerManual(nil)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Error != "panicked" {
		t.Errorf("Error panic should keep its message, got %q", results[0].Error)
	}
	if results[1].Error != "Unknown error" {
		t.Errorf("Non-error panic should map to 'Unknown error', got %q", results[1].Error)
	}
}

func TestManualMultipleRegistrationsCoexist(t *testing.T) {
	b := NewManualBackend(testLogger())

	cb := func(event *types.Event) error { return nil }
	b.Register("handler_a", manualConfig(), cb)
	b.Register("handler_a", manualConfig(), cb)

	// 手动注册不按id去重, 两条注册共存
	if b.RegistrationCount() != 2 {
		t.Errorf("Expected 2 registrations, got %d", b.RegistrationCount())
	}

	b.Unregister("handler_a", manualConfig())
	if b.RegistrationCount() != 0 {
		t.Errorf("Unregister should remove every registration with the id, got %d", b.RegistrationCount())
	}
}

func TestManualBroadcastEmpty(t *testing.T) {
	b := NewManualBackend(testLogger())

	results := b.TriggerManual(nil)
	if len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
}

func TestManualStopClearsRegistrations(t *testing.T) {
	b := NewManualBackend(testLogger())

	b.Register("handler_a", manualConfig(), func(event *types.Event) error { return nil })
	b.Stop()
	if b.RegistrationCount() != 0 {
		t.Error("Stop should clear the registration list")
	}
}
