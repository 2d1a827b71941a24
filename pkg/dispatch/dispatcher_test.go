package dispatch

import (
	"errors"
	"testing"

	"github.com/wordflowlab/arbiter/pkg/logging"
	"github.com/wordflowlab/arbiter/pkg/trigger"
	"github.com/wordflowlab/arbiter/pkg/types"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError)
}

func newTestDispatcher() (*Dispatcher, *trigger.ManualBackend, *trigger.CronBackend) {
	logger := testLogger()
	manual := trigger.NewManualBackend(logger)
	cron := trigger.NewCronBackend(logger)
	d := New(logger, nil, manual, cron, trigger.NewWebhookBackend(logger))
	return d, manual, cron
}

func manualRegistration(workflowID string) WorkflowRegistration {
	return WorkflowRegistration{
		WorkflowID: workflowID,
		Trigger:    types.TriggerConfig{Type: types.TriggerTypeManual},
	}
}

func TestRegisterWorkflowCreatesHandler(t *testing.T) {
	d, manual, _ := newTestDispatcher()

	if err := d.RegisterWorkflow(manualRegistration("wf1")); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	handler, err := d.GetHandler("handler_wf1")
	if err != nil {
		t.Fatalf("Handler should exist: %v", err)
	}
	if !handler.Enabled {
		t.Error("New handler should be enabled")
	}
	if handler.WorkflowID != "wf1" {
		t.Errorf("Expected workflow wf1, got %s", handler.WorkflowID)
	}
	if handler.EventType != types.TriggerTypeManual {
		t.Errorf("Expected manual event type, got %s", handler.EventType)
	}
	if manual.RegistrationCount() != 1 {
		t.Errorf("Expected 1 backend registration, got %d", manual.RegistrationCount())
	}
}

func TestRegisterWorkflowRollbackOnBackendFailure(t *testing.T) {
	d, _, cron := newTestDispatcher()

	err := d.RegisterWorkflow(WorkflowRegistration{
		WorkflowID: "wf1",
		Trigger: types.TriggerConfig{
			Type: types.TriggerTypeCron,
			Cron: &types.CronTriggerConfig{Expression: "garbage"},
		},
	})
	if err == nil {
		t.Fatal("Invalid cron expression should fail registration")
	}

	// 失败的注册不留下孤儿Handler
	if _, err := d.GetHandler("handler_wf1"); err == nil {
		t.Error("Handler should have been rolled back")
	}
	if cron.JobCount() != 0 {
		t.Errorf("Expected 0 cron jobs, got %d", cron.JobCount())
	}
}

func TestRegisterWorkflowUnknownTypeIsLenient(t *testing.T) {
	d, _, _ := newTestDispatcher()

	err := d.RegisterWorkflow(WorkflowRegistration{
		WorkflowID: "wf1",
		Trigger:    types.TriggerConfig{Type: types.TriggerType("carrier-pigeon")},
	})
	if err != nil {
		t.Fatalf("Unknown trigger type should register leniently: %v", err)
	}

	handler, err := d.GetHandler("handler_wf1")
	if err != nil {
		t.Fatalf("Handler should exist: %v", err)
	}
	if handler.TriggerCount != 0 {
		t.Errorf("Inert handler should never fire, got count %d", handler.TriggerCount)
	}
}

func TestReRegisterReplacesHandler(t *testing.T) {
	d, manual, _ := newTestDispatcher()
	d.SetProcessor(func(event *types.Event, handler *types.Handler) error { return nil })

	d.RegisterWorkflow(manualRegistration("wf1"))
	d.TriggerManualEvent("wf1", nil)

	if err := d.RegisterWorkflow(manualRegistration("wf1")); err != nil {
		t.Fatalf("Re-registration failed: %v", err)
	}

	handler, _ := d.GetHandler("handler_wf1")
	// 重新注册得到一个全新Handler, 统计归零
	if handler.TriggerCount != 0 {
		t.Errorf("Re-registered handler should start fresh, got count %d", handler.TriggerCount)
	}
	if manual.RegistrationCount() != 1 {
		t.Errorf("Old backend registration should be gone, got %d", manual.RegistrationCount())
	}
}

func TestTriggerManualEvent(t *testing.T) {
	d, _, _ := newTestDispatcher()

	var got *types.Event
	d.SetProcessor(func(event *types.Event, handler *types.Handler) error {
		got = event
		return nil
	})

	d.RegisterWorkflow(manualRegistration("wf1"))

	result, err := d.TriggerManualEvent("wf1", map[string]interface{}{"k": "v"})
	if err != nil {
		t.Fatalf("TriggerManualEvent failed: %v", err)
	}
	if !result.Success || result.Skipped {
		t.Errorf("Expected a successful dispatch, got %+v", result)
	}

	if got == nil {
		t.Fatal("Processor should have received the event")
	}
	if got.Source != "arbiter-manual" {
		t.Errorf("Expected source arbiter-manual, got %q", got.Source)
	}
	if got.Metadata["workflowId"] != "wf1" {
		t.Errorf("Expected workflowId metadata, got %v", got.Metadata)
	}
	if got.Metadata["triggeredBy"] != "manual" {
		t.Errorf("Expected triggeredBy manual, got %v", got.Metadata)
	}

	handler, _ := d.GetHandler("handler_wf1")
	if handler.TriggerCount != 1 {
		t.Errorf("Expected trigger count 1, got %d", handler.TriggerCount)
	}
	if handler.LastTriggered == nil {
		t.Error("LastTriggered should be set")
	}
}

func TestTriggerManualEventUnknownWorkflow(t *testing.T) {
	d, _, _ := newTestDispatcher()
	d.SetProcessor(func(event *types.Event, handler *types.Handler) error { return nil })
	d.RegisterWorkflow(manualRegistration("wf1"))

	_, err := d.TriggerManualEvent("ghost", nil)
	if err == nil {
		t.Fatal("Unknown workflow should fail")
	}
	if _, ok := err.(*types.NotFoundError); !ok {
		t.Fatalf("Expected NotFoundError, got %T", err)
	}

	// 失败的手动触发没有任何副作用
	handler, _ := d.GetHandler("handler_wf1")
	if handler.TriggerCount != 0 {
		t.Errorf("Other handlers should be untouched, got count %d", handler.TriggerCount)
	}
}

func TestDisabledHandlerStillCounts(t *testing.T) {
	d, _, _ := newTestDispatcher()

	processed := 0
	d.SetProcessor(func(event *types.Event, handler *types.Handler) error {
		processed++
		return nil
	})

	d.RegisterWorkflow(manualRegistration("wf1"))
	if err := d.DisableEventHandler("handler_wf1"); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	result, err := d.TriggerManualEvent("wf1", nil)
	if err != nil {
		t.Fatalf("TriggerManualEvent failed: %v", err)
	}
	if !result.Success || !result.Skipped {
		t.Errorf("Disabled handler should skip successfully, got %+v", result)
	}
	if result.Reason != "Handler disabled" {
		t.Errorf("Expected reason 'Handler disabled', got %q", result.Reason)
	}
	if processed != 0 {
		t.Error("Processor should not run for a disabled handler")
	}

	// 禁用只是跳过处理, 到达计数照常累加
	handler, _ := d.GetHandler("handler_wf1")
	if handler.TriggerCount != 1 {
		t.Errorf("Expected trigger count 1 while disabled, got %d", handler.TriggerCount)
	}

	if err := d.EnableEventHandler("handler_wf1"); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	d.TriggerManualEvent("wf1", nil)
	if processed != 1 {
		t.Errorf("Processor should run after re-enable, got %d", processed)
	}
}

func TestProcessorFailureStaysInBand(t *testing.T) {
	d, _, _ := newTestDispatcher()
	d.SetProcessor(func(event *types.Event, handler *types.Handler) error {
		return errors.New("downstream failed")
	})

	d.RegisterWorkflow(manualRegistration("wf1"))

	result, err := d.TriggerManualEvent("wf1", nil)
	if err != nil {
		t.Fatalf("Processing failures must not surface as errors: %v", err)
	}
	if result.Success {
		t.Error("Expected in-band failure")
	}
	if result.Error != "downstream failed" {
		t.Errorf("Expected 'downstream failed', got %q", result.Error)
	}
}

func TestProcessorPanicStaysInBand(t *testing.T) {
	d, _, _ := newTestDispatcher()
	d.SetProcessor(func(event *types.Event, handler *types.Handler) error {
		panic("chaos")
	})

	d.RegisterWorkflow(manualRegistration("wf1"))

	result, err := d.TriggerManualEvent("wf1", nil)
	if err != nil {
		t.Fatalf("Panics must not cross the dispatch boundary: %v", err)
	}
	if result.Success {
		t.Error("Expected in-band failure")
	}
	if result.Error != "Unknown error" {
		t.Errorf("Non-error panic should map to 'Unknown error', got %q", result.Error)
	}
}

func TestDispatchWithoutProcessor(t *testing.T) {
	d, _, _ := newTestDispatcher()
	d.RegisterWorkflow(manualRegistration("wf1"))

	_, err := d.TriggerManualEvent("wf1", nil)
	if !errors.Is(err, ErrNoProcessor) {
		t.Fatalf("Expected ErrNoProcessor, got %v", err)
	}
}

func TestUnregisterWorkflow(t *testing.T) {
	d, manual, _ := newTestDispatcher()
	d.RegisterWorkflow(manualRegistration("wf1"))

	if err := d.UnregisterWorkflow("wf1"); err != nil {
		t.Fatalf("UnregisterWorkflow failed: %v", err)
	}
	if _, err := d.GetHandler("handler_wf1"); err == nil {
		t.Error("Handler should be gone after unregistration")
	}
	if manual.RegistrationCount() != 0 {
		t.Errorf("Backend registration should be gone, got %d", manual.RegistrationCount())
	}

	if err := d.UnregisterWorkflow("wf1"); err == nil {
		t.Error("Unregistering twice should fail")
	}
}

func TestCronWorkflowLifecycle(t *testing.T) {
	d, _, cron := newTestDispatcher()

	err := d.RegisterWorkflow(WorkflowRegistration{
		WorkflowID: "nightly",
		Trigger: types.TriggerConfig{
			Type: types.TriggerTypeCron,
			Cron: &types.CronTriggerConfig{Expression: "0 0 * * *"},
		},
	})
	if err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	if cron.JobCount() != 1 {
		t.Errorf("Expected 1 cron job, got %d", cron.JobCount())
	}

	handler, _ := d.GetHandler("handler_nightly")
	if handler.Condition != "0 0 * * *" {
		t.Errorf("Condition should show the cron expression, got %q", handler.Condition)
	}

	if err := d.UnregisterWorkflow("nightly"); err != nil {
		t.Fatalf("UnregisterWorkflow failed: %v", err)
	}
	if cron.JobCount() != 0 {
		t.Errorf("Expected 0 cron jobs, got %d", cron.JobCount())
	}
}

func TestEnableDisableUnknownHandler(t *testing.T) {
	d, _, _ := newTestDispatcher()

	if err := d.EnableEventHandler("handler_ghost"); err == nil {
		t.Error("Enabling an unknown handler should fail")
	}
	if err := d.DisableEventHandler("handler_ghost"); err == nil {
		t.Error("Disabling an unknown handler should fail")
	}
}

func TestListHandlers(t *testing.T) {
	d, _, _ := newTestDispatcher()
	d.RegisterWorkflow(manualRegistration("a"))
	d.RegisterWorkflow(manualRegistration("b"))

	handlers := d.ListHandlers()
	if len(handlers) != 2 {
		t.Fatalf("Expected 2 handlers, got %d", len(handlers))
	}
}
