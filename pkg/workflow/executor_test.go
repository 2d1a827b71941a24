package workflow

import (
	"context"
	"testing"

	"github.com/wordflowlab/arbiter/pkg/logging"
	"github.com/wordflowlab/arbiter/pkg/provider"
	"github.com/wordflowlab/arbiter/pkg/runtime"
	"github.com/wordflowlab/arbiter/pkg/tools"
	"github.com/wordflowlab/arbiter/pkg/types"
)

// scriptedProvider 按调用顺序返回预置响应
type scriptedProvider struct {
	responses []string
	calls     int
}

func (m *scriptedProvider) Name() string { return "scripted" }

func (m *scriptedProvider) Chat(ctx context.Context, messages []types.ConversationMessage, opts *provider.ChatOptions) (*provider.ChatResponse, error) {
	idx := m.calls
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.calls++
	return &provider.ChatResponse{Content: m.responses[idx]}, nil
}

func (m *scriptedProvider) Close() error { return nil }

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError)
}

func agentConfig(id string, level int, availableTools ...string) types.AgentConfig {
	if availableTools == nil {
		availableTools = []string{}
	}
	return types.AgentConfig{
		ID:             id,
		Name:           "Agent " + id,
		Model:          "test-model",
		SystemPrompt:   "You handle " + id + " tasks.",
		Level:          level,
		AvailableTools: availableTools,
	}
}

func testEvent() *types.Event {
	return types.NewEvent(types.TriggerTypeManual, "test", map[string]interface{}{"k": "v"}, nil)
}

func TestRegisterDefinitionValidation(t *testing.T) {
	e := NewExecutor(runtime.New(&scriptedProvider{}, nil), testLogger())

	if err := e.RegisterDefinition(Definition{ID: "", Agents: []string{"a"}}); err == nil {
		t.Error("Empty workflow id should fail")
	}
	if err := e.RegisterDefinition(Definition{ID: "wf", Agents: nil}); err == nil {
		t.Error("Workflow without agents should fail")
	}
	if err := e.RegisterDefinition(Definition{ID: "wf", Agents: []string{"a"}}); err != nil {
		t.Errorf("Valid definition should pass: %v", err)
	}
}

func TestExecuteWorkflowCompleted(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"reasoning": "done", "status": "completed"}`,
	}}
	rt := runtime.New(prov, nil)
	rt.CreateAgent(agentConfig("solo", 0))

	e := NewExecutor(rt, testLogger())
	e.RegisterDefinition(Definition{ID: "wf", Agents: []string{"solo"}})

	exec, err := e.ExecuteWorkflow(context.Background(), "wf", testEvent())
	if err != nil {
		t.Fatalf("ExecuteWorkflow failed: %v", err)
	}

	if exec.Status != ExecutionCompleted {
		t.Errorf("Expected completed, got %s", exec.Status)
	}
	if exec.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if len(exec.Steps) != 1 || exec.Steps[0].Iterations != 1 {
		t.Errorf("Expected one single-iteration step, got %+v", exec.Steps)
	}

	// 执行记录保留可查
	stored, err := e.GetExecution(exec.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if stored.Status != ExecutionCompleted {
		t.Errorf("Stored execution should be completed, got %s", stored.Status)
	}
}

func TestExecuteWorkflowToolLoop(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"reasoning": "need the file", "tool_calls": [{"tool_name": "probe", "parameters": {"n": 1}}], "status": "working"}`,
		`{"reasoning": "file read, done", "status": "completed"}`,
	}}
	rt := runtime.New(prov, nil)

	toolCalls := 0
	rt.RegisterGlobalTool(&tools.FuncTool{
		ToolName:        "probe",
		ToolDescription: "test probe",
		Fn: func(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
			toolCalls++
			return &tools.Result{Success: true, Data: "probe data"}, nil
		},
	})
	rt.CreateAgent(agentConfig("solo", 0, "probe"))

	e := NewExecutor(rt, testLogger())
	e.RegisterDefinition(Definition{ID: "wf", Agents: []string{"solo"}})

	exec, err := e.ExecuteWorkflow(context.Background(), "wf", testEvent())
	if err != nil {
		t.Fatalf("ExecuteWorkflow failed: %v", err)
	}

	if exec.Status != ExecutionCompleted {
		t.Fatalf("Expected completed, got %s (%s)", exec.Status, exec.Error)
	}
	if toolCalls != 1 {
		t.Errorf("Expected 1 tool invocation, got %d", toolCalls)
	}
	if exec.Steps[0].Iterations != 2 {
		t.Errorf("Expected 2 iterations, got %d", exec.Steps[0].Iterations)
	}
}

func TestExecuteWorkflowLevelOrdering(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"reasoning": "done", "status": "completed"}`,
	}}
	rt := runtime.New(prov, nil)
	rt.CreateAgent(agentConfig("cleanup", 2))
	rt.CreateAgent(agentConfig("gather", 0))
	rt.CreateAgent(agentConfig("process", 1))

	e := NewExecutor(rt, testLogger())
	// 定义顺序故意打乱, 执行按Level升序
	e.RegisterDefinition(Definition{ID: "wf", Agents: []string{"cleanup", "gather", "process"}})

	exec, err := e.ExecuteWorkflow(context.Background(), "wf", testEvent())
	if err != nil {
		t.Fatalf("ExecuteWorkflow failed: %v", err)
	}

	if len(exec.Steps) != 3 {
		t.Fatalf("Expected 3 steps, got %d", len(exec.Steps))
	}
	want := []string{"gather", "process", "cleanup"}
	for i, step := range exec.Steps {
		if step.AgentID != want[i] {
			t.Errorf("Step %d: expected %s, got %s", i, want[i], step.AgentID)
		}
	}
}

func TestExecuteWorkflowAgentErrorStopsChain(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"reasoning": "cannot continue", "status": "error"}`,
	}}
	rt := runtime.New(prov, nil)
	rt.CreateAgent(agentConfig("first", 0))
	rt.CreateAgent(agentConfig("second", 1))

	e := NewExecutor(rt, testLogger())
	e.RegisterDefinition(Definition{ID: "wf", Agents: []string{"first", "second"}})

	exec, err := e.ExecuteWorkflow(context.Background(), "wf", testEvent())
	if err != nil {
		t.Fatalf("ExecuteWorkflow failed: %v", err)
	}

	if exec.Status != ExecutionFailed {
		t.Errorf("Expected failed, got %s", exec.Status)
	}
	// 第一个Agent失败, 第二个不再执行
	if len(exec.Steps) != 1 {
		t.Errorf("Expected 1 step, got %d", len(exec.Steps))
	}
}

func TestExecuteWorkflowMaxIterations(t *testing.T) {
	// 模型永远working且总要求调用工具
	prov := &scriptedProvider{responses: []string{
		`{"reasoning": "still working", "tool_calls": [{"tool_name": "probe"}], "status": "working"}`,
	}}
	rt := runtime.New(prov, nil)
	rt.RegisterGlobalTool(&tools.FuncTool{
		ToolName:        "probe",
		ToolDescription: "test probe",
		Fn: func(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
			return &tools.Result{Success: true}, nil
		},
	})
	rt.CreateAgent(agentConfig("loop", 0, "probe"))

	e := NewExecutor(rt, testLogger())
	e.RegisterDefinition(Definition{ID: "wf", Agents: []string{"loop"}, MaxIterations: 3})

	exec, err := e.ExecuteWorkflow(context.Background(), "wf", testEvent())
	if err != nil {
		t.Fatalf("ExecuteWorkflow failed: %v", err)
	}

	if exec.Status != ExecutionFailed {
		t.Errorf("Exhausted iterations should fail, got %s", exec.Status)
	}
	if exec.Steps[0].Iterations != 3 {
		t.Errorf("Expected 3 iterations, got %d", exec.Steps[0].Iterations)
	}
}

func TestExecuteWorkflowUnknownWorkflow(t *testing.T) {
	e := NewExecutor(runtime.New(&scriptedProvider{}, nil), testLogger())

	_, err := e.ExecuteWorkflow(context.Background(), "ghost", testEvent())
	if err == nil {
		t.Fatal("Unknown workflow should fail")
	}
	if _, ok := err.(*types.NotFoundError); !ok {
		t.Fatalf("Expected NotFoundError, got %T", err)
	}
}

func TestProcessAdapterReportsFailure(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"reasoning": "broken", "status": "error"}`,
	}}
	rt := runtime.New(prov, nil)
	rt.CreateAgent(agentConfig("solo", 0))

	e := NewExecutor(rt, testLogger())
	e.RegisterDefinition(Definition{ID: "wf", Agents: []string{"solo"}})

	handler := &types.Handler{ID: "handler_wf", WorkflowID: "wf"}
	if err := e.Process(testEvent(), handler); err == nil {
		t.Error("Failed execution should surface as an error from Process")
	}
}

func TestGetActiveExecutions(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"reasoning": "done", "status": "completed"}`,
	}}
	rt := runtime.New(prov, nil)
	rt.CreateAgent(agentConfig("solo", 0))

	e := NewExecutor(rt, testLogger())
	e.RegisterDefinition(Definition{ID: "wf", Agents: []string{"solo"}})
	e.ExecuteWorkflow(context.Background(), "wf", testEvent())

	// 同步执行结束后没有活跃执行
	if active := e.GetActiveExecutions(); len(active) != 0 {
		t.Errorf("Expected no active executions, got %d", len(active))
	}
}

func TestCancelExecutionNotRunning(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"reasoning": "done", "status": "completed"}`,
	}}
	rt := runtime.New(prov, nil)
	rt.CreateAgent(agentConfig("solo", 0))

	e := NewExecutor(rt, testLogger())
	e.RegisterDefinition(Definition{ID: "wf", Agents: []string{"solo"}})
	exec, _ := e.ExecuteWorkflow(context.Background(), "wf", testEvent())

	if err := e.CancelExecution(exec.ID); err == nil {
		t.Error("Cancelling a finished execution should fail")
	}
	if err := e.CancelExecution("ghost"); err == nil {
		t.Error("Cancelling an unknown execution should fail")
	}
}
