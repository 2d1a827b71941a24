package runlog

import (
	"context"
	"sync"
	"testing"

	"github.com/wordflowlab/arbiter/pkg/logging"
)

// captureTransport 收集日志记录供断言
type captureTransport struct {
	mu      sync.Mutex
	records []*logging.LogRecord
}

func (t *captureTransport) Name() string { return "capture" }

func (t *captureTransport) Log(ctx context.Context, rec *logging.LogRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)
	return nil
}

func (t *captureTransport) Flush(ctx context.Context) error { return nil }

func (t *captureTransport) messages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.records))
	for i, rec := range t.records {
		out[i] = rec.Message
	}
	return out
}

func TestLogSinkLifecycle(t *testing.T) {
	capture := &captureTransport{}
	sink := NewLogSink(logging.NewLogger(logging.LevelDebug, capture))
	ctx := context.Background()

	runID := sink.Started(ctx, RunKindAgent, "triage", "")
	if runID == "" {
		t.Fatal("Started should return a run id")
	}
	sink.Completed(ctx, runID)

	failedID := sink.Started(ctx, RunKindTool, "read_file", runID)
	sink.Failed(ctx, failedID, "disk error")

	msgs := capture.messages()
	want := []string{"run started", "run completed", "run started", "run failed"}
	if len(msgs) != len(want) {
		t.Fatalf("Expected %d records, got %v", len(want), msgs)
	}
	for i, m := range want {
		if msgs[i] != m {
			t.Errorf("Record %d: expected %q, got %q", i, m, msgs[i])
		}
	}

	// 父子关联通过parent_id字段体现
	if capture.records[2].Fields["parent_id"] != runID {
		t.Errorf("Child run should carry parent_id %s", runID)
	}
	if capture.records[3].Fields["reason"] != "disk error" {
		t.Errorf("Failure should carry the reason, got %v", capture.records[3].Fields)
	}
}

func TestLogSinkUnknownRunIsIgnored(t *testing.T) {
	capture := &captureTransport{}
	sink := NewLogSink(logging.NewLogger(logging.LevelDebug, capture))

	sink.Completed(context.Background(), "ghost")
	sink.Failed(context.Background(), "ghost", "whatever")

	if len(capture.messages()) != 0 {
		t.Errorf("Unknown run ids should be ignored, got %v", capture.messages())
	}
}
