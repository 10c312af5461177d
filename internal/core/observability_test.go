package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	ctx := context.Background()

	rec.Observe(ctx, "approve_request", true, 20*time.Millisecond)
	rec.Observe(ctx, "approve_request", true, 30*time.Millisecond)
	rec.Observe(ctx, "approve_request", false, 10*time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)

	snapshot := rec.Snapshot()
	got := snapshot.Operations["approve_request"]
	if got.Calls != 3 || got.Failures != 1 {
		t.Fatalf("aggregates %+v", got)
	}
	if got.TotalElapsedMS < 59 || got.TotalElapsedMS > 61 {
		t.Fatalf("elapsed %+v", got)
	}
	if _, ok := snapshot.Operations[""]; ok {
		t.Fatalf("unnamed operation must be dropped: %+v", snapshot.Operations)
	}
	if rec.Name() == "" {
		t.Fatalf("generated name must not be empty")
	}
}

func TestJSONTracerEncodesSpans(t *testing.T) {
	buf := &bytes.Buffer{}
	tracer := NewJSONTracer(buf)

	_, span := tracer.Start(context.Background(), "submit_request")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "approve_request")
	span.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d want 2", len(entries))
	}
	if entries[0].Outcome != "ok" || entries[1].Outcome != "error" || entries[1].Error != "boom" {
		t.Fatalf("entries %+v", entries)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("encoded lines = %d want 2", len(lines))
	}
	var decoded TraceEvent
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("decode span: %v", err)
	}
	if decoded.Operation != "approve_request" {
		t.Fatalf("decoded %+v", decoded)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	rec := NewPrometheusMetricsRecorder()
	rec.Observe(context.Background(), "approve_request", true, 10*time.Millisecond)
	rec.Observe(context.Background(), "approve_request", false, 5*time.Millisecond)

	families, err := rec.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, family := range families {
		found[family.GetName()] = true
	}
	if !found["reservecore_service_operation_duration_seconds"] {
		t.Fatalf("duration metric missing: %v", found)
	}
	if !found["reservecore_service_operation_results_total"] {
		t.Fatalf("results metric missing: %v", found)
	}
}
