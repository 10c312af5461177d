package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq atomic.Uint64

// operationStats accumulates the counters for one service operation. The
// failure count is folded into the same record as the latency total so a
// single lock covers every field an Observe call touches.
type operationStats struct {
	calls    int64
	failures int64
	elapsed  time.Duration
}

// OperationMetrics is the published aggregate for one arbitration operation.
type OperationMetrics struct {
	Calls          int64   `json:"calls"`
	Failures       int64   `json:"failures"`
	TotalElapsedMS float64 `json:"total_elapsed_ms"`
}

// MetricsSnapshot maps operation names (submit_request, approve_request, ...)
// to their aggregates.
type MetricsSnapshot struct {
	Operations  map[string]OperationMetrics `json:"operations"`
	CollectedAt time.Time                   `json:"collected_at"`
}

// ExpvarMetricsRecorder is the zero-dependency MetricsRecorder: it keeps one
// stats record per operation and publishes the snapshot through expvar for
// deployments that do not scrape prometheus.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  map[string]*operationStats
}

// NewExpvarMetricsRecorder constructs a recorder and publishes it under the
// supplied expvar name. An empty name gets a generated unique one, which keeps
// repeated construction in tests from panicking on duplicate publication.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("arbitration_metrics_%d", expvarSeq.Add(1))
	}
	rec := &ExpvarMetricsRecorder{
		name: name,
		ops:  make(map[string]*operationStats),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar name the recorder publishes under.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

// Observe records one completed operation.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	stats := r.ops[operation]
	if stats == nil {
		stats = &operationStats{}
		r.ops[operation] = stats
	}
	stats.calls++
	if !success {
		stats.failures++
	}
	stats.elapsed += duration
	r.mu.Unlock()
}

// Snapshot returns an immutable copy of the per-operation aggregates.
func (r *ExpvarMetricsRecorder) Snapshot() MetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := make(map[string]OperationMetrics, len(r.ops))
	for operation, stats := range r.ops {
		ops[operation] = OperationMetrics{
			Calls:          stats.calls,
			Failures:       stats.failures,
			TotalElapsedMS: float64(stats.elapsed) / float64(time.Millisecond),
		}
	}
	return MetricsSnapshot{Operations: ops, CollectedAt: time.Now().UTC()}
}

// TraceEvent is one completed span in the trace stream.
type TraceEvent struct {
	Operation string    `json:"operation"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	ElapsedMS float64   `json:"elapsed_ms"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// JSONTraceTracer emits one JSON line per finished span and retains the
// events so tests and diagnostics can read them back without parsing the
// stream.
type JSONTraceTracer struct {
	mu     sync.Mutex
	events []TraceEvent
	enc    *json.Encoder
}

// NewJSONTracer constructs a tracer writing to w. A nil writer keeps the
// tracer retain-only.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of the finished spans in completion order.
func (t *JSONTraceTracer) Entries() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEvent(nil), t.events...)
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &traceSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type traceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *traceSpan) End(err error) {
	ended := time.Now().UTC()
	event := TraceEvent{
		Operation: s.operation,
		Outcome:   "ok",
		ElapsedMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		StartedAt: s.started,
		EndedAt:   ended,
	}
	if err != nil {
		event.Outcome = "error"
		event.Error = err.Error()
	}

	s.tracer.mu.Lock()
	s.tracer.events = append(s.tracer.events, event)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(event)
	}
	s.tracer.mu.Unlock()
}
