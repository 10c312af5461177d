package core

import (
	"context"
	"time"
)

// MetricsRecorder receives per-operation outcomes from the service.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan finishes a span, recording the operation error if any.
type TraceSpan interface {
	End(err error)
}
