// Package tracing implements the opt-in tracing sidecar (C10). It is
// grounded on the teacher's pkg/tracing OTelTracer adapter, but restructured
// around a process-wide, handle-keyed trace-context store instead of a
// generic framework Tracer interface: spec §4.10 threads an opaque handle
// through envelope headers rather than a context.Context, since contexts
// don't survive a bus hop between goroutines that don't share one.
package tracing

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// SpanRecord is one span recorded against a trace handle.
type SpanRecord struct {
	Name         string
	ParentSpanID string
	SpanID       string
	StartedAt    time.Time
	EndedAt      time.Time
	Status       codes.Code
	StatusMsg    string
	Final        bool
}

// traceContext is everything the sidecar tracks for one in-flight trace.
type traceContext struct {
	mu    sync.Mutex
	spans []SpanRecord
}

// Sidecar is the process-wide trace-context store. When Enabled is false
// every method is a no-op, so node runtimes can call it unconditionally
// without branching on whether tracing is configured.
type Sidecar struct {
	enabled  bool
	tracer   oteltrace.Tracer
	mu       sync.Mutex
	contexts map[string]*traceContext
}

// NewSidecar builds a Sidecar. When enabled is false, Find/AddSpan/etc. all
// no-op and StartRootSpan returns an empty span ID.
func NewSidecar(enabled bool, serviceName string) *Sidecar {
	s := &Sidecar{enabled: enabled, contexts: make(map[string]*traceContext)}
	if enabled {
		s.tracer = otel.Tracer(serviceName)
	}
	return s
}

// Enabled reports whether tracing is active.
func (s *Sidecar) Enabled() bool { return s.enabled }

// StartRootSpan begins a new trace, registering handle (the opaque value
// callers thread through Envelope.Ctx headers, spec §4.10's "header.ctx")
// and returning the root span's own ID so the caller can later finalize it.
func (s *Sidecar) StartRootSpan(handle, name string) string {
	if !s.enabled {
		return ""
	}
	spanID := newSpanID(handle, 0)
	tc := &traceContext{}
	tc.spans = append(tc.spans, SpanRecord{
		Name:      name,
		SpanID:    spanID,
		StartedAt: time.Now(),
	})
	s.mu.Lock()
	s.contexts[handle] = tc
	s.mu.Unlock()
	return spanID
}

// Find reports whether handle has a live trace context.
func (s *Sidecar) Find(handle string) bool {
	if !s.enabled {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.contexts[handle]
	return ok
}

// AddSpan appends a new span to handle's trace, returning its span ID.
func (s *Sidecar) AddSpan(handle, name, parentSpanID string) string {
	if !s.enabled {
		return ""
	}
	s.mu.Lock()
	tc, ok := s.contexts[handle]
	s.mu.Unlock()
	if !ok {
		return ""
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	spanID := newSpanID(handle, len(tc.spans))
	tc.spans = append(tc.spans, SpanRecord{
		Name: name, ParentSpanID: parentSpanID, SpanID: spanID, StartedAt: time.Now(),
	})
	return spanID
}

// SetParentSpanID patches an already-recorded span's parent, used when a
// child span's causal parent is discovered after the child itself.
func (s *Sidecar) SetParentSpanID(handle, spanID, parentSpanID string) {
	s.mutateSpan(handle, spanID, func(r *SpanRecord) { r.ParentSpanID = parentSpanID })
}

// SetStartTime overrides a span's recorded start time.
func (s *Sidecar) SetStartTime(handle, spanID string, t time.Time) {
	s.mutateSpan(handle, spanID, func(r *SpanRecord) { r.StartedAt = t })
}

// SetEndTime records a span's end time.
func (s *Sidecar) SetEndTime(handle, spanID string, t time.Time) {
	s.mutateSpan(handle, spanID, func(r *SpanRecord) { r.EndedAt = t })
}

// SetStatus records a span's terminal status.
func (s *Sidecar) SetStatus(handle, spanID string, code codes.Code, msg string) {
	s.mutateSpan(handle, spanID, func(r *SpanRecord) { r.Status, r.StatusMsg = code, msg })
}

// SetFinal marks a span as final and, once every span in the trace is
// final, emits the whole trace to the configured OTel exporter and frees
// the trace context.
func (s *Sidecar) SetFinal(handle, spanID string) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	tc, ok := s.contexts[handle]
	s.mu.Unlock()
	if !ok {
		return
	}

	tc.mu.Lock()
	allFinal := true
	for i := range tc.spans {
		if tc.spans[i].SpanID == spanID {
			tc.spans[i].Final = true
		}
		if !tc.spans[i].Final {
			allFinal = false
		}
	}
	records := append([]SpanRecord{}, tc.spans...)
	tc.mu.Unlock()

	if !allFinal {
		return
	}

	s.emit(handle, records)
	s.mu.Lock()
	delete(s.contexts, handle)
	s.mu.Unlock()
}

// emit exports every recorded span for a completed trace through the OTel
// tracer. Spans are emitted flat (attributed with the gateway's own
// parent/child span IDs) rather than via OTel's native context-propagated
// parenting, since the sidecar records spans from arbitrary goroutines
// well after the originating request's context has gone out of scope.
func (s *Sidecar) emit(handle string, records []SpanRecord) {
	for _, r := range records {
		_, span := s.tracer.Start(context.Background(), r.Name,
			oteltrace.WithTimestamp(r.StartedAt),
			oteltrace.WithAttributes(
				attribute.String("trace.handle", handle),
				attribute.String("trace.span_id", r.SpanID),
				attribute.String("trace.parent_span_id", r.ParentSpanID),
			),
		)
		if r.StatusMsg != "" {
			span.SetStatus(r.Status, r.StatusMsg)
		}
		span.End(oteltrace.WithTimestamp(r.EndedAt))
	}
}

func (s *Sidecar) mutateSpan(handle, spanID string, mutate func(*SpanRecord)) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	tc, ok := s.contexts[handle]
	s.mu.Unlock()
	if !ok {
		return
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	for i := range tc.spans {
		if tc.spans[i].SpanID == spanID {
			mutate(&tc.spans[i])
			return
		}
	}
}

func newSpanID(handle string, seq int) string {
	return handle + "-" + strconv.Itoa(seq)
}

// handleTraceIDLen is the hex-encoded length of the 16-byte trace ID prefix
// a handle built by ekuiper's wire trace header carries (spec §4.9's
// "trace_id[16] | span_id[8]"); the remaining 16 hex chars are the external
// span ID driver spans must record as their parent.
const handleTraceIDLen = 32

// SplitHandle splits a trace handle built from the wire trace header into
// its trace ID and the external parent span ID, so a driver emitting a span
// against the handle can parent it correctly under the caller's own trace.
// Handles the gateway originates itself (not parsed off the wire) have no
// such split point and SplitHandle returns handle unchanged with no parent.
func SplitHandle(handle string) (traceID, parentSpanID string) {
	if len(handle) <= handleTraceIDLen {
		return handle, ""
	}
	return handle[:handleTraceIDLen], handle[handleTraceIDLen:]
}
