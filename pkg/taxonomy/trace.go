package taxonomy

import "time"

// OperationTrace captures timing data for one mutation (create_version or
// rollback). This structure is stable for downstream consumers.
type OperationTrace struct {
	// Operation is "create_version" or "rollback"
	Operation string `json:"operation"`

	// Spans contains timing data for each stage of the operation
	Spans []Span `json:"spans"`

	// TotalDurationMs is the total elapsed time for the operation in milliseconds
	TotalDurationMs int64 `json:"totalDurationMs"`
}

// Span represents a single timed stage within an operation.
// Stage names are stable and documented:
//   - "preconditions": document-count gates and op shape checks
//   - "create": simulate + validate + commit (inside the mutation lock)
//   - "rollback": plan + execute + post-validate (inside the mutation lock)
//   - "invalidate": cache invalidation after commit
type Span struct {
	// Name identifies the operation stage (see Span documentation for stable names)
	Name string `json:"name"`

	// DurationMs is the elapsed time for this span in milliseconds
	DurationMs int64 `json:"durationMs"`

	// OK indicates whether the span completed successfully
	OK bool `json:"ok"`

	// Error contains error message if OK is false (optional)
	Error string `json:"error,omitempty"`

	// Counters provides additional metrics for the span (optional)
	// Example keys: "opCount", "affectedRows", "removedVersions"
	Counters map[string]int64 `json:"counters,omitempty"`
}

// newTrace creates a new OperationTrace with empty spans
func newTrace(operation string) *OperationTrace {
	return &OperationTrace{
		Operation: operation,
		Spans:     make([]Span, 0),
	}
}

// addSpan appends a completed span to the trace
func (t *OperationTrace) addSpan(span Span) {
	t.Spans = append(t.Spans, span)
	t.TotalDurationMs += span.DurationMs
}

// spanTimer is a helper for measuring span duration
type spanTimer struct {
	name  string
	start int64 // Unix time in milliseconds
	trace *OperationTrace
}

// newSpanTimer creates a timer for a named span
func newSpanTimer(name string, trace *OperationTrace) *spanTimer {
	return &spanTimer{
		name:  name,
		start: timeNowMs(),
		trace: trace,
	}
}

// finish completes the span, records it to the trace, and returns it so
// callers can forward the measured duration to the metrics collector.
func (st *spanTimer) finish(ok bool, err error, counters map[string]int64) Span {
	span := Span{
		Name:       st.name,
		DurationMs: timeNowMs() - st.start,
		OK:         ok,
		Counters:   counters,
	}
	if err != nil {
		span.Error = err.Error()
	}
	st.trace.addSpan(span)
	return span
}

func timeNowMs() int64 {
	return time.Now().UnixMilli()
}
