package metrics

import "time"

// MetricsEvent is one named measurement along the call path: a transcript
// final, the first LLM token, the first TTS byte, a barge-in. Tags carry
// the call identity (stream_id, trace_id, tenant_id) so observers can
// stitch per-turn latency.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Observer consumes metrics events. Implementations must not block; they
// sit on the audio hot path.
type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

// NoopObserver discards everything. Used where metrics are optional.
type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
