package observers

import (
	"testing"
	"time"

	"github.com/voxdesk/voxdesk/pkg/metrics"
)

func TestLatencyObserverTracksOneTurn(t *testing.T) {
	o := NewLatencyObserver(nil)
	base := time.Now()
	tags := map[string]string{"stream_id": "MZ1", "trace_id": "tr-1"}

	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSTTFinal, Time: base, Tags: tags})
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventLLMFirstToken, Time: base.Add(200 * time.Millisecond), Tags: tags})
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventTTSFirstAudio, Time: base.Add(350 * time.Millisecond), Tags: tags})

	o.mu.Lock()
	tr := o.traces["MZ1"]
	o.mu.Unlock()
	if tr == nil {
		t.Fatalf("expected in-flight trace for stream")
	}
	if tr.traceID != "tr-1" {
		t.Fatalf("trace_id = %q", tr.traceID)
	}

	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventLLMDone, Time: base.Add(500 * time.Millisecond), Tags: tags})

	o.mu.Lock()
	remaining := len(o.traces)
	o.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("trace not reaped after llm_done, %d remaining", remaining)
	}
}

func TestLatencyObserverIgnoresUntaggedEvents(t *testing.T) {
	o := NewLatencyObserver(nil)
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSTTFinal, Time: time.Now()})
	o.mu.Lock()
	n := len(o.traces)
	o.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no trace without stream_id, got %d", n)
	}
}

func TestDurationMs(t *testing.T) {
	a := time.Now()
	if got := durationMs(a, a.Add(120*time.Millisecond)); got != 120 {
		t.Fatalf("durationMs = %d, want 120", got)
	}
	if got := durationMs(time.Time{}, a); got != -1 {
		t.Fatalf("durationMs with zero start = %d, want -1", got)
	}
}
