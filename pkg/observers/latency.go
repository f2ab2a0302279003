package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxdesk/voxdesk/pkg/metrics"
)

// LatencyObserver reconstructs per-turn time-to-first-byte from the event
// stream: final transcript to first token to first synthesized audio. One
// line is logged per turn, keyed by stream.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	sttFinal time.Time
	llmFirst time.Time
	ttsFirst time.Time
	llmDone  time.Time
	traceID  string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	streamID := ""
	if ev.Tags != nil {
		streamID = ev.Tags["stream_id"]
	}
	if streamID == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[streamID]
	if t == nil {
		t = &trace{}
		o.traces[streamID] = t
	}
	switch ev.Name {
	case metrics.EventSTTFinal:
		if t.sttFinal.IsZero() {
			t.sttFinal = ev.Time
		}
		if t.traceID == "" && ev.Tags != nil {
			t.traceID = ev.Tags["trace_id"]
		}
	case metrics.EventLLMFirstToken:
		if t.llmFirst.IsZero() {
			t.llmFirst = ev.Time
		}
	case metrics.EventTTSFirstAudio:
		if t.ttsFirst.IsZero() {
			t.ttsFirst = ev.Time
		}
	case metrics.EventLLMDone:
		t.llmDone = ev.Time
	}
	if !t.llmDone.IsZero() {
		o.logTurnLocked(streamID, t)
		delete(o.traces, streamID)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logTurnLocked(streamID string, t *trace) {
	o.log.Info("latency",
		"stream_id", streamID,
		"trace_id", t.traceID,
		"llm_first_token_ms", durationMs(t.sttFinal, t.llmFirst),
		"tts_first_audio_ms", durationMs(t.llmFirst, t.ttsFirst),
		"ttfb_ms", durationMs(t.sttFinal, t.ttsFirst),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
