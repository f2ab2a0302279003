package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxdesk/voxdesk/pkg/adapters/stt"
	"github.com/voxdesk/voxdesk/pkg/frames"
)

type STTConfig struct {
	StreamID string
	CallSID  string
	TraceID  string
}

// StreamingSTT is a hand-driven STT double. Tests push transcript and
// voice-activity events through the Emit helpers.
type StreamingSTT struct {
	cfg     STTConfig
	out     chan frames.Frame
	mu      sync.Mutex
	started bool
	closed  bool
	// AudioBytes counts payload bytes received via SendAudio.
	AudioBytes int
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	return &StreamingSTT{cfg: cfg, out: make(chan frames.Frame, 64)}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.started = false
	return nil
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("not started")
	}
	s.AudioBytes += len(frame.RawPayload())
	return nil
}

func (s *StreamingSTT) Results() <-chan frames.Frame { return s.out }

// EmitTranscript injects a partial or final transcript.
func (s *StreamingSTT) EmitTranscript(text string, isFinal bool) {
	meta := s.meta()
	if isFinal {
		meta[frames.MetaIsFinal] = "true"
	} else {
		meta[frames.MetaIsFinal] = "false"
	}
	s.push(frames.NewTextFrame(s.cfg.StreamID, time.Now().UnixNano(), text, meta))
}

// EmitUtteranceEnd injects the end-of-utterance VAD signal.
func (s *StreamingSTT) EmitUtteranceEnd() {
	meta := s.meta()
	meta[frames.MetaReason] = "utterance_end"
	s.push(frames.NewControlFrame(s.cfg.StreamID, time.Now().UnixNano(), frames.ControlUtteranceEnd, meta))
}

// EmitSpeechStarted injects the speech-start VAD signal.
func (s *StreamingSTT) EmitSpeechStarted() {
	meta := s.meta()
	meta[frames.MetaReason] = "speech_started"
	s.push(frames.NewControlFrame(s.cfg.StreamID, time.Now().UnixNano(), frames.ControlSpeechStarted, meta))
}

func (s *StreamingSTT) meta() map[string]string {
	meta := map[string]string{
		frames.MetaStreamID: s.cfg.StreamID,
		frames.MetaCallSID:  s.cfg.CallSID,
		frames.MetaSource:   "stt",
	}
	if s.cfg.TraceID != "" {
		meta[frames.MetaTraceID] = s.cfg.TraceID
	}
	return meta
}

func (s *StreamingSTT) push(f frames.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- f:
	default:
	}
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
