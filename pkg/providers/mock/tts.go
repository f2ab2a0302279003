package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxdesk/voxdesk/pkg/adapters/tts"
	"github.com/voxdesk/voxdesk/pkg/frames"
)

type TTSConfig struct {
	StreamID   string
	CallSID    string
	SampleRate int
	Channels   int
	// BytesPerFragment sizes the silent audio emitted per SendText.
	BytesPerFragment int
}

// StreamingTTS synthesizes deterministic silence: one audio frame per
// fragment, and a Flushed control after each Flush, mirroring how the
// real provider confirms flush completion.
type StreamingTTS struct {
	cfg     TTSConfig
	out     chan frames.Frame
	mu      sync.Mutex
	started bool
	closed  bool

	Fragments []string
	Flushes   int
	Clears    int
}

func NewTTS(cfg TTSConfig) *StreamingTTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.BytesPerFragment == 0 {
		cfg.BytesPerFragment = 160
	}
	return &StreamingTTS{
		cfg: cfg,
		out: make(chan frames.Frame, 64),
	}
}

func (s *StreamingTTS) Name() string { return "mock_tts" }

func (s *StreamingTTS) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *StreamingTTS) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.started = false
	return nil
}

func (s *StreamingTTS) SendText(text string) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("not started")
	}
	s.Fragments = append(s.Fragments, text)
	payload := make([]byte, s.cfg.BytesPerFragment)
	for i := range payload {
		payload[i] = 0xFF // mu-law silence
	}
	meta := map[string]string{
		frames.MetaStreamID: s.cfg.StreamID,
		frames.MetaCallSID:  s.cfg.CallSID,
		frames.MetaSource:   "tts",
	}
	f := frames.NewAudioFrame(s.cfg.StreamID, time.Now().UnixNano(), payload, s.cfg.SampleRate, s.cfg.Channels, meta)
	s.mu.Unlock()
	s.push(f)
	return nil
}

func (s *StreamingTTS) Flush() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("not started")
	}
	s.Flushes++
	s.mu.Unlock()
	meta := map[string]string{
		frames.MetaStreamID: s.cfg.StreamID,
		frames.MetaCallSID:  s.cfg.CallSID,
		frames.MetaSource:   "tts",
	}
	s.push(frames.NewControlFrame(s.cfg.StreamID, time.Now().UnixNano(), frames.ControlFlushed, meta))
	return nil
}

func (s *StreamingTTS) Clear() {
	s.mu.Lock()
	s.Clears++
	s.mu.Unlock()
drainLoop:
	for {
		select {
		case <-s.out:
		default:
			break drainLoop
		}
	}
}

func (s *StreamingTTS) Results() <-chan frames.Frame { return s.out }

func (s *StreamingTTS) push(f frames.Frame) {
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

var _ tts.StreamingTTS = (*StreamingTTS)(nil)
