package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/voxdesk/voxdesk/pkg/adapters/stt"
	"github.com/voxdesk/voxdesk/pkg/frames"
	"github.com/voxdesk/voxdesk/pkg/logging"
	"github.com/voxdesk/voxdesk/pkg/metrics"
	"github.com/voxdesk/voxdesk/pkg/resilience"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const (
	defaultUtteranceEndMS = 2000
	// Endpointing below ~2.5s truncates natural thinking pauses
	// mid-sentence on phone audio.
	defaultEndpointingMS = 2500
	// Audio chunks buffered while the socket is down; beyond this they
	// are dropped and counted.
	maxBufferedChunks = 50
)

type STTConfig struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Encoding       string
	Channels       int
	Punctuate      *bool
	Interim        bool
	VADEvents      bool
	UtteranceEndMS int
	EndpointingMS  int
	MaxReconnects  int
	StreamID       string
	CallSID        string
	TraceID        string
}

// StreamingSTT streams caller audio to Deepgram's live transcription API
// and emits transcript and voice-activity frames. On a provider-side drop
// it reconnects with exponential backoff, replaying audio buffered while
// disconnected.
type StreamingSTT struct {
	cfg  STTConfig
	out  chan frames.Frame
	log  *slog.Logger
	obs  metrics.Observer
	ctx  context.Context
	stop context.CancelFunc

	mu         sync.Mutex
	dgClient   *client.WSCallback
	pipeWriter *io.PipeWriter
	connected  bool
	closing    bool
	buffered   [][]byte
	reconnects int

	reconnectPolicy resilience.RetryPolicy
	metaLogged      bool
}

func NewSTT(cfg STTConfig, obs metrics.Observer) *StreamingSTT {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "mulaw"
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.UtteranceEndMS == 0 {
		cfg.UtteranceEndMS = defaultUtteranceEndMS
	}
	if cfg.EndpointingMS == 0 {
		cfg.EndpointingMS = defaultEndpointingMS
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 5
	}
	// Punctuation defaults on; the session's endpointing heuristics key
	// off sentence punctuation in the transcripts.
	if cfg.Punctuate == nil {
		on := true
		cfg.Punctuate = &on
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &StreamingSTT{
		cfg:             cfg,
		out:             make(chan frames.Frame, 256),
		log:             logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
		obs:             obs,
		reconnectPolicy: resilience.NewReconnectPolicy(cfg.MaxReconnects, 250*time.Millisecond, 10*time.Second),
	}
}

func (s *StreamingSTT) Name() string { return "deepgram_streaming" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.stop = context.WithCancel(ctx)

	s.log.Info("initializing deepgram connection",
		slog.String("stream_id", s.cfg.StreamID),
		slog.String("call_sid", s.cfg.CallSID),
		slog.String("model", s.cfg.Model),
		slog.Int("utterance_end_ms", s.cfg.UtteranceEndMS),
		slog.Int("endpointing_ms", s.cfg.EndpointingMS))

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

func (s *StreamingSTT) connectLocked() error {
	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		Channels:       s.cfg.Channels,
		Punctuate:      *s.cfg.Punctuate,
		InterimResults: s.cfg.Interim,
		VadEvents:      s.cfg.VADEvents,
		SmartFormat:    true,
		UtteranceEndMs: fmt.Sprintf("%d", s.cfg.UtteranceEndMS),
		Endpointing:    fmt.Sprintf("%d", s.cfg.EndpointingMS),
	}

	pipeReader, pipeWriter := io.Pipe()
	cb := &callback{parent: s}
	dgClient, err := client.NewWSUsingCallback(s.ctx, s.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		pipeWriter.Close()
		return err
	}
	if connected := dgClient.Connect(); !connected {
		pipeWriter.Close()
		return fmt.Errorf("deepgram connection failed")
	}
	s.dgClient = dgClient
	s.pipeWriter = pipeWriter
	s.connected = true

	go func() {
		if err := dgClient.Stream(pipeReader); err != nil && s.ctx.Err() == nil {
			s.log.Error("deepgram_stream_error",
				slog.String("error", err.Error()),
				slog.String("stream_id", s.cfg.StreamID))
		}
	}()

	// Replay audio buffered while disconnected.
	for _, chunk := range s.buffered {
		if _, err := pipeWriter.Write(chunk); err != nil {
			break
		}
	}
	s.buffered = nil
	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	s.closing = true
	writer := s.pipeWriter
	dg := s.dgClient
	s.mu.Unlock()

	if s.stop != nil {
		s.stop()
	}
	if writer != nil {
		_ = writer.Close()
	}
	if dg != nil {
		dg.Stop()
	}
	return nil
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	if !s.connected {
		if len(s.buffered) < maxBufferedChunks {
			s.buffered = append(s.buffered, append([]byte(nil), frame.RawPayload()...))
		} else {
			s.obs.RecordEvent(metrics.MetricsEvent{
				Name: metrics.EventAudioDropped,
				Time: time.Now(),
				Tags: s.tags("stt"),
			})
		}
		s.mu.Unlock()
		return nil
	}
	writer := s.pipeWriter
	s.mu.Unlock()

	if writer == nil {
		return fmt.Errorf("not started")
	}
	_, err := writer.Write(frame.RawPayload())
	return err
}

func (s *StreamingSTT) Results() <-chan frames.Frame { return s.out }

// Reconnects reports how many times the provider socket was re-established.
func (s *StreamingSTT) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// onDisconnected runs when the provider closes the socket or errors while
// the session is still live.
func (s *StreamingSTT) onDisconnected() {
	s.mu.Lock()
	if s.closing || !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	if s.pipeWriter != nil {
		_ = s.pipeWriter.Close()
		s.pipeWriter = nil
	}
	s.mu.Unlock()

	go func() {
		err := s.reconnectPolicy.DoContext(s.ctx, func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closing {
				return nil
			}
			return s.connectLocked()
		})
		if err != nil {
			s.log.Error("deepgram_reconnect_failed",
				slog.String("stream_id", s.cfg.StreamID),
				slog.String("error", err.Error()))
			return
		}
		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()
		s.obs.RecordEvent(metrics.MetricsEvent{
			Name: metrics.EventSTTReconnect,
			Time: time.Now(),
			Tags: s.tags("stt"),
		})
		s.log.Info("deepgram_reconnected",
			slog.String("stream_id", s.cfg.StreamID))
	}()
}

func (s *StreamingSTT) tags(source string) map[string]string {
	tags := map[string]string{
		frames.MetaStreamID: s.cfg.StreamID,
		frames.MetaCallSID:  s.cfg.CallSID,
		frames.MetaSource:   source,
	}
	if s.cfg.TraceID != "" {
		tags[frames.MetaTraceID] = s.cfg.TraceID
	}
	return tags
}

func (s *StreamingSTT) emit(f frames.Frame) {
	select {
	case s.out <- f:
	default:
		s.log.Warn("deepgram_out_channel_full",
			slog.String("stream_id", s.cfg.StreamID))
	}
}

// --- Callback Implementation ---

type callback struct {
	parent *StreamingSTT
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.log.Info("deepgram_connection_opened",
		slog.String("stream_id", c.parent.cfg.StreamID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}

	isFinal := mr.IsFinal || mr.SpeechFinal
	meta := c.parent.tags("stt")
	if isFinal {
		meta[frames.MetaIsFinal] = "true"
	} else {
		meta[frames.MetaIsFinal] = "false"
	}
	c.parent.log.Debug("transcript_received",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("transcript", transcript),
		slog.Bool("is_final", isFinal))

	c.parent.emit(frames.NewTextFrame(c.parent.cfg.StreamID, time.Now().UnixNano(), transcript, meta))
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if !c.parent.metaLogged {
		c.parent.metaLogged = true
		c.parent.log.Info("deepgram_metadata_received",
			slog.String("stream_id", c.parent.cfg.StreamID),
			slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	meta := c.parent.tags("stt")
	meta[frames.MetaReason] = "speech_started"
	c.parent.emit(frames.NewControlFrame(c.parent.cfg.StreamID, time.Now().UnixNano(), frames.ControlSpeechStarted, meta))
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	meta := c.parent.tags("stt")
	meta[frames.MetaReason] = "utterance_end"
	c.parent.log.Info("utterance_end_event",
		slog.String("stream_id", c.parent.cfg.StreamID))
	c.parent.emit(frames.NewControlFrame(c.parent.cfg.StreamID, time.Now().UnixNano(), frames.ControlUtteranceEnd, meta))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.log.Info("deepgram_connection_closed",
		slog.String("stream_id", c.parent.cfg.StreamID))
	c.parent.onDisconnected()
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.log.Error("deepgram_error",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.onDisconnected()
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.log.Debug("deepgram_unhandled_event",
		slog.String("stream_id", c.parent.cfg.StreamID))
	return nil
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
