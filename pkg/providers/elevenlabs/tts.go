package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxdesk/voxdesk/pkg/adapters/tts"
	"github.com/voxdesk/voxdesk/pkg/frames"
	"github.com/voxdesk/voxdesk/pkg/logging"
	"github.com/voxdesk/voxdesk/pkg/resilience"
)

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	SampleRate   int
	StreamID     string
	CallSID      string
	TraceID      string
}

// StreamingTTS speaks text through the ElevenLabs stream-input websocket.
// It is the alternate voice vendor for tenants whose snapshot selects it;
// with output_format ulaw_8000 the audio goes to the carrier without
// transcoding.
type StreamingTTS struct {
	cfg     Config
	conn    *websocket.Conn
	out     chan frames.Frame
	writeCh chan ttsMessage
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
}

type ttsMessage struct {
	text  string
	flush bool
}

func New(cfg Config) *StreamingTTS {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "ulaw_8000"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	return &StreamingTTS{
		cfg:     cfg,
		out:     make(chan frames.Frame, 256),
		writeCh: make(chan ttsMessage, 256),
		log:     logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *StreamingTTS) Name() string { return "elevenlabs_tts" }

func (s *StreamingTTS) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return errors.New("missing elevenlabs config")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	u := s.buildURL()
	s.log.Debug("connecting to elevenlabs",
		slog.String("stream_id", s.cfg.StreamID),
		slog.String("output_format", s.cfg.OutputFormat))

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.Dial(u, http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		s.log.Error("elevenlabs_connect_failed",
			slog.String("stream_id", s.cfg.StreamID),
			slog.String("error", err.Error()))
		return err
	}
	s.conn = conn
	s.log.Info("elevenlabs_connected",
		slog.String("stream_id", s.cfg.StreamID),
		slog.String("call_sid", s.cfg.CallSID),
		slog.String("voice_id", s.cfg.VoiceID))

	_ = s.writeJSON(map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	})
	go s.readLoop()
	go s.writeLoop()
	return nil
}

func (s *StreamingTTS) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return s.conn.Close()
	}
	return nil
}

// SendText queues a fragment; the service buffers until a flush arrives.
func (s *StreamingTTS) SendText(text string) error {
	if s.conn == nil {
		return errors.New("not connected")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	// Trailing space marks a word boundary for the stream-input protocol.
	select {
	case s.writeCh <- ttsMessage{text: text + " "}:
		return nil
	default:
		return errors.New("tts write buffer full")
	}
}

// Flush forces generation of buffered text. The server answers with an
// isFinal event once the resulting audio has been fully emitted.
func (s *StreamingTTS) Flush() error {
	if s.conn == nil {
		return errors.New("not connected")
	}
	select {
	case s.writeCh <- ttsMessage{flush: true}:
		return nil
	default:
		return errors.New("tts write buffer full")
	}
}

// Clear purges audio already queued on the output channel so interrupted
// speech is not replayed. The stream-input protocol has no server-side
// clear, so in-flight synthesis is dropped as it arrives after this point
// by the session discarding stale frames.
func (s *StreamingTTS) Clear() {
drainLoop:
	for {
		select {
		case <-s.out:
		default:
			break drainLoop
		}
	}
	s.log.Info("tts_cleared",
		slog.String("stream_id", s.cfg.StreamID))
}

func (s *StreamingTTS) Results() <-chan frames.Frame { return s.out }

func (s *StreamingTTS) buildURL() string {
	base := "wss://api.elevenlabs.io/v1/text-to-speech/" + s.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	return base + "?" + q.Encode()
}

func (s *StreamingTTS) writeLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.writeCh:
			payload := map[string]any{"text": msg.text}
			if msg.flush {
				payload["text"] = " "
				payload["flush"] = true
			}
			if err := s.writeJSON(payload); err != nil && s.ctx.Err() == nil {
				s.log.Error("elevenlabs_write_error",
					slog.String("stream_id", s.cfg.StreamID),
					slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			// Keep-alive: empty text prevents the 20s idle timeout.
			_ = s.writeJSON(map[string]any{"text": " "})
		}
	}
}

func (s *StreamingTTS) readLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				if s.ctx.Err() == nil {
					s.log.Error("elevenlabs_read_error",
						slog.String("stream_id", s.cfg.StreamID),
						slog.String("error", err.Error()))
				}
				return
			}
			s.handleMessage(data)
		}
	}
}

func (s *StreamingTTS) handleMessage(data []byte) {
	var msg struct {
		Audio   string `json:"audio"`
		IsFinal *bool  `json:"isFinal"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("elevenlabs_unparsed_event", "data", string(data))
		return
	}
	if msg.Error != "" {
		s.log.Error("elevenlabs_error",
			slog.String("stream_id", s.cfg.StreamID),
			slog.String("error", msg.Error))
		return
	}
	if msg.Audio != "" {
		raw, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			s.log.Error("elevenlabs_audio_decode_error", "error", err)
			return
		}
		s.emitAudio(raw)
	}
	if msg.IsFinal != nil && *msg.IsFinal {
		s.emitFlushed()
	}
}

func (s *StreamingTTS) emitAudio(raw []byte) {
	if len(raw) == 0 {
		return
	}
	meta := map[string]string{
		frames.MetaStreamID: s.cfg.StreamID,
		frames.MetaCallSID:  s.cfg.CallSID,
		frames.MetaSource:   "tts",
	}
	if strings.Contains(s.cfg.OutputFormat, "ulaw") {
		meta[frames.MetaEncoding] = "mulaw"
	}
	if s.cfg.TraceID != "" {
		meta[frames.MetaTraceID] = s.cfg.TraceID
	}
	f := frames.NewAudioFrameFromPool(s.cfg.StreamID, time.Now().UnixNano(), raw, s.cfg.SampleRate, 1, meta)
	select {
	case s.out <- f:
	default:
		frames.ReleaseAudioFrame(f)
		s.log.Warn("tts_output_buffer_full",
			slog.String("stream_id", s.cfg.StreamID))
	}
}

func (s *StreamingTTS) emitFlushed() {
	meta := map[string]string{
		frames.MetaStreamID: s.cfg.StreamID,
		frames.MetaCallSID:  s.cfg.CallSID,
		frames.MetaSource:   "tts",
	}
	f := frames.NewControlFrame(s.cfg.StreamID, time.Now().UnixNano(), frames.ControlFlushed, meta)
	select {
	case s.out <- f:
	default:
	}
}

func (s *StreamingTTS) writeJSON(payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

var _ tts.StreamingTTS = (*StreamingTTS)(nil)
