package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

type TTSConfig struct {
	APIKey     string
	Voice      string
	SampleRate int
	Encoding   string
	StreamID   string
	CallSID    string
	TraceID    string
}

// StreamingTTS speaks text through Deepgram's Aura websocket. Outbound
// messages are JSON Speak/Flush/Clear/Close frames; inbound binary frames
// carry raw audio in the requested encoding, so what comes out goes to the
// carrier without transcoding.
type StreamingTTS struct {
	cfg     TTSConfig
	conn    *websocket.Conn
	out     chan frames.Frame
	writeCh chan speakMessage
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
}

type speakMessage struct {
	kind string // "speak" | "flush" | "clear"
	text string
}

func NewTTS(cfg TTSConfig) *StreamingTTS {
	if cfg.Voice == "" {
		cfg.Voice = "aura-asteria-en"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "mulaw"
	}
	return &StreamingTTS{
		cfg:     cfg,
		out:     make(chan frames.Frame, 256),
		writeCh: make(chan speakMessage, 256),
		log:     logging.NewComponentLogger(slog.Default(), "deepgram_tts"),
	}
}

func (s *StreamingTTS) Name() string { return "deepgram_aura" }

func (s *StreamingTTS) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" {
		return errors.New("missing deepgram api key")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	u := s.buildURL()
	s.log.Debug("connecting to aura",
		slog.String("stream_id", s.cfg.StreamID),
		slog.String("voice", s.cfg.Voice))

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.Dial(u, http.Header{
		"Authorization": []string{"Token " + s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return resilience.RateLimitError{Provider: "deepgram_aura", Message: resp.Status}
		}
		s.log.Error("aura_connect_failed",
			slog.String("stream_id", s.cfg.StreamID),
			slog.String("error", err.Error()))
		return err
	}
	s.conn = conn
	s.log.Info("aura_connected",
		slog.String("stream_id", s.cfg.StreamID),
		slog.String("call_sid", s.cfg.CallSID),
		slog.String("voice", s.cfg.Voice))

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
		_ = s.writeJSONLocked(map[string]any{"type": "Close"})
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return s.conn.Close()
	}
	return nil
}

// SendText queues a fragment; Aura buffers until a Flush arrives.
func (s *StreamingTTS) SendText(text string) error {
	if s.conn == nil {
		return errors.New("not connected")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	select {
	case s.writeCh <- speakMessage{kind: "speak", text: text}:
		return nil
	default:
		return errors.New("tts write buffer full")
	}
}

// Flush commits buffered text; the server answers with a Flushed event
// once the resulting audio has been fully emitted.
func (s *StreamingTTS) Flush() error {
	if s.conn == nil {
		return errors.New("not connected")
	}
	select {
	case s.writeCh <- speakMessage{kind: "flush"}:
		return nil
	default:
		return errors.New("tts write buffer full")
	}
}

// Clear aborts in-flight synthesis and purges audio already queued on the
// output channel so interrupted speech is not replayed.
func (s *StreamingTTS) Clear() {
	select {
	case s.writeCh <- speakMessage{kind: "clear"}:
	default:
	}
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
	q := url.Values{}
	q.Set("model", s.cfg.Voice)
	q.Set("encoding", s.cfg.Encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", s.cfg.SampleRate))
	q.Set("container", "none")
	return "wss://api.deepgram.com/v1/speak?" + q.Encode()
}

func (s *StreamingTTS) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.writeCh:
			var payload map[string]any
			switch msg.kind {
			case "speak":
				payload = map[string]any{"type": "Speak", "text": msg.text}
			case "flush":
				payload = map[string]any{"type": "Flush"}
			case "clear":
				payload = map[string]any{"type": "Clear"}
			default:
				continue
			}
			if err := s.writeJSON(payload); err != nil && s.ctx.Err() == nil {
				s.log.Error("aura_write_error",
					slog.String("stream_id", s.cfg.StreamID),
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *StreamingTTS) readLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			msgType, data, err := s.conn.ReadMessage()
			if err != nil {
				if s.ctx.Err() == nil {
					s.log.Error("aura_read_error",
						slog.String("stream_id", s.cfg.StreamID),
						slog.String("error", err.Error()))
				}
				return
			}
			if msgType == websocket.BinaryMessage {
				s.emitAudio(data)
				continue
			}
			s.handleEvent(data)
		}
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
		frames.MetaEncoding: s.cfg.Encoding,
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

func (s *StreamingTTS) handleEvent(data []byte) {
	var msg struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("aura_unparsed_event", "data", string(data))
		return
	}
	switch msg.Type {
	case "Flushed":
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
	case "Metadata", "Cleared":
		s.log.Debug("aura_event",
			slog.String("stream_id", s.cfg.StreamID),
			slog.String("type", msg.Type))
	case "Warning":
		s.log.Warn("aura_warning",
			slog.String("stream_id", s.cfg.StreamID),
			slog.String("description", msg.Description))
	case "Error":
		s.log.Error("aura_error",
			slog.String("stream_id", s.cfg.StreamID),
			slog.String("description", msg.Description),
			slog.String("message", msg.Message))
	}
}

func (s *StreamingTTS) writeJSON(payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSONLocked(payload)
}

// writeJSONLocked requires s.mu to be held.
func (s *StreamingTTS) writeJSONLocked(payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

var _ tts.StreamingTTS = (*StreamingTTS)(nil)
