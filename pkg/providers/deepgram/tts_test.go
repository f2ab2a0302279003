package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoServer accepts one websocket upgrade and reads until the peer goes
// away, standing in for the Aura endpoint.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func connectedTTS(t *testing.T, srv *httptest.Server) *StreamingTTS {
	t.Helper()
	s := NewTTS(TTSConfig{APIKey: "key", StreamID: "MZ1"})
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s.conn = conn
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func TestCloseReturnsWithLiveConnection(t *testing.T) {
	s := connectedTTS(t, echoServer(t))

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return")
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	s := NewTTS(TTSConfig{APIKey: "key"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close on unconnected client: %v", err)
	}
}

func TestTTSConfigDefaults(t *testing.T) {
	s := NewTTS(TTSConfig{})
	if s.cfg.Voice != "aura-asteria-en" {
		t.Fatalf("voice = %q", s.cfg.Voice)
	}
	if s.cfg.SampleRate != 8000 || s.cfg.Encoding != "mulaw" {
		t.Fatalf("audio defaults = %d/%s", s.cfg.SampleRate, s.cfg.Encoding)
	}
}
