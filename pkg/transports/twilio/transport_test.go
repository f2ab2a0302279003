package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/voxdesk/voxdesk/pkg/frames"
	"github.com/voxdesk/voxdesk/pkg/tenant"
)

type stubResolver struct {
	snap tenant.Snapshot
}

func (s *stubResolver) Resolve(ctx context.Context, tenantID, dialNumber string) tenant.Snapshot {
	return s.snap
}

func TestSendClearControl(t *testing.T) {
	tr := New(Config{}, nil)
	sess := &wsSession{sendCh: make(chan []byte, 1)}
	tr.mu.Lock()
	tr.sessions["MZ1"] = sess
	tr.mu.Unlock()

	cf := frames.NewControlFrame("MZ1", time.Now().UnixNano(), frames.ControlClear, map[string]string{
		frames.MetaStreamID: "MZ1",
	})
	if err := tr.Send(cf); err != nil {
		t.Fatalf("send error: %v", err)
	}

	select {
	case msg := <-sess.sendCh:
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if evt, _ := payload["event"].(string); evt != "clear" {
			t.Fatalf("expected clear event, got %q", evt)
		}
	default:
		t.Fatalf("expected clear event to be enqueued")
	}
}

func TestSendMark(t *testing.T) {
	tr := New(Config{}, nil)
	sess := &wsSession{sendCh: make(chan []byte, 1)}
	tr.mu.Lock()
	tr.sessions["MZ1"] = sess
	tr.mu.Unlock()

	cf := frames.NewControlFrame("MZ1", time.Now().UnixNano(), frames.ControlMark, map[string]string{
		frames.MetaStreamID: "MZ1",
		frames.MetaMarkName: "farewell",
	})
	if err := tr.Send(cf); err != nil {
		t.Fatalf("send error: %v", err)
	}

	select {
	case msg := <-sess.sendCh:
		var payload struct {
			Event string `json:"event"`
			Mark  struct {
				Name string `json:"name"`
			} `json:"mark"`
		}
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload.Event != "mark" || payload.Mark.Name != "farewell" {
			t.Fatalf("unexpected mark message: %s", msg)
		}
	default:
		t.Fatalf("expected mark event to be enqueued")
	}
}

func TestSessionEnqueueAfterClose(t *testing.T) {
	sess := &wsSession{sendCh: make(chan []byte, 4)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = sess.enqueue(map[string]any{"event": "media", "streamSid": "MZ1"})
		}
	}()
	_ = sess.close()
	<-done

	// A reconnect can race frames destined for the detached socket; they
	// must be dropped, not panic.
	if err := sess.enqueue(map[string]any{"event": "media"}); err != nil {
		t.Fatalf("enqueue after close: %v", err)
	}
	if err := sess.close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
}

func TestHandleIncomingBuildsTwiML(t *testing.T) {
	cfg := Config{AuthToken: "token", PublicURL: "https://example.com"}
	resolver := &stubResolver{snap: tenant.Snapshot{
		ID:       "tenant-1",
		Known:    true,
		Greeting: tenant.Greeting{AudioURL: "https://cdn.example.com/greeting.mp3"},
	}}
	tr := New(cfg, resolver)

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("From", "+61400000001")
	form.Set("To", "+61280000000")
	body := form.Encode()

	req := httptest.NewRequest(http.MethodPost, "https://example.com/stream/incoming/tenant-1", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	params := map[string]string{"CallSid": "CA123", "From": "+61400000001", "To": "+61280000000"}
	req.Header.Set("X-Twilio-Signature", computeSignature(cfg.AuthToken, tr.requestURL(req), params))

	w := httptest.NewRecorder()
	tr.handleIncoming(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	twiml := w.Body.String()
	if !strings.Contains(twiml, "<Play>https://cdn.example.com/greeting.mp3</Play>") {
		t.Fatalf("expected greeting Play verb, got %s", twiml)
	}
	if !strings.Contains(twiml, `name="tenant_id" value="tenant-1"`) {
		t.Fatalf("expected tenant_id parameter, got %s", twiml)
	}
	if !strings.Contains(twiml, `name="caller_phone" value="+61400000001"`) {
		t.Fatalf("expected caller_phone parameter, got %s", twiml)
	}
	if !strings.Contains(twiml, `wss://example.com/stream/ws`) {
		t.Fatalf("expected stream url, got %s", twiml)
	}

	reqInvalid := httptest.NewRequest(http.MethodPost, "https://example.com/stream/incoming/tenant-1", strings.NewReader(body))
	reqInvalid.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	reqInvalid.Header.Set("X-Twilio-Signature", "invalid")
	wInvalid := httptest.NewRecorder()
	tr.handleIncoming(wInvalid, reqInvalid)
	if wInvalid.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", wInvalid.Code)
	}
}

func TestHandleIncomingNoGreetingAudio(t *testing.T) {
	tr := New(Config{PublicURL: "https://example.com"}, &stubResolver{snap: tenant.Generic()})

	req := httptest.NewRequest(http.MethodPost, "https://example.com/stream/incoming/unknown", strings.NewReader("From=%2B1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	tr.handleIncoming(w, req)
	twiml := w.Body.String()
	if strings.Contains(twiml, "<Play>") {
		t.Fatalf("expected no Play verb without audio greeting, got %s", twiml)
	}
	if !strings.Contains(twiml, `value="false"`) {
		t.Fatalf("expected greeting_played false, got %s", twiml)
	}
}

type stubCallUpdater struct {
	lastSID    string
	lastStatus string
	err        error
}

func (s *stubCallUpdater) UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error) {
	s.lastSID = sid
	if params != nil && params.Status != nil {
		s.lastStatus = *params.Status
	}
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Call{}, nil
}

func TestEndCall(t *testing.T) {
	tr := New(Config{AccountSID: "AC123", AuthToken: "token"}, nil)
	stub := &stubCallUpdater{}
	tr.updateClient = stub

	if err := tr.EndCall(context.Background(), "CA123"); err != nil {
		t.Fatalf("EndCall error: %v", err)
	}
	if stub.lastSID != "CA123" || stub.lastStatus != "completed" {
		t.Fatalf("unexpected update: sid=%q status=%q", stub.lastSID, stub.lastStatus)
	}

	stub.err = errors.New("boom")
	if err := tr.EndCall(context.Background(), "CA123"); err == nil {
		t.Fatalf("expected error on update failure")
	}
}

func TestHandleStatusReportsActiveCalls(t *testing.T) {
	tr := New(Config{}, nil)
	tr.mu.Lock()
	tr.sessions["MZ1"] = &wsSession{sendCh: make(chan []byte, 1)}
	tr.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "http://localhost/stream/status", nil)
	w := httptest.NewRecorder()
	tr.handleStatus(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var payload struct {
		ActiveCalls int `json:"active_calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.ActiveCalls != 1 {
		t.Fatalf("expected 1 active call, got %d", payload.ActiveCalls)
	}
}

func TestHandleStatusCallbackMapping(t *testing.T) {
	cfg := Config{AuthToken: "token", PublicURL: "https://example.com"}
	tr := New(cfg, nil)
	streamID := "MZ1"
	callSID := "CA123"

	tr.mu.Lock()
	tr.callStreams[callSID] = streamID
	tr.callSIDs[streamID] = callSID
	tr.mu.Unlock()

	form := url.Values{}
	form.Set("CallSid", callSID)
	form.Set("CallStatus", "completed")
	body := form.Encode()

	req := httptest.NewRequest(http.MethodPost, "https://example.com/stream/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	params := map[string]string{"CallSid": callSID, "CallStatus": "completed"}
	req.Header.Set("X-Twilio-Signature", computeSignature(cfg.AuthToken, tr.requestURL(req), params))

	w := httptest.NewRecorder()
	tr.handleStatusCallback(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	select {
	case frame := <-tr.Recv():
		sys, ok := frame.(frames.SystemFrame)
		if !ok {
			t.Fatalf("expected SystemFrame, got %T", frame)
		}
		if sys.Name() != frames.SystemCallEnd {
			t.Fatalf("expected call_end event, got %q", sys.Name())
		}
		meta := sys.Meta()
		if meta[frames.MetaCallEndReason] != "completed" {
			t.Fatalf("expected call_end_reason completed, got %q", meta[frames.MetaCallEndReason])
		}
		if meta[frames.MetaCallSID] != callSID {
			t.Fatalf("expected call_sid %q, got %q", callSID, meta[frames.MetaCallSID])
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("expected call_end frame")
	}
}

func computeSignature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	base := url
	for _, k := range keys {
		base += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
