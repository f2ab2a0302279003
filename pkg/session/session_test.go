package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxdesk/voxdesk/pkg/engine"
	"github.com/voxdesk/voxdesk/pkg/frames"
	"github.com/voxdesk/voxdesk/pkg/providers/mock"
	"github.com/voxdesk/voxdesk/pkg/tenant"
	"github.com/voxdesk/voxdesk/pkg/tools"
	transportmock "github.com/voxdesk/voxdesk/pkg/transports/mock"
	"github.com/voxdesk/voxdesk/pkg/turn"
)

type recordingSMS struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSMS) Send(ctx context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to+": "+body)
	return nil
}

func (r *recordingSMS) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type fixture struct {
	sess    *Session
	tr      *transportmock.Transport
	sttMock *mock.StreamingSTT
	ttsMock *mock.StreamingTTS
	adapter *mock.LLMAdapter
	store   *tenant.MemoryStore
	sms     *recordingSMS
	cancel  context.CancelFunc
	runDone chan struct{}
}

func newFixture(t *testing.T, cfg Config, rounds []mock.LLMRound) *fixture {
	t.Helper()
	tr := transportmock.New()
	sttMock := mock.NewSTT(mock.STTConfig{StreamID: "MZ1", CallSID: "CA1"})
	ttsMock := mock.NewTTS(mock.TTSConfig{StreamID: "MZ1", CallSID: "CA1"})
	adapter := mock.NewLLMAdapter(mock.LLMConfig{Rounds: rounds})
	store := tenant.NewMemoryStore()
	sms := &recordingSMS{}

	snap := tenant.Generic()
	snap.ID = "tenant-1"
	snap.Name = "Happy Cuts"
	snap.Known = true
	snap.Greeting.Text = ""

	eng := engine.New(adapter, tools.NewRouter(store, nil, nil), nil, nil)
	sess := New(cfg, Info{
		StreamID:       "MZ1",
		CallSID:        "CA1",
		TraceID:        "trace-1",
		CallerPhone:    "+61400000001",
		GreetingPlayed: true,
	}, Deps{
		Transport: tr,
		Ender:     tr,
		STT:       sttMock,
		TTS:       ttsMock,
		Engine:    eng,
		Snapshot:  snap,
		Store:     store,
		SMS:       sms,
	})

	ctx, cancel := context.WithCancel(context.Background())
	_ = tr.Start(ctx)
	// Carrier frames reach the session the same way the registry routes
	// them in production.
	go func() {
		for f := range tr.Recv() {
			sess.Deliver(f)
		}
	}()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = sess.Run(ctx)
	}()
	t.Cleanup(cancel)
	return &fixture{
		sess: sess, tr: tr, sttMock: sttMock, ttsMock: ttsMock,
		adapter: adapter, store: store, sms: sms, cancel: cancel, runDone: runDone,
	}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func TestDebounceFoldsQuickUtterances(t *testing.T) {
	fx := newFixture(t, Config{DebounceWindow: 150 * time.Millisecond}, []mock.LLMRound{
		{Tokens: []string{"Sure."}, FinishReason: "stop"},
	})

	fx.sttMock.EmitTranscript("what are your hours", true)
	fx.sttMock.EmitUtteranceEnd()
	time.Sleep(50 * time.Millisecond)
	fx.sttMock.EmitTranscript("on monday", true)
	fx.sttMock.EmitUtteranceEnd()

	waitFor(t, 2*time.Second, func() bool { return fx.adapter.Calls() == 1 }, "one engine run")
	time.Sleep(300 * time.Millisecond)
	if fx.adapter.Calls() != 1 {
		t.Fatalf("expected a single engine run, got %d", fx.adapter.Calls())
	}
	user := fx.adapter.Inputs[0].Messages[1]
	if user["content"] != "what are your hours on monday" {
		t.Fatalf("expected folded utterance, got %v", user["content"])
	}
}

func TestDebounceSeparateUtterances(t *testing.T) {
	fx := newFixture(t, Config{DebounceWindow: 80 * time.Millisecond}, []mock.LLMRound{
		{Tokens: []string{"Sure."}, FinishReason: "stop"},
	})

	fx.sttMock.EmitTranscript("what are your hours", true)
	fx.sttMock.EmitUtteranceEnd()
	waitFor(t, 2*time.Second, func() bool { return fx.adapter.Calls() == 1 }, "first engine run")
	waitFor(t, 2*time.Second, func() bool { return fx.sess.State() == turn.StateIdle }, "back to idle")

	fx.sttMock.EmitTranscript("and on sunday", true)
	fx.sttMock.EmitUtteranceEnd()
	waitFor(t, 2*time.Second, func() bool { return fx.adapter.Calls() == 2 }, "second engine run")
}

func TestUtteranceDuringTurnWaitsItsTurn(t *testing.T) {
	fx := newFixture(t, Config{DebounceWindow: 50 * time.Millisecond}, []mock.LLMRound{
		{Tokens: []string{"One moment."}, FinishReason: "stop", Delay: 400 * time.Millisecond},
		{Tokens: []string{"Sure, walk-ins are fine."}, FinishReason: "stop"},
	})

	fx.sttMock.EmitTranscript("what are your hours", true)
	fx.sttMock.EmitUtteranceEnd()
	waitFor(t, 2*time.Second, func() bool { return fx.adapter.Calls() == 1 }, "first engine run")

	// Lands while the first generation is still in flight.
	fx.sttMock.EmitTranscript("and do you take walk-ins", true)
	fx.sttMock.EmitUtteranceEnd()

	waitFor(t, 3*time.Second, func() bool { return fx.adapter.Calls() == 2 }, "queued utterance ran")
	msgs := fx.adapter.Inputs[1].Messages
	last := msgs[len(msgs)-1]
	if last["role"] != "user" || last["content"] != "and do you take walk-ins" {
		t.Fatalf("expected queued utterance in second run, got %v", last)
	}
}

func partial(text string) frames.TextFrame {
	return frames.NewTextFrame("MZ1", time.Now().UnixNano(), text, map[string]string{
		frames.MetaIsFinal: "false",
	})
}

func TestBargeInThresholdBoundary(t *testing.T) {
	fx := newFixture(t, Config{}, nil)
	mustState(t, fx.sess, turn.StateUserSpeaking, turn.StateThinking, turn.StateAISpeaking)

	fx.sess.onSTTFrame(context.Background(), partial("hello"))
	if fx.sess.State() != turn.StateAISpeaking {
		t.Fatalf("five characters must not interrupt, state %s", fx.sess.State())
	}
	if fx.tr.ClearCount() != 0 {
		t.Fatalf("expected no clear, got %d", fx.tr.ClearCount())
	}

	fx.sess.onSTTFrame(context.Background(), partial("hellos"))
	if fx.sess.State() != turn.StateUserSpeaking {
		t.Fatalf("six characters must interrupt, state %s", fx.sess.State())
	}
	if fx.tr.ClearCount() != 1 {
		t.Fatalf("expected one clear, got %d", fx.tr.ClearCount())
	}
	if fx.ttsMock.Clears != 1 {
		t.Fatalf("expected tts clear, got %d", fx.ttsMock.Clears)
	}
}

func TestBargeInSendsSingleClear(t *testing.T) {
	fx := newFixture(t, Config{}, nil)
	mustState(t, fx.sess, turn.StateUserSpeaking, turn.StateThinking, turn.StateAISpeaking)

	fx.sess.onSTTFrame(context.Background(), partial("hang on a second"))
	fx.sess.onSTTFrame(context.Background(), partial("hang on a second please"))
	if fx.tr.ClearCount() != 1 {
		t.Fatalf("repeated partials must not re-clear, got %d", fx.tr.ClearCount())
	}
}

func TestPunctuationIgnoredByThreshold(t *testing.T) {
	fx := newFixture(t, Config{}, nil)
	mustState(t, fx.sess, turn.StateUserSpeaking, turn.StateThinking, turn.StateAISpeaking)

	fx.sess.onSTTFrame(context.Background(), partial("uh... h-m."))
	if fx.sess.State() != turn.StateAISpeaking {
		t.Fatalf("punctuation must not count toward the threshold, state %s", fx.sess.State())
	}
}

func TestFarewellEndsCall(t *testing.T) {
	fx := newFixture(t, Config{DebounceWindow: 50 * time.Millisecond}, nil)

	fx.sttMock.EmitTranscript("bye", true)
	fx.sttMock.EmitUtteranceEnd()

	waitFor(t, 2*time.Second, func() bool {
		return len(fx.ttsMock.Fragments) > 0 && fx.ttsMock.Fragments[0] == farewellLine
	}, "farewell spoken")
	waitFor(t, 2*time.Second, func() bool {
		for _, f := range fx.tr.Sent() {
			if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == frames.ControlMark {
				return cf.Meta()[frames.MetaMarkName] == farewellMark
			}
		}
		return false
	}, "farewell mark sent")
	if fx.adapter.Calls() != 0 {
		t.Fatalf("farewell must skip the model, got %d calls", fx.adapter.Calls())
	}

	fx.tr.Push(frames.NewControlFrame("MZ1", time.Now().UnixNano(), frames.ControlMark, map[string]string{
		frames.MetaStreamID: "MZ1",
		frames.MetaMarkName: farewellMark,
	}))
	waitFor(t, 2*time.Second, func() bool { return len(fx.tr.EndedCalls()) == 1 }, "call ended")

	select {
	case <-fx.runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("session loop did not exit")
	}
}

func TestThanksAloneDoesNotEndCall(t *testing.T) {
	fx := newFixture(t, Config{DebounceWindow: 50 * time.Millisecond}, []mock.LLMRound{
		{Tokens: []string{"You're welcome!"}, FinishReason: "stop"},
	})

	fx.sttMock.EmitTranscript("thanks", true)
	fx.sttMock.EmitUtteranceEnd()

	waitFor(t, 2*time.Second, func() bool { return fx.adapter.Calls() == 1 }, "model answered")
	if len(fx.tr.EndedCalls()) != 0 {
		t.Fatalf("thanks alone must not end the call")
	}
}

func TestEndFailSafeHangsUp(t *testing.T) {
	fx := newFixture(t, Config{
		DebounceWindow: 50 * time.Millisecond,
		EndFailSafe:    120 * time.Millisecond,
	}, nil)

	fx.sttMock.EmitTranscript("goodbye", true)
	fx.sttMock.EmitUtteranceEnd()

	// No mark echo arrives; the fail-safe must hang up on its own.
	waitFor(t, 2*time.Second, func() bool { return len(fx.tr.EndedCalls()) == 1 }, "fail-safe hangup")
}

func TestIdleGuardEndsCall(t *testing.T) {
	fx := newFixture(t, Config{
		IdleTimeout: 100 * time.Millisecond,
		EndFailSafe: 120 * time.Millisecond,
	}, nil)

	waitFor(t, 2*time.Second, func() bool {
		return len(fx.ttsMock.Fragments) > 0 && fx.ttsMock.Fragments[0] == idleLine
	}, "idle line spoken")
	waitFor(t, 2*time.Second, func() bool { return len(fx.tr.EndedCalls()) == 1 }, "idle hangup")
}

func TestBookingIntentWritesSinks(t *testing.T) {
	fx := newFixture(t, Config{DebounceWindow: 50 * time.Millisecond}, []mock.LLMRound{
		{Tokens: []string{"Happy to help with a booking."}, FinishReason: "stop"},
	})

	fx.sttMock.EmitTranscript("i want to book a haircut tomorrow", true)
	fx.sttMock.EmitUtteranceEnd()
	waitFor(t, 2*time.Second, func() bool { return fx.adapter.Calls() == 1 }, "turn ran")

	fx.tr.Push(frames.NewSystemFrame("MZ1", time.Now().UnixNano(), frames.SystemCallEnd, map[string]string{
		frames.MetaStreamID:      "MZ1",
		frames.MetaCallEndReason: "completed",
	}))
	select {
	case <-fx.runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("session loop did not exit")
	}

	if len(fx.store.Bookings) != 1 {
		t.Fatalf("expected one booking, got %d", len(fx.store.Bookings))
	}
	b := fx.store.Bookings[0]
	if b.TenantID != "tenant-1" || b.Status != "requested" || b.CustomerPhone != "+61400000001" {
		t.Fatalf("unexpected booking: %+v", b)
	}
	if !strings.Contains(b.Notes, "book a haircut") {
		t.Fatalf("expected transcript note, got %q", b.Notes)
	}
	if fx.sms.Count() != 1 {
		t.Fatalf("expected one sms, got %d", fx.sms.Count())
	}
	if len(fx.store.Calls) != 1 || fx.store.Calls[0].Outcome != "booking:completed" {
		t.Fatalf("unexpected call record: %+v", fx.store.Calls)
	}
}

func TestCallRecordWrittenWithoutBooking(t *testing.T) {
	fx := newFixture(t, Config{DebounceWindow: 50 * time.Millisecond}, nil)

	fx.tr.Push(frames.NewSystemFrame("MZ1", time.Now().UnixNano(), frames.SystemCallEnd, map[string]string{
		frames.MetaStreamID:      "MZ1",
		frames.MetaCallEndReason: "completed",
	}))
	select {
	case <-fx.runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("session loop did not exit")
	}
	if len(fx.store.Bookings) != 0 {
		t.Fatalf("no booking expected, got %d", len(fx.store.Bookings))
	}
	if len(fx.store.Calls) != 1 || fx.store.Calls[0].Outcome != "completed" {
		t.Fatalf("unexpected call record: %+v", fx.store.Calls)
	}
}

func mustState(t *testing.T, s *Session, states ...turn.State) {
	t.Helper()
	for _, st := range states {
		if err := s.fsm.Transition(st, "test setup"); err != nil {
			t.Fatalf("transition to %s: %v", st, err)
		}
	}
}
