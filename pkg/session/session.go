package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxdesk/voxdesk/pkg/adapters/stt"
	"github.com/voxdesk/voxdesk/pkg/adapters/tts"
	"github.com/voxdesk/voxdesk/pkg/engine"
	"github.com/voxdesk/voxdesk/pkg/frames"
	"github.com/voxdesk/voxdesk/pkg/logging"
	"github.com/voxdesk/voxdesk/pkg/metrics"
	"github.com/voxdesk/voxdesk/pkg/redact"
	"github.com/voxdesk/voxdesk/pkg/tenant"
	"github.com/voxdesk/voxdesk/pkg/tools"
	"github.com/voxdesk/voxdesk/pkg/transports"
	"github.com/voxdesk/voxdesk/pkg/turn"
)

type Config struct {
	// DebounceWindow delays the engine run after an utterance end so a
	// quick follow-up is folded into the same turn.
	DebounceWindow time.Duration
	// BargeInThreshold is the cleaned partial-transcript length that must
	// be exceeded before assistant speech is interrupted.
	BargeInThreshold int
	// IdleTimeout ends calls with no caller activity.
	IdleTimeout time.Duration
	// EndFailSafe hangs up if the farewell playback confirmation never
	// arrives.
	EndFailSafe time.Duration
	MaxTokens   int
	Temperature float64
}

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 500 * time.Millisecond
	}
	if c.BargeInThreshold <= 0 {
		c.BargeInThreshold = 5
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.EndFailSafe <= 0 {
		c.EndFailSafe = 8 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 150
	}
	return c
}

// SMSSender delivers booking confirmation texts.
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

type Deps struct {
	Transport transports.Transport
	Ender     transports.CallEnder
	STT       stt.StreamingSTT
	TTS       tts.StreamingTTS
	Engine    *engine.Engine
	Snapshot  tenant.Snapshot
	Store     tenant.Store
	SMS       SMSSender
	Obs       metrics.Observer
	Log       *slog.Logger
}

const farewellMark = "farewell"

// Session orchestrates one call: carrier frames in, provider streams on
// the sides, turn-taking in the middle. All state is owned by the Run
// loop; generation runs in a per-turn goroutine that is canceled on
// barge-in.
type Session struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	obs  metrics.Observer

	streamID       string
	callSID        string
	traceID        string
	callerPhone    string
	greetingPlayed bool

	fsm     *turn.Machine
	history *History
	prompt  string
	inbox   chan frames.Frame
	done    chan struct{}

	mu            sync.Mutex
	pending       []string
	turnActive    bool
	turnCancel    context.CancelFunc
	interrupted   bool
	endingPending bool
	endReason     string
	ended         bool
	bookingIntent bool
	summary       CallMetrics

	debounce *time.Timer
	idle     *time.Timer
	failSafe *time.Timer
}

// Info describes the call identity parsed from the start event.
type Info struct {
	StreamID       string
	CallSID        string
	TraceID        string
	CallerPhone    string
	GreetingPlayed bool
}

func New(cfg Config, info Info, deps Deps) *Session {
	cfg = cfg.withDefaults()
	if deps.Obs == nil {
		deps.Obs = metrics.NoopObserver{}
	}
	base := deps.Log
	if base == nil {
		base = slog.Default()
	}
	return &Session{
		cfg:            cfg,
		deps:           deps,
		log:            logging.NewCallLogger(base, info.CallSID, info.StreamID, info.TraceID),
		obs:            deps.Obs,
		streamID:       info.StreamID,
		callSID:        info.CallSID,
		traceID:        info.TraceID,
		callerPhone:    info.CallerPhone,
		greetingPlayed: info.GreetingPlayed,
		fsm:            turn.NewMachine(),
		history:        NewHistory(),
		prompt:         buildSystemPrompt(deps.Snapshot),
		inbox:          make(chan frames.Frame, 512),
		done:           make(chan struct{}),
	}
}

// Deliver hands a carrier frame to the session. Never blocks; a full
// inbox drops the frame rather than stalling the shared transport loop.
func (s *Session) Deliver(f frames.Frame) {
	select {
	case s.inbox <- f:
	default:
	}
}

// State exposes the turn state for status reporting and tests.
func (s *Session) State() turn.State { return s.fsm.State() }

// Summary returns the call metrics collected so far.
func (s *Session) Summary() CallMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Run drives the call until the carrier stops the stream, the caller says
// goodbye, or the idle guard fires.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.summary.StartedAt = time.Now()
	s.mu.Unlock()
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventCallStarted,
		Time: time.Now(),
		Tags: map[string]string{"stream_id": s.streamID, "tenant_id": s.deps.Snapshot.ID},
	})

	if err := s.deps.STT.Start(ctx); err != nil {
		s.log.Error("stt_start_failed", slog.String("error", err.Error()))
		return err
	}
	if err := s.deps.TTS.Start(ctx); err != nil {
		s.log.Error("tts_start_failed", slog.String("error", err.Error()))
		_ = s.deps.STT.Close()
		return err
	}

	s.openCallRecord(ctx)

	s.debounce = newStoppedTimer()
	s.idle = time.NewTimer(s.cfg.IdleTimeout)
	s.failSafe = newStoppedTimer()

	if !s.greetingPlayed {
		s.speakGreeting()
	}

	defer s.finalize(ctx)
	for {
		select {
		case <-ctx.Done():
			s.setEndReason("shutdown")
			return nil
		case <-s.done:
			return nil
		case f, ok := <-s.inbox:
			if !ok {
				return nil
			}
			if stop := s.onCarrierFrame(ctx, f); stop {
				return nil
			}
		case f, ok := <-s.deps.STT.Results():
			if !ok {
				continue
			}
			s.onSTTFrame(ctx, f)
		case f, ok := <-s.deps.TTS.Results():
			if !ok {
				continue
			}
			s.onTTSFrame(f)
		case <-s.debounce.C:
			s.onDebounce(ctx)
		case <-s.idle.C:
			s.beginEnding(ctx, "idle_timeout")
		case <-s.failSafe.C:
			s.log.Warn("call_end_failsafe_fired")
			s.hangup(ctx)
		}
	}
}

func (s *Session) onCarrierFrame(ctx context.Context, f frames.Frame) (stop bool) {
	switch fr := f.(type) {
	case frames.AudioFrame:
		s.resetIdle()
		if err := s.deps.STT.SendAudio(fr); err != nil {
			s.log.Warn("stt_send_failed", slog.String("error", err.Error()))
		}
	case frames.ControlFrame:
		switch fr.Code() {
		case frames.ControlMark:
			if fr.Meta()[frames.MetaMarkName] == farewellMark {
				s.hangup(ctx)
				return true
			}
		case frames.ControlDTMF:
			s.log.Info("dtmf_received", slog.String("digit", fr.Meta()[frames.MetaDTMFDigit]))
		}
	case frames.SystemFrame:
		if fr.Name() == frames.SystemCallEnd {
			s.setEndReason(fr.Meta()[frames.MetaCallEndReason])
			return true
		}
	}
	return false
}

func (s *Session) onSTTFrame(ctx context.Context, f frames.Frame) {
	switch fr := f.(type) {
	case frames.TextFrame:
		s.resetIdle()
		text := fr.Text()
		cleaned := cleanTranscript(text)
		if cleaned == "" {
			return
		}
		s.cancelEndingOnSpeech()
		if fr.Meta()[frames.MetaIsFinal] == "true" {
			s.mu.Lock()
			s.pending = append(s.pending, strings.TrimSpace(text))
			s.mu.Unlock()
			s.obs.RecordEvent(metrics.MetricsEvent{
				Name: metrics.EventSTTFinal,
				Time: time.Now(),
				Tags: map[string]string{"stream_id": s.streamID, "trace_id": s.traceID},
			})
			if s.fsm.State() == turn.StateIdle {
				_ = s.fsm.Transition(turn.StateUserSpeaking, "final transcript")
			}
			return
		}
		switch s.fsm.State() {
		case turn.StateIdle:
			_ = s.fsm.Transition(turn.StateUserSpeaking, "caller speech")
		case turn.StateAISpeaking, turn.StateThinking:
			if len([]rune(cleaned)) > s.cfg.BargeInThreshold {
				s.bargeIn()
			}
		}
	case frames.ControlFrame:
		switch fr.Code() {
		case frames.ControlSpeechStarted:
			s.resetIdle()
		case frames.ControlUtteranceEnd:
			s.armDebounce()
		}
	}
}

func (s *Session) onTTSFrame(f frames.Frame) {
	switch fr := f.(type) {
	case frames.AudioFrame:
		s.mu.Lock()
		ending := s.endingPending
		s.mu.Unlock()
		state := s.fsm.State()
		if !ending {
			switch state {
			case turn.StateUserSpeaking:
				// Synthesis that raced a barge-in. The carrier buffer was
				// cleared already; dropping keeps it from replaying.
				frames.ReleaseAudioFrame(fr)
				return
			case turn.StateThinking:
				_ = s.fsm.Transition(turn.StateAISpeaking, "first tts audio")
				s.obs.RecordEvent(metrics.MetricsEvent{
					Name: metrics.EventTTSFirstAudio,
					Time: time.Now(),
					Tags: map[string]string{"stream_id": s.streamID},
				})
			case turn.StateIdle:
				_ = s.fsm.Transition(turn.StateAISpeaking, "canned speech")
			}
		}
		out := frames.NewAudioFrame(s.streamID, fr.PTS(), fr.RawPayload(), 8000, 1, s.frameMeta())
		if err := s.deps.Transport.Send(out); err != nil {
			s.log.Warn("audio_send_failed", slog.String("error", err.Error()))
		}
	case frames.ControlFrame:
		if fr.Code() != frames.ControlFlushed {
			return
		}
		s.mu.Lock()
		ending := s.endingPending
		s.mu.Unlock()
		if ending {
			meta := s.frameMeta()
			meta[frames.MetaMarkName] = farewellMark
			_ = s.deps.Transport.Send(frames.NewControlFrame(s.streamID, time.Now().UnixNano(), frames.ControlMark, meta))
			return
		}
		if s.fsm.State() == turn.StateAISpeaking {
			_ = s.fsm.Transition(turn.StateIdle, "tts flushed")
		}
	}
}

// onDebounce commits the buffered utterance and starts a turn. While a
// turn is already in flight the buffer is kept and the timer re-armed, so
// speech that lands mid-generation waits in line instead of being lost.
func (s *Session) onDebounce(ctx context.Context) {
	s.mu.Lock()
	if s.endingPending || s.ended {
		s.mu.Unlock()
		return
	}
	if s.turnActive {
		s.mu.Unlock()
		s.armDebounce()
		return
	}
	hasPending := len(s.pending) > 0
	s.mu.Unlock()
	if !hasPending {
		return
	}
	if s.fsm.State() == turn.StateAISpeaking {
		// The previous answer is still flushing; retry once idle.
		s.armDebounce()
		return
	}

	s.mu.Lock()
	utterance := strings.TrimSpace(strings.Join(s.pending, " "))
	s.pending = nil
	s.mu.Unlock()
	if utterance == "" {
		return
	}

	s.history.CommitUser(utterance)
	s.log.Debug("utterance_committed", slog.String("text", redact.Text(utterance)))
	if hasBookingIntent(utterance) {
		s.mu.Lock()
		s.bookingIntent = true
		s.mu.Unlock()
	}
	if isFarewell(utterance) {
		s.beginEnding(ctx, "caller_farewell")
		return
	}

	if err := s.fsm.Transition(turn.StateThinking, "utterance debounced"); err != nil {
		return
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.turnActive = true
	s.turnCancel = cancel
	s.interrupted = false
	s.mu.Unlock()
	go s.runTurn(turnCtx)
}

func (s *Session) runTurn(ctx context.Context) {
	in := engine.Input{
		StreamID:    s.streamID,
		Messages:    s.history.Messages(s.prompt),
		Snapshot:    s.deps.Snapshot,
		Cache:       tools.NewTurnCache(),
		CallerPhone: s.callerPhone,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}
	out, err := s.deps.Engine.RunTurn(ctx, in, s.deps.TTS)

	s.mu.Lock()
	s.turnActive = false
	s.turnCancel = nil
	interrupted := out.Interrupted || s.interrupted
	s.summary.Turns++
	s.summary.ToolCalls += out.ToolCalls
	if out.UsedFallback {
		s.summary.Fallbacks++
	}
	s.mu.Unlock()

	s.history.CommitAssistant(out.Text, interrupted, out.ToolCalls, out.Messages)
	if err != nil && !interrupted {
		s.log.Error("turn_failed", slog.String("error", err.Error()))
	}
}

// bargeIn stops assistant speech the moment the caller talks over it:
// wipe the carrier playout buffer, drop queued synthesis, cancel the
// in-flight generation, and hand the floor back to the caller.
func (s *Session) bargeIn() {
	s.mu.Lock()
	cancel := s.turnCancel
	s.interrupted = true
	s.summary.BargeIns++
	s.mu.Unlock()

	_ = s.deps.Transport.Send(frames.NewControlFrame(s.streamID, time.Now().UnixNano(), frames.ControlClear, s.frameMeta()))
	s.deps.TTS.Clear()
	if cancel != nil {
		cancel()
	}
	_ = s.fsm.Transition(turn.StateUserSpeaking, "barge-in")
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventBargeIn,
		Time: time.Now(),
		Tags: map[string]string{"stream_id": s.streamID},
	})
	s.log.Info("barge_in")
}

func (s *Session) speakGreeting() {
	text := s.deps.Snapshot.Greeting.Text
	if text == "" {
		return
	}
	if err := s.deps.TTS.SendText(text); err != nil {
		s.log.Warn("greeting_failed", slog.String("error", err.Error()))
		return
	}
	_ = s.deps.TTS.Flush()
	s.history.CommitAssistant(text, false, 0, nil)
}

// beginEnding speaks the closing line and arms the fail-safe. The actual
// hangup happens when the farewell mark is echoed back, or when the
// fail-safe fires.
func (s *Session) beginEnding(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.endingPending || s.ended {
		s.mu.Unlock()
		return
	}
	s.endingPending = true
	s.endReason = reason
	cancel := s.turnCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	line := farewellLine
	if reason == "idle_timeout" {
		line = idleLine
	}
	_ = s.deps.TTS.SendText(line)
	_ = s.deps.TTS.Flush()
	s.history.CommitAssistant(line, false, 0, nil)
	resetTimer(s.failSafe, s.cfg.EndFailSafe)
	s.log.Info("call_ending", slog.String("reason", reason))
}

// cancelEndingOnSpeech aborts a pending farewell when the caller speaks
// again before the call actually ends.
func (s *Session) cancelEndingOnSpeech() {
	s.mu.Lock()
	if !s.endingPending || s.ended {
		s.mu.Unlock()
		return
	}
	s.endingPending = false
	s.endReason = ""
	s.mu.Unlock()

	stopTimer(s.failSafe)
	_ = s.deps.Transport.Send(frames.NewControlFrame(s.streamID, time.Now().UnixNano(), frames.ControlClear, s.frameMeta()))
	s.deps.TTS.Clear()
	if s.fsm.State() == turn.StateAISpeaking {
		_ = s.fsm.Transition(turn.StateUserSpeaking, "farewell canceled")
	}
	s.log.Info("call_ending_canceled")
}

func (s *Session) hangup(ctx context.Context) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	if s.endReason == "" {
		s.endReason = "completed"
	}
	s.mu.Unlock()

	_ = s.fsm.Transition(turn.StateEnding, s.endReason)
	if s.deps.Ender != nil && s.callSID != "" {
		if err := s.deps.Ender.EndCall(ctx, s.callSID); err != nil {
			s.log.Warn("end_call_failed", slog.String("error", err.Error()))
		}
	}
	close(s.done)
}

func (s *Session) setEndReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endReason == "" && reason != "" {
		s.endReason = reason
	}
}

func (s *Session) finalize(ctx context.Context) {
	stopTimer(s.debounce)
	stopTimer(s.idle)
	stopTimer(s.failSafe)
	s.mu.Lock()
	if s.turnCancel != nil {
		s.turnCancel()
	}
	s.ended = true
	s.summary.EndedAt = time.Now()
	s.summary.EndReason = s.endReason
	booking := s.bookingIntent
	reason := s.endReason
	s.mu.Unlock()

	_ = s.deps.STT.Close()
	_ = s.deps.TTS.Close()
	_ = s.fsm.Transition(turn.StateEnding, "finalize")

	s.writeSinks(booking)
	s.closeCallRecord(booking, reason)

	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventCallEnded,
		Time:  time.Now(),
		Value: time.Since(s.Summary().StartedAt).Seconds(),
		Tags:  map[string]string{"stream_id": s.streamID, "reason": reason},
	})
	s.log.Info("call_finished",
		slog.String("reason", reason),
		slog.Int("turns", s.Summary().Turns),
		slog.Int("barge_ins", s.Summary().BargeIns))
}

func (s *Session) openCallRecord(ctx context.Context) {
	if s.deps.Store == nil {
		return
	}
	rec := &tenant.CallRecord{
		ID:          uuid.NewString(),
		TenantID:    s.deps.Snapshot.ID,
		CallSID:     s.callSID,
		CallerPhone: s.callerPhone,
		Intent:      "general",
		StartedAt:   time.Now().UTC(),
	}
	if err := s.deps.Store.CreateCallRecord(ctx, rec); err != nil {
		s.log.Warn("call_record_failed", slog.String("error", err.Error()))
		s.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSinkFailure, Time: time.Now(), Tags: map[string]string{"sink": "call_log"}})
	}
}

func (s *Session) closeCallRecord(booking bool, reason string) {
	if s.deps.Store == nil || s.callSID == "" {
		return
	}
	outcome := reason
	if booking {
		outcome = "booking:" + reason
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Store.FinishCallRecord(ctx, s.callSID, outcome, time.Now().UTC()); err != nil {
		s.log.Warn("call_record_close_failed", slog.String("error", err.Error()))
		s.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSinkFailure, Time: time.Now(), Tags: map[string]string{"sink": "call_log"}})
	}
}

// writeSinks persists the booking request and texts a confirmation. Runs
// once, at call end, with its own deadline because the call context is
// already gone.
func (s *Session) writeSinks(booking bool) {
	if !booking || !s.deps.Snapshot.Known {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.deps.Store != nil {
		rec := &tenant.Booking{
			ID:            uuid.NewString(),
			TenantID:      s.deps.Snapshot.ID,
			Status:        "requested",
			CustomerPhone: s.callerPhone,
			Notes:         transcriptNotes(s.history.Turns()),
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.deps.Store.CreateBooking(ctx, rec); err != nil {
			s.log.Warn("booking_sink_failed", slog.String("error", err.Error()))
			s.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSinkFailure, Time: time.Now(), Tags: map[string]string{"sink": "booking"}})
		} else {
			s.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventBookingWritten, Time: time.Now(), Tags: map[string]string{"tenant_id": s.deps.Snapshot.ID}})
		}
	}
	if s.deps.SMS != nil && s.callerPhone != "" {
		body := "Thanks for calling " + s.deps.Snapshot.Name + ". We received your booking request and will confirm shortly."
		if err := s.deps.SMS.Send(ctx, s.callerPhone, body); err != nil {
			s.log.Warn("sms_sink_failed", slog.String("error", err.Error()))
			s.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSinkFailure, Time: time.Now(), Tags: map[string]string{"sink": "sms"}})
		} else {
			s.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSMSSent, Time: time.Now(), Tags: map[string]string{"tenant_id": s.deps.Snapshot.ID}})
		}
	}
}

// transcriptNotes condenses caller turns into the booking note field.
func transcriptNotes(turns []Turn) string {
	var parts []string
	for _, t := range turns {
		if t.Role == "user" {
			parts = append(parts, t.Text)
		}
	}
	note := strings.Join(parts, " / ")
	if len(note) > 500 {
		note = note[:500]
	}
	return note
}

func (s *Session) frameMeta() map[string]string {
	meta := map[string]string{
		frames.MetaStreamID: s.streamID,
		frames.MetaSource:   "session",
	}
	if s.callSID != "" {
		meta[frames.MetaCallSID] = s.callSID
	}
	if s.traceID != "" {
		meta[frames.MetaTraceID] = s.traceID
	}
	return meta
}

func (s *Session) armDebounce() {
	resetTimer(s.debounce, s.cfg.DebounceWindow)
}

func (s *Session) resetIdle() {
	if s.idle != nil {
		resetTimer(s.idle, s.cfg.IdleTimeout)
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	stopTimer(t)
	return t
}

func stopTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
