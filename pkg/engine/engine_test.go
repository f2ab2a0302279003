package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/voxdesk/voxdesk/pkg/llm"
	"github.com/voxdesk/voxdesk/pkg/providers/mock"
	"github.com/voxdesk/voxdesk/pkg/tenant"
	"github.com/voxdesk/voxdesk/pkg/tools"
)

func testSnapshot() tenant.Snapshot {
	snap := tenant.Generic()
	snap.ID = "tenant-1"
	snap.Known = true
	return snap
}

func testEngine(t *testing.T, rounds []mock.LLMRound, store tenant.Store) (*Engine, *mock.LLMAdapter, *mock.StreamingTTS) {
	t.Helper()
	adapter := mock.NewLLMAdapter(mock.LLMConfig{Rounds: rounds})
	if store == nil {
		store = tenant.NewMemoryStore()
	}
	router := tools.NewRouter(store, nil, nil)
	eng := New(adapter, router, nil, nil)
	synth := mock.NewTTS(mock.TTSConfig{StreamID: "MZtest"})
	if err := synth.Start(context.Background()); err != nil {
		t.Fatalf("start tts: %v", err)
	}
	return eng, adapter, synth
}

func baseInput() Input {
	return Input{
		StreamID: "MZtest",
		Messages: []map[string]any{
			{"role": "system", "content": "You are a receptionist."},
			{"role": "user", "content": "What services do you offer?"},
		},
		Snapshot: testSnapshot(),
		Cache:    tools.NewTurnCache(),
	}
}

func TestRunTurnStreamsAndFlushes(t *testing.T) {
	eng, adapter, synth := testEngine(t, []mock.LLMRound{
		{Tokens: []string{"We open", " at nine", " tomorrow."}, FinishReason: "stop"},
	}, nil)

	out, err := eng.RunTurn(context.Background(), baseInput(), synth)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if out.Text != "We open at nine tomorrow." {
		t.Fatalf("unexpected text: %q", out.Text)
	}
	if out.Interrupted || out.UsedFallback {
		t.Fatalf("unexpected flags: %+v", out)
	}
	if adapter.Calls() != 1 {
		t.Fatalf("expected 1 stream call, got %d", adapter.Calls())
	}
	if got := strings.Join(synth.Fragments, " "); got != "We open at nine tomorrow." {
		t.Fatalf("unexpected fragments: %q", got)
	}
	if synth.Flushes != 1 {
		t.Fatalf("expected 1 flush, got %d", synth.Flushes)
	}
	last := out.Messages[len(out.Messages)-1]
	if last["role"] != "assistant" || last["content"] != "We open at nine tomorrow." {
		t.Fatalf("unexpected committed message: %v", last)
	}
}

func TestRunTurnSegmentsLongReply(t *testing.T) {
	eng, _, synth := testEngine(t, []mock.LLMRound{
		{Tokens: []string{"First sentence here. Second", " part, which keeps going."}, FinishReason: "stop"},
	}, nil)

	if _, err := eng.RunTurn(context.Background(), baseInput(), synth); err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if len(synth.Fragments) < 2 {
		t.Fatalf("expected early segmentation, got %v", synth.Fragments)
	}
	if synth.Fragments[0] != "First sentence here." {
		t.Fatalf("unexpected first fragment: %q", synth.Fragments[0])
	}
}

func TestRunTurnExecutesToolThenAnswers(t *testing.T) {
	store := tenant.NewMemoryStore()
	store.Services = append(store.Services, tenant.Service{
		TenantID: "tenant-1", Name: "Haircut", IsActive: true,
	})
	eng, adapter, synth := testEngine(t, []mock.LLMRound{
		{ToolCalls: []llm.ToolCall{{
			ID: "call_1", Name: tools.ToolGetBusinessServices, Arguments: map[string]any{},
		}}},
		{Tokens: []string{"We offer haircuts."}, FinishReason: "stop"},
	}, store)

	out, err := eng.RunTurn(context.Background(), baseInput(), synth)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if adapter.Calls() != 2 {
		t.Fatalf("expected 2 stream calls, got %d", adapter.Calls())
	}
	if out.ToolCalls != 1 {
		t.Fatalf("expected 1 tool call, got %d", out.ToolCalls)
	}
	if out.Text != "We offer haircuts." {
		t.Fatalf("unexpected text: %q", out.Text)
	}

	second := adapter.Inputs[1]
	foundTool := false
	for _, msg := range second.Messages {
		if msg["role"] == "tool" {
			foundTool = true
			if !strings.Contains(msg["content"].(string), "Haircut") {
				t.Fatalf("tool message missing payload: %v", msg["content"])
			}
		}
	}
	if !foundTool {
		t.Fatalf("second round missing tool message: %v", second.Messages)
	}
}

func TestRunTurnEnforcesToolBudget(t *testing.T) {
	store := tenant.NewMemoryStore()
	store.Services = append(store.Services, tenant.Service{
		TenantID: "tenant-1", Name: "Haircut", IsActive: true,
	})
	eng, _, synth := testEngine(t, []mock.LLMRound{
		{ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: tools.ToolGetBusinessServices, Arguments: map[string]any{}},
			{ID: "call_2", Name: tools.ToolGetWorkingHours, Arguments: map[string]any{}},
		}},
		{Tokens: []string{"Here is what I found."}, FinishReason: "stop"},
	}, store)

	in := baseInput()
	in.Snapshot.ToolPolicy.MaxCallsPerTurn = 1
	out, err := eng.RunTurn(context.Background(), in, synth)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if out.ToolCalls != 1 {
		t.Fatalf("expected exactly 1 executed tool call, got %d", out.ToolCalls)
	}
	exhausted := false
	for _, msg := range out.Messages {
		if msg["role"] == "tool" && strings.Contains(msg["content"].(string), "tool_budget_exhausted") {
			exhausted = true
		}
	}
	if !exhausted {
		t.Fatalf("expected synthetic budget result in messages: %v", out.Messages)
	}
	if out.Text != "Here is what I found." {
		t.Fatalf("unexpected text: %q", out.Text)
	}
}

func TestRunTurnClarifiesMissingTopic(t *testing.T) {
	eng, adapter, synth := testEngine(t, []mock.LLMRound{
		{ToolCalls: []llm.ToolCall{{
			ID: "call_1", Name: tools.ToolGetPolicies, Arguments: map[string]any{},
		}}},
	}, nil)

	out, err := eng.RunTurn(context.Background(), baseInput(), synth)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if adapter.Calls() != 1 {
		t.Fatalf("clarify must not spend another model round, got %d calls", adapter.Calls())
	}
	if !strings.Contains(out.Text, ClarifyTopicLine) {
		t.Fatalf("expected clarify line, got %q", out.Text)
	}
	if got := strings.Join(synth.Fragments, " "); !strings.Contains(got, "Which topic") {
		t.Fatalf("clarify line not spoken: %q", got)
	}
}

func TestRunTurnFallsBackOnStreamError(t *testing.T) {
	eng, _, synth := testEngine(t, []mock.LLMRound{
		{Err: context.DeadlineExceeded},
	}, nil)

	out, err := eng.RunTurn(context.Background(), baseInput(), synth)
	if err != nil {
		t.Fatalf("fallback turn must not error: %v", err)
	}
	if !out.UsedFallback {
		t.Fatalf("expected fallback flag")
	}
	if out.Text != FallbackLine {
		t.Fatalf("unexpected text: %q", out.Text)
	}
	if len(synth.Fragments) == 0 || synth.Fragments[0] != FallbackLine {
		t.Fatalf("fallback line not spoken: %v", synth.Fragments)
	}
}

func TestRunTurnInterrupted(t *testing.T) {
	eng, _, synth := testEngine(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := eng.RunTurn(ctx, baseInput(), synth)
	if err == nil {
		t.Fatalf("expected context error")
	}
	if !out.Interrupted {
		t.Fatalf("expected interrupted flag")
	}
	if synth.Flushes != 0 {
		t.Fatalf("interrupted turn must not flush, got %d", synth.Flushes)
	}
}
