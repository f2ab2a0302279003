package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxdesk/voxdesk/pkg/llm"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			if _, err := w.Write([]byte("data: " + line + "\n\n")); err != nil {
				return
			}
		}
	}))
}

func collect(t *testing.T, ch <-chan llm.Event) []llm.Event {
	t.Helper()
	var out []llm.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestStreamTokens(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":" there."}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	})
	defer srv.Close()

	a := NewAdapter("key", "gpt-4o-mini")
	a.BaseURL = srv.URL
	ch, err := a.Stream(context.Background(), llm.Context{
		Messages: []map[string]any{{"role": "user", "content": "hi"}},
	})
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	events := collect(t, ch)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Token != "Hello" || events[1].Token != " there." {
		t.Fatalf("unexpected tokens: %+v", events)
	}
	last := events[2]
	if last.Kind != llm.EventDone || last.FinishReason != "stop" {
		t.Fatalf("expected done/stop, got %+v", last)
	}
}

func TestStreamAccumulatesToolCallDeltas(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_working_hours","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"business"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"_id\":\"t1\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	})
	defer srv.Close()

	a := NewAdapter("key", "gpt-4o-mini")
	a.BaseURL = srv.URL
	ch, err := a.Stream(context.Background(), llm.Context{
		Messages: []map[string]any{{"role": "user", "content": "hours?"}},
		Tools:    []llm.Tool{{Name: "get_working_hours"}},
	})
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	events := collect(t, ch)
	if len(events) != 2 {
		t.Fatalf("expected tool_calls + done, got %+v", events)
	}
	tc := events[0]
	if tc.Kind != llm.EventToolCalls || len(tc.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", tc)
	}
	call := tc.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "get_working_hours" {
		t.Fatalf("unexpected call identity: %+v", call)
	}
	if call.Arguments["business_id"] != "t1" {
		t.Fatalf("arguments not stitched: %+v", call)
	}
	if events[1].FinishReason != "tool_calls" {
		t.Fatalf("expected finish_reason tool_calls, got %+v", events[1])
	}
}

func TestStreamRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-4o-mini")
	a.BaseURL = srv.URL
	if _, err := a.Stream(context.Background(), llm.Context{}); err == nil {
		t.Fatalf("expected rate limit error")
	}
}
