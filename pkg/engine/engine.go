package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/voxdesk/voxdesk/pkg/adapters/tts"
	"github.com/voxdesk/voxdesk/pkg/llm"
	"github.com/voxdesk/voxdesk/pkg/logging"
	"github.com/voxdesk/voxdesk/pkg/metrics"
	"github.com/voxdesk/voxdesk/pkg/tenant"
	"github.com/voxdesk/voxdesk/pkg/tools"
)

// Canned lines spoken without a model round trip.
const (
	FallbackLine     = "I'm having trouble pulling that up right now. Would you like me to take a message?"
	ClarifyTopicLine = "Which topic should I check? For example: cancellation, pricing, or parking."
	ClarifyIDLine    = "Do you have the booking ID?"
)

// Input carries everything one generation turn needs.
type Input struct {
	StreamID    string
	Messages    []map[string]any
	Snapshot    tenant.Snapshot
	Cache       *tools.TurnCache
	CallerPhone string
	MaxTokens   int
	Temperature float64
}

// Output reports what the turn produced. Messages holds everything
// appended during the turn, in order, ready to commit to history.
type Output struct {
	Text         string
	Messages     []map[string]any
	ToolCalls    int
	Interrupted  bool
	UsedFallback bool
}

// Engine runs one full generation turn: stream the model, segment tokens
// into speakable fragments, execute requested tools within budget, feed
// results back, and flush. It holds no per-call state; the session owns
// history, debounce, and turn-taking.
type Engine struct {
	adapter llm.Adapter
	router  *tools.Router
	retry   llm.RetryConfig
	obs     metrics.Observer
	log     *slog.Logger
}

func New(adapter llm.Adapter, router *tools.Router, obs metrics.Observer, log *slog.Logger) *Engine {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		adapter: adapter,
		router:  router,
		retry:   llm.RetryConfig{},
		obs:     obs,
		log:     logging.NewComponentLogger(log, "engine"),
	}
}

// RunTurn executes one turn against out. A canceled ctx means the caller
// was interrupted: partial text is returned with Interrupted set and
// nothing further is spoken.
func (e *Engine) RunTurn(ctx context.Context, in Input, out tts.StreamingTTS) (Output, error) {
	policy := in.Snapshot.ToolPolicy
	if policy.MaxCallsPerTurn <= 0 {
		policy = tenant.DefaultToolPolicy()
	}
	messages := make([]map[string]any, len(in.Messages))
	copy(messages, in.Messages)

	var result Output
	var spoken strings.Builder
	used := 0
	firstToken := false

	// One extra round lets the model answer after the last tool result.
	for round := 0; round <= policy.MaxCallsPerTurn; round++ {
		reqTools := tools.Specs()
		if used >= policy.MaxCallsPerTurn {
			reqTools = nil
		}
		req := llm.Context{
			Messages:    messages,
			Tools:       reqTools,
			MaxTokens:   in.MaxTokens,
			Temperature: in.Temperature,
		}

		events, err := llm.Retry(ctx, e.retry, func(ctx context.Context) (<-chan llm.Event, error) {
			return e.adapter.Stream(ctx, req)
		})
		if err != nil {
			if ctx.Err() != nil {
				result.Interrupted = true
				result.Text = spoken.String()
				return result, ctx.Err()
			}
			e.log.Error("llm_stream_failed",
				slog.String("stream_id", in.StreamID),
				slog.String("error", err.Error()))
			e.speak(out, FallbackLine)
			result.UsedFallback = true
			result.Text = FallbackLine
			result.Messages = append(result.Messages, assistantMessage(FallbackLine))
			return result, nil
		}

		seg := newSegmenter(out)
		var roundText strings.Builder
		var calls []llm.ToolCall
		finished := false

		for ev := range events {
			switch ev.Kind {
			case llm.EventToken:
				if !firstToken {
					firstToken = true
					e.obs.RecordEvent(metrics.MetricsEvent{
						Name: metrics.EventLLMFirstToken,
						Time: time.Now(),
						Tags: map[string]string{"stream_id": in.StreamID},
					})
				}
				roundText.WriteString(ev.Token)
				spoken.WriteString(ev.Token)
				seg.Push(ev.Token)
			case llm.EventToolCalls:
				calls = append(calls, ev.ToolCalls...)
			case llm.EventDone:
				finished = true
			case llm.EventError:
				if ctx.Err() != nil {
					result.Interrupted = true
					result.Text = spoken.String()
					return result, ctx.Err()
				}
				e.log.Error("llm_stream_error",
					slog.String("stream_id", in.StreamID),
					slog.String("error", ev.Err.Error()))
			}
		}
		if ctx.Err() != nil {
			result.Interrupted = true
			result.Text = spoken.String()
			return result, ctx.Err()
		}

		if len(calls) == 0 {
			if !finished && roundText.Len() == 0 && round > 0 {
				// Model went silent after tools; fall back rather than hang up mute.
				e.speak(out, FallbackLine)
				result.UsedFallback = true
				spoken.WriteString(FallbackLine)
				result.Messages = append(result.Messages, assistantMessage(FallbackLine))
				result.Text = spoken.String()
				return result, nil
			}
			seg.FlushRemainder()
			_ = out.Flush()
			e.obs.RecordEvent(metrics.MetricsEvent{
				Name:  metrics.EventLLMDone,
				Time:  time.Now(),
				Value: float64(result.ToolCalls),
				Tags:  map[string]string{"stream_id": in.StreamID},
			})
			result.Messages = append(result.Messages, assistantMessage(roundText.String()))
			result.Text = spoken.String()
			return result, nil
		}

		// Tool round. Any streamed preamble is flushed before the tools run
		// so the caller hears it while lookups are in flight.
		seg.FlushRemainder()
		result.Messages = append(result.Messages, assistantToolCallMessage(roundText.String(), calls))
		messages = append(messages, assistantToolCallMessage(roundText.String(), calls))

		toolCtx, cancel := context.WithTimeout(ctx, policy.TurnTimeout)
		for _, call := range calls {
			var res tools.Result
			if used >= policy.MaxCallsPerTurn {
				res = tools.BudgetExhaustedResult()
			} else {
				used++
				result.ToolCalls++
				res = e.router.Invoke(toolCtx, call.Name, call.Arguments, in.Snapshot, in.Cache, in.CallerPhone)
			}

			if line, ok := clarifyLine(res); ok {
				cancel()
				toolMsg := toolMessage(call.ID, res.JSON())
				result.Messages = append(result.Messages, toolMsg, assistantMessage(line))
				e.speak(out, line)
				spoken.WriteString(line)
				result.Text = spoken.String()
				return result, nil
			}

			toolMsg := toolMessage(call.ID, res.JSON())
			result.Messages = append(result.Messages, toolMsg)
			messages = append(messages, toolMsg)
		}
		cancel()
	}

	// Budget loop exhausted without a final answer.
	e.speak(out, FallbackLine)
	result.UsedFallback = true
	spoken.WriteString(FallbackLine)
	result.Messages = append(result.Messages, assistantMessage(FallbackLine))
	result.Text = spoken.String()
	return result, nil
}

func (e *Engine) speak(out tts.StreamingTTS, line string) {
	if out == nil {
		return
	}
	_ = out.SendText(line)
	_ = out.Flush()
}

// clarifyLine maps tool results that need caller input to a canned
// question, skipping a model round trip.
func clarifyLine(res tools.Result) (string, bool) {
	switch {
	case res.Status == tools.StatusEmpty && res.ErrTag == "missing_topic":
		return ClarifyTopicLine, true
	case res.Status == tools.StatusSchema && res.ErrTag == "missing_booking_id":
		return ClarifyIDLine, true
	}
	return "", false
}

func assistantMessage(content string) map[string]any {
	return map[string]any{"role": "assistant", "content": content}
}

func assistantToolCallMessage(content string, calls []llm.ToolCall) map[string]any {
	tcs := make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		args := c.RawArguments
		if args == "" {
			args = "{}"
		}
		tcs = append(tcs, map[string]any{
			"id":   c.ID,
			"type": "function",
			"function": map[string]any{
				"name":      c.Name,
				"arguments": args,
			},
		})
	}
	msg := map[string]any{"role": "assistant", "tool_calls": tcs}
	if content != "" {
		msg["content"] = content
	}
	return msg
}

func toolMessage(callID, content string) map[string]any {
	return map[string]any{
		"role":         "tool",
		"tool_call_id": callID,
		"content":      content,
	}
}
