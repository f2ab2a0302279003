package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxdesk/voxdesk/pkg/llm"
)

// LLMRound scripts one generation request. Tokens stream first, then the
// tool calls (if any), then Done with the finish reason. Delay holds the
// stream open before the first token to simulate a slow generation.
type LLMRound struct {
	Tokens       []string
	ToolCalls    []llm.ToolCall
	FinishReason string
	Delay        time.Duration
	Err          error
}

type LLMConfig struct {
	Rounds []LLMRound
}

// LLMAdapter replays scripted rounds, one per Stream call. Extra calls
// replay the last round.
type LLMAdapter struct {
	cfg   LLMConfig
	mu    sync.Mutex
	calls int
	// Inputs records the Context of every Stream call for assertions.
	Inputs []llm.Context
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if len(cfg.Rounds) == 0 {
		cfg.Rounds = []LLMRound{{Tokens: []string{"mock response."}, FinishReason: "stop"}}
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *LLMAdapter) Stream(ctx context.Context, input llm.Context) (<-chan llm.Event, error) {
	a.mu.Lock()
	round := a.cfg.Rounds[min(a.calls, len(a.cfg.Rounds)-1)]
	a.calls++
	a.Inputs = append(a.Inputs, input)
	a.mu.Unlock()

	if round.Err != nil {
		return nil, round.Err
	}
	out := make(chan llm.Event, 16)
	go func() {
		defer close(out)
		if round.Delay > 0 {
			select {
			case <-ctx.Done():
				out <- llm.Event{Kind: llm.EventError, Err: ctx.Err()}
				return
			case <-time.After(round.Delay):
			}
		}
		for _, tok := range round.Tokens {
			select {
			case <-ctx.Done():
				out <- llm.Event{Kind: llm.EventError, Err: ctx.Err()}
				return
			case out <- llm.Event{Kind: llm.EventToken, Token: tok}:
			}
		}
		if len(round.ToolCalls) > 0 {
			out <- llm.Event{Kind: llm.EventToolCalls, ToolCalls: round.ToolCalls}
		}
		finish := round.FinishReason
		if finish == "" {
			if len(round.ToolCalls) > 0 {
				finish = "tool_calls"
			} else {
				finish = "stop"
			}
		}
		out <- llm.Event{Kind: llm.EventDone, FinishReason: finish}
	}()
	return out, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
