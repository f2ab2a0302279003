package session

import (
	"sync"
	"time"
)

// Turn is one committed conversation entry. Turns are append-only: once
// committed they are never edited, including interrupted ones, which keep
// the text that was actually spoken before the caller cut in.
type Turn struct {
	Role        string
	Text        string
	Interrupted bool
	ToolCalls   int
	At          time.Time
}

// History holds the committed turns plus the raw provider messages for
// the next generation request. Tool call and result messages ride along
// so follow-up turns keep their grounding.
type History struct {
	mu       sync.Mutex
	turns    []Turn
	messages []map[string]any
}

func NewHistory() *History {
	return &History{}
}

// CommitUser appends a caller utterance.
func (h *History) CommitUser(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{Role: "user", Text: text, At: time.Now()})
	h.messages = append(h.messages, map[string]any{"role": "user", "content": text})
}

// CommitAssistant appends the assistant's turn along with the provider
// messages produced while generating it.
func (h *History) CommitAssistant(text string, interrupted bool, toolCalls int, messages []map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{
		Role:        "assistant",
		Text:        text,
		Interrupted: interrupted,
		ToolCalls:   toolCalls,
		At:          time.Now(),
	})
	if len(messages) > 0 {
		h.messages = append(h.messages, messages...)
	} else if text != "" {
		h.messages = append(h.messages, map[string]any{"role": "assistant", "content": text})
	}
}

// Messages returns the provider message list with the system prompt first.
func (h *History) Messages(systemPrompt string) []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]map[string]any, 0, len(h.messages)+1)
	out = append(out, map[string]any{"role": "system", "content": systemPrompt})
	out = append(out, h.messages...)
	return out
}

// Turns returns a copy of the committed turns.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// CallMetrics summarizes one call for the call-log sink.
type CallMetrics struct {
	StartedAt  time.Time
	EndedAt    time.Time
	Turns      int
	BargeIns   int
	ToolCalls  int
	Fallbacks  int
	Reconnects int
	EndReason  string
}
