package llm

import "context"

type Tool struct {
	Name        string
	Description string
	Schema      any
}

type Context struct {
	Messages    []map[string]any
	Tools       []Tool
	MaxTokens   int
	Temperature float64
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	// RawArguments preserves the provider's argument JSON for echoing
	// back in the assistant tool_calls message.
	RawArguments string
}

type EventKind string

const (
	EventToken     EventKind = "token"
	EventToolCalls EventKind = "tool_calls"
	EventDone      EventKind = "done"
	EventError     EventKind = "error"
)

// Event is one element of a streamed generation. A turn is a sequence of
// Token events, optionally one ToolCalls event, then exactly one Done or
// Error event, after which the channel is closed.
type Event struct {
	Kind         EventKind
	Token        string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
	Err          error
}

type Adapter interface {
	Name() string
	Stream(ctx context.Context, input Context) (<-chan Event, error)
}
