package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/voxdesk/voxdesk/pkg/llm"
	"github.com/voxdesk/voxdesk/pkg/resilience"
)

type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

// Stream opens a streaming chat completion and converts SSE deltas into
// llm events. Tool-call argument fragments are accumulated per index and
// emitted as one ToolCalls event when the provider finishes the turn with
// finish_reason=tool_calls.
func (a *Adapter) Stream(ctx context.Context, input llm.Context) (<-chan llm.Event, error) {
	body, err := a.buildRequest(input)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, resilience.RateLimitError{Provider: "openai", Message: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errors.New(string(body))
	}
	out := make(chan llm.Event, 128)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		acc := newToolCallAccumulator()
		finish := ""
		var usage llm.Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage = llm.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc.add(tc)
			}
			if choice.Delta.Content != "" {
				select {
				case <-ctx.Done():
					emit(ctx, out, llm.Event{Kind: llm.EventError, Err: ctx.Err()})
					return
				case out <- llm.Event{Kind: llm.EventToken, Token: choice.Delta.Content}:
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			emit(ctx, out, llm.Event{Kind: llm.EventError, Err: err})
			return
		}
		if ctx.Err() != nil {
			emit(ctx, out, llm.Event{Kind: llm.EventError, Err: ctx.Err()})
			return
		}
		if calls := acc.finish(); len(calls) > 0 {
			emit(ctx, out, llm.Event{Kind: llm.EventToolCalls, ToolCalls: calls})
		}
		emit(ctx, out, llm.Event{Kind: llm.EventDone, FinishReason: finish, Usage: usage})
	}()
	return out, nil
}

func emit(ctx context.Context, out chan llm.Event, ev llm.Event) {
	select {
	case <-ctx.Done():
	case out <- ev:
	}
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// toolCallAccumulator stitches streamed tool-call fragments back together.
// The provider sends the id and name once per index and the argument JSON
// in arbitrary-length pieces.
type toolCallAccumulator struct {
	byIndex map[int]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*partialCall)}
}

func (a *toolCallAccumulator) add(d toolCallDelta) {
	pc := a.byIndex[d.Index]
	if pc == nil {
		pc = &partialCall{}
		a.byIndex[d.Index] = pc
	}
	if d.ID != "" {
		pc.id = d.ID
	}
	if d.Function.Name != "" {
		pc.name = d.Function.Name
	}
	pc.args.WriteString(d.Function.Arguments)
}

func (a *toolCallAccumulator) finish() []llm.ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]llm.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		pc := a.byIndex[i]
		raw := pc.args.String()
		args := map[string]any{}
		_ = json.Unmarshal([]byte(raw), &args)
		out = append(out, llm.ToolCall{
			ID:           pc.id,
			Name:         pc.name,
			Arguments:    args,
			RawArguments: raw,
		})
	}
	return out
}

func (a *Adapter) buildRequest(input llm.Context) (*bytes.Buffer, error) {
	req := map[string]any{
		"model":    a.Model,
		"stream":   true,
		"messages": input.Messages,
	}
	if len(input.Tools) > 0 {
		req["tools"] = mapTools(input.Tools)
		req["tool_choice"] = "auto"
	}
	if input.MaxTokens > 0 {
		req["max_tokens"] = input.MaxTokens
	}
	if input.Temperature > 0 {
		req["temperature"] = input.Temperature
	}
	req["stream_options"] = map[string]any{"include_usage": true}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func mapTools(tools []llm.Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Schema,
			},
		})
	}
	return out
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}
