package omniforge

import (
	"context"
	"fmt"
	"time"
)

// CostModel prices one model call from its token usage.
type CostModel func(model string, usage Usage) float64

// llmTool exposes the configured Provider as a registry tool so model calls
// share the executor's rate limiting, retry, and chain correlation.
type llmTool struct {
	provider     Provider
	defaultModel string
	cost         CostModel
}

// LLMToolOption configures the llm tool.
type LLMToolOption func(*llmTool)

// WithCostModel sets the pricing function. Without one, cost is zero.
func WithCostModel(cm CostModel) LLMToolOption {
	return func(t *llmTool) { t.cost = cm }
}

// NewLLMTool wraps the provider as the synthetic "llm" tool.
func NewLLMTool(p Provider, defaultModel string, opts ...LLMToolOption) Tool {
	t := &llmTool{provider: p, defaultModel: defaultModel}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ Tool = (*llmTool)(nil)

func (t *llmTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        LLMToolName,
		Type:        "llm",
		Description: "Call the language model with a prompt or a message list.",
		Parameters: []ToolParameter{
			{Name: "prompt", Type: "string", Description: "single-turn prompt"},
			{Name: "messages", Type: "array", Description: "multi-turn message list"},
			{Name: "model", Type: "string", Description: "model override"},
			{Name: "max_tokens", Type: "number", Description: "completion budget"},
			{Name: "temperature", Type: "number"},
		},
		Visibility: VisibilityFull,
		Timeout:    120 * time.Second,
		Retry:      RetryPolicy{MaxRetries: 3, Backoff: 100 * time.Millisecond, Multiplier: 2},
	}
}

func (t *llmTool) Execute(ctx context.Context, call ToolCallContext, args map[string]any) (ToolResult, error) {
	req, err := chatRequestFromArgs(args, t.defaultModel)
	if err != nil {
		return ToolResult{}, err
	}

	resp, err := t.provider.Chat(ctx, req)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error()}, nil
	}

	result := ToolResult{
		Success:    true,
		Result:     resp.Content,
		TokensUsed: resp.Usage.Total(),
	}
	if t.cost != nil {
		result.Cost = t.cost(req.Model, resp.Usage)
	}
	return result, nil
}

// chatRequestFromArgs rebuilds a ChatRequest from validated tool arguments.
// Exactly one of prompt and messages must be present.
func chatRequestFromArgs(args map[string]any, defaultModel string) (ChatRequest, error) {
	prompt, hasPrompt := args["prompt"].(string)
	rawMsgs, hasMsgs := args["messages"].([]any)
	if hasPrompt == hasMsgs {
		return ChatRequest{}, &ArgumentError{Field: "prompt", Reason: "exactly one of prompt and messages is required"}
	}

	req := ChatRequest{Model: defaultModel}
	if m, ok := args["model"].(string); ok && m != "" {
		req.Model = m
	}
	if mt, ok := numberArg(args, "max_tokens"); ok {
		req.MaxTokens = int(mt)
	}
	if temp, ok := numberArg(args, "temperature"); ok {
		req.Temperature = temp
	}

	if hasPrompt {
		req.Messages = []ChatMessage{UserMessage(prompt)}
		return req, nil
	}
	for i, raw := range rawMsgs {
		m, ok := raw.(map[string]any)
		if !ok {
			return ChatRequest{}, &ArgumentError{Field: "messages", Reason: fmt.Sprintf("element %d is not an object", i)}
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		if role == "" {
			return ChatRequest{}, &ArgumentError{Field: "messages", Reason: fmt.Sprintf("element %d missing role", i)}
		}
		req.Messages = append(req.Messages, ChatMessage{Role: role, Content: content})
	}
	return req, nil
}

// messagesToArgs converts typed messages into the wire shape the llm tool
// accepts.
func messagesToArgs(msgs []ChatMessage) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return out
}
