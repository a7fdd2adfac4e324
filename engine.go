package omniforge

import (
	"context"
	"log/slog"
)

// CallResult is the engine's view of one tool or model call: the outcome plus
// the id of the TOOL_RESULT step that recorded it.
type CallResult struct {
	Success    bool
	Value      string
	Error      string
	StepID     string
	TokensUsed int
	Cost       float64
}

// LLMCall describes one model invocation. Exactly one of Prompt and Messages
// must be set.
type LLMCall struct {
	Prompt      string
	Messages    []ChatMessage
	Model       string
	MaxTokens   int
	Temperature float64
}

// ReasoningEngine binds one task's chain to its executor and gives the
// reasoning loop a small surface: record thoughts, call the model, call
// tools. Every model call goes through the executor's "llm" tool so it is
// rate-limited, retried, and correlated like any other call.
type ReasoningEngine struct {
	chain    *ReasoningChain
	executor *ToolExecutor
	call     ToolCallContext
	logger   *slog.Logger
}

// EngineOption configures a ReasoningEngine.
type EngineOption func(*ReasoningEngine)

// WithEngineLogger sets the structured logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *ReasoningEngine) { e.logger = l }
}

// NewReasoningEngine creates an engine over the chain and executor. The chain
// supplies the call identity (task, agent, tenant) stamped on every call.
func NewReasoningEngine(chain *ReasoningChain, executor *ToolExecutor, opts ...EngineOption) *ReasoningEngine {
	e := &ReasoningEngine{
		chain:    chain,
		executor: executor,
		call: ToolCallContext{
			TaskID:   chain.TaskID,
			AgentID:  chain.AgentID,
			TenantID: chain.TenantID,
			ChainID:  chain.ID,
		},
		logger: nopLogger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Chain returns the engine's reasoning chain.
func (e *ReasoningEngine) Chain() *ReasoningChain { return e.chain }

// Executor returns the engine's tool executor.
func (e *ReasoningEngine) Executor() *ToolExecutor { return e.executor }

// AddThinking records a THINKING step. Confidence, when given, must lie in
// [0,1].
func (e *ReasoningEngine) AddThinking(content string, confidence *float64) (ReasoningStep, error) {
	if confidence != nil && (*confidence < 0 || *confidence > 1) {
		return ReasoningStep{}, &ArgumentError{Field: "confidence", Reason: "must be in [0,1]"}
	}
	return e.chain.AddStep(ReasoningStep{
		Type:       StepThinking,
		Visibility: VisibilityFull,
		Thinking:   &ThinkingInfo{Content: content, Confidence: confidence},
	})
}

// AddSynthesis records a SYNTHESIS step combining earlier steps into a
// conclusion. Sources are step ids.
func (e *ReasoningEngine) AddSynthesis(content string, sources []string) (ReasoningStep, error) {
	return e.chain.AddStep(ReasoningStep{
		Type:       StepSynthesis,
		Visibility: VisibilitySummary,
		Synthesis:  &SynthesisInfo{Content: content, Sources: sources},
	})
}

// CallLLM invokes the model through the executor. Exactly one of Prompt and
// Messages must be set; both or neither is an ArgumentError.
func (e *ReasoningEngine) CallLLM(ctx context.Context, req LLMCall) (CallResult, error) {
	hasPrompt := req.Prompt != ""
	hasMessages := len(req.Messages) > 0
	if hasPrompt == hasMessages {
		return CallResult{}, &ArgumentError{Field: "prompt", Reason: "exactly one of Prompt and Messages is required"}
	}

	args := map[string]any{}
	if hasPrompt {
		args["prompt"] = req.Prompt
	} else {
		args["messages"] = messagesToArgs(req.Messages)
	}
	if req.Model != "" {
		args["model"] = req.Model
	}
	if req.MaxTokens > 0 {
		args["max_tokens"] = float64(req.MaxTokens)
	}
	if req.Temperature > 0 {
		args["temperature"] = req.Temperature
	}
	return e.CallTool(ctx, LLMToolName, args)
}

// CallTool runs a tool through the executor, recording the call/result step
// pair in the chain. Lookup, validation, and rate-limit failures surface as a
// non-nil error; runtime tool failures come back as an unsuccessful result.
func (e *ReasoningEngine) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	call := e.call
	call.CorrelationID = NewID()

	result, err := e.executor.Execute(ctx, name, args, call, e.chain)
	if err != nil {
		return CallResult{}, err
	}

	cr := CallResult{
		Success:    result.Success,
		Value:      result.Result,
		Error:      result.Error,
		TokensUsed: result.TokensUsed,
		Cost:       result.Cost,
	}
	for _, s := range e.chain.Steps() {
		if s.Type == StepToolResult && s.ToolResult != nil && s.ToolResult.CorrelationID == call.CorrelationID {
			cr.StepID = s.ID
			break
		}
	}
	return cr, nil
}

// AvailableTools lists the definitions of every registered tool, filtered to
// the active skill's allow-list when one applies.
func (e *ReasoningEngine) AvailableTools() []ToolDefinition {
	defs := e.executor.Registry().Definitions()
	sc := e.executor.ActiveSkill()
	if sc == nil {
		return defs
	}
	allowed := defs[:0]
	for _, d := range defs {
		if sc.CheckToolAllowed(d.Name) == nil {
			allowed = append(allowed, d)
		}
	}
	return allowed
}
