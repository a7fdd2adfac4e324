package omniforge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// defaultMaxIterations bounds the reasoning loop when no override is set.
const defaultMaxIterations = 15

// ReActAgent drives the iterative reason-act loop: ask the model for the next
// move, execute the named tool, feed the observation back, repeat until the
// model produces a final answer, asks the user a question, or the iteration
// budget runs out.
type ReActAgent struct {
	card     AgentCard
	provider Provider
	registry *ToolRegistry

	skill   *Skill
	maxIter int
	model   string
	chains  *ChainRegistry
	limiter RateLimiter
	costs   CostTracker
	tracer  Tracer
	guards  []InputGuard
	logger  *slog.Logger
}

var _ Agent = (*ReActAgent)(nil)

// ReActOption configures a ReActAgent.
type ReActOption func(*ReActAgent)

// WithSkill activates the skill for the whole task. Its body shapes the
// system prompt and its allow-list gates every tool call.
func WithSkill(s *Skill) ReActOption {
	return func(a *ReActAgent) { a.skill = s }
}

// WithMaxIterations overrides the iteration budget.
func WithMaxIterations(n int) ReActOption {
	return func(a *ReActAgent) {
		if n > 0 {
			a.maxIter = n
		}
	}
}

// WithModel sets the model used for loop reasoning.
func WithModel(model string) ReActOption {
	return func(a *ReActAgent) { a.model = model }
}

// WithChainRegistry publishes each task's chain so delegation can link
// sub-chains to their parents.
func WithChainRegistry(r *ChainRegistry) ReActOption {
	return func(a *ReActAgent) { a.chains = r }
}

// WithAgentRateLimiter sets the shared per-tenant rate limiter.
func WithAgentRateLimiter(rl RateLimiter) ReActOption {
	return func(a *ReActAgent) { a.limiter = rl }
}

// WithAgentCostTracker sets the shared cost tracker.
func WithAgentCostTracker(ct CostTracker) ReActOption {
	return func(a *ReActAgent) { a.costs = ct }
}

// WithAgentTracer sets the tracer.
func WithAgentTracer(t Tracer) ReActOption {
	return func(a *ReActAgent) { a.tracer = t }
}

// WithGuards installs input guards that screen task input before the first
// model call.
func WithGuards(gs ...InputGuard) ReActOption {
	return func(a *ReActAgent) { a.guards = append(a.guards, gs...) }
}

// WithAgentLogger sets the structured logger.
func WithAgentLogger(l *slog.Logger) ReActOption {
	return func(a *ReActAgent) { a.logger = l }
}

// NewReActAgent creates a loop-driving agent over the shared tool registry.
// The provider is registered as the "llm" tool if the registry does not
// already have one.
func NewReActAgent(card AgentCard, provider Provider, registry *ToolRegistry, opts ...ReActOption) *ReActAgent {
	a := &ReActAgent{
		card:     card,
		provider: provider,
		registry: registry,
		maxIter:  defaultMaxIterations,
		model:    card.Model,
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(a)
	}
	if _, err := registry.Get(LLMToolName); err != nil && provider != nil {
		registry.Register(NewLLMTool(provider, a.model))
	}
	return a
}

// Card returns the agent's identity.
func (a *ReActAgent) Card() AgentCard { return a.card }

// ProcessTask starts the loop in the background and returns its event stream.
func (a *ReActAgent) ProcessTask(ctx context.Context, task *Task) (<-chan Event, error) {
	if task == nil {
		return nil, &ArgumentError{Field: "task", Reason: "required"}
	}
	ch := make(chan Event, 16)
	go a.run(ctx, task, ch)
	return ch, nil
}

func (a *ReActAgent) run(ctx context.Context, task *Task, ch chan<- Event) {
	defer close(ch)

	var span Span
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, "agent.process_task",
			StringAttr("agent.id", a.card.ID),
			StringAttr("task.id", task.ID))
		defer span.End()
	}

	emit(ctx, ch, StatusEvent{State: TaskWorking})

	chain := NewChain(task.ID, a.card.ID, task.TenantID)
	if a.chains != nil {
		a.chains.Register(chain)
	}
	executor := NewToolExecutor(a.registry,
		WithRateLimiter(a.limiter),
		WithCostTracker(a.costs),
		WithExecutorTracer(a.tracer),
		WithExecutorLogger(a.logger))
	engine := NewReasoningEngine(chain, executor, WithEngineLogger(a.logger))

	if a.skill != nil {
		if _, err := executor.ActivateSkill(a.skill); err != nil {
			a.fail(ctx, ch, chain, span, "skill_activation_failed", err.Error())
			return
		}
		defer executor.DeactivateSkill(a.skill.Metadata.Name)
	}

	userInput := lastUserInput(task)

	for _, g := range a.guards {
		err := g.CheckInput(ctx, userInput)
		if err == nil {
			continue
		}
		var halt *HaltError
		if errors.As(err, &halt) {
			// Guard halts end the task gracefully with the canned response.
			emit(ctx, ch, TextMessage(halt.Response, VisibilitySummary))
			chain.SetStatus(ChainCompleted)
			emit(ctx, ch, DoneEvent{FinalState: TaskCompleted})
			return
		}
		a.fail(ctx, ch, chain, span, "guard_error", err.Error())
		return
	}

	var history []ChatMessage

	for iteration := 1; iteration <= a.maxIter; iteration++ {
		emit(ctx, ch, TextMessage(fmt.Sprintf("Iteration %d", iteration), VisibilityFull))

		msgs := make([]ChatMessage, 0, len(history)+2)
		msgs = append(msgs, SystemMessage(a.buildPrompt(engine, iteration)))
		msgs = append(msgs, UserMessage(userInput))
		msgs = append(msgs, history...)

		res, err := engine.CallLLM(ctx, LLMCall{Messages: msgs, Model: a.model})
		if err != nil {
			a.fail(ctx, ch, chain, span, "llm_call_invalid", err.Error())
			return
		}
		if !res.Success {
			a.fail(ctx, ch, chain, span, "llm_error", res.Error)
			return
		}

		action, perr := ParseModelAction(res.Value)
		if perr != nil {
			// Malformed responses burn an iteration; the diagnostic goes back
			// to the model as an observation.
			diag := "response was not valid action JSON: " + perr.Error()
			engine.AddThinking(diag, nil)
			emit(ctx, ch, TextMessage("Thought: "+diag, VisibilityFull))
			history = append(history,
				AssistantMessage(res.Value),
				UserMessage("Observation: "+diag))
			continue
		}

		if action.Thought != "" {
			engine.AddThinking(action.Thought, nil)
			emit(ctx, ch, TextMessage("Thought: "+action.Thought, VisibilityFull))
		}

		switch {
		case action.IsFinal:
			engine.AddSynthesis(action.FinalAnswer, nil)
			emit(ctx, ch, TextMessage("Final answer: "+action.FinalAnswer, VisibilitySummary))
			if err := chain.Validate(); err != nil {
				a.fail(ctx, ch, chain, span, "chain_integrity", err.Error())
				return
			}
			chain.SetStatus(ChainCompleted)
			emit(ctx, ch, DoneEvent{FinalState: TaskCompleted})
			return

		case action.ClarificationQuestion != "":
			emit(ctx, ch, TextMessage(action.ClarificationQuestion, VisibilitySummary))
			emit(ctx, ch, StatusEvent{State: TaskInputRequired})
			chain.SetStatus(ChainPaused)
			emit(ctx, ch, DoneEvent{FinalState: TaskInputRequired})
			return

		case action.Action != "":
			emit(ctx, ch, TextMessage("Action: "+action.Action, VisibilitySummary))
			obs := a.executeAction(ctx, engine, action)
			emit(ctx, ch, TextMessage("Observation: "+obs, VisibilityFull))
			history = append(history,
				AssistantMessage(res.Value),
				UserMessage("Observation: "+obs))

		default:
			diag := "response named no action, final answer, or question"
			engine.AddThinking(diag, nil)
			emit(ctx, ch, TextMessage("Thought: "+diag, VisibilityFull))
			history = append(history,
				AssistantMessage(res.Value),
				UserMessage("Observation: "+diag))
		}
	}

	exh := &ExhaustionError{Resource: "iterations", Detail: fmt.Sprintf("no terminal step after %d iterations", a.maxIter)}
	a.fail(ctx, ch, chain, span, "iteration_limit_exceeded", exh.Error())
}

// executeAction runs the named tool and renders the observation the model
// sees next iteration. Lookup and validation failures become observations
// too; the loop never aborts on a bad tool call.
func (a *ReActAgent) executeAction(ctx context.Context, engine *ReasoningEngine, action ModelAction) string {
	args := action.ActionInput
	if args == nil {
		args = map[string]any{}
	}
	cr, err := engine.CallTool(ctx, action.Action, args)
	if err != nil {
		a.logger.Warn("tool call rejected", "tool", action.Action, "error", err)
		return "tool call failed: " + err.Error()
	}
	if !cr.Success {
		return "tool call failed: " + cr.Error
	}
	return cr.Value
}

func (a *ReActAgent) fail(ctx context.Context, ch chan<- Event, chain *ReasoningChain, span Span, code, message string) {
	a.logger.Error("task failed", "task", chain.TaskID, "code", code, "error", message)
	if span != nil {
		span.SetAttr(StringAttr("task.error_code", code))
	}
	chain.SetStatus(ChainFailed)
	emit(ctx, ch, ErrorEvent{Code: code, Message: message})
	emit(ctx, ch, DoneEvent{FinalState: TaskFailed})
}

// buildPrompt assembles the per-iteration system prompt: skill identity and
// body, the tool roster the active skill permits, supporting files available
// through the read tool, the response contract, and the iteration counter.
func (a *ReActAgent) buildPrompt(engine *ReasoningEngine, iteration int) string {
	var b strings.Builder

	if a.skill != nil {
		fmt.Fprintf(&b, "# Skill: %s\n\n%s\n\n", a.skill.Metadata.Name, a.skill.Metadata.Description)
		b.WriteString(a.skill.Content)
		b.WriteString("\n\n")
	} else {
		fmt.Fprintf(&b, "You are %s. %s\n\n", a.card.Name, a.card.Description)
	}

	b.WriteString("## Available tools\n\n")
	for _, def := range engine.AvailableTools() {
		if def.Name == LLMToolName {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		for _, p := range def.Parameters {
			req := ""
			if p.Required {
				req = ", required"
			}
			fmt.Fprintf(&b, "    - %s (%s%s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}

	if a.skill != nil && len(a.skill.SupportingFiles) > 0 {
		b.WriteString("\n## Available files\n\n")
		b.WriteString("Use the read tool to open any of these when needed:\n")
		for _, f := range a.skill.SupportingFiles {
			if f.Lines > 0 {
				fmt.Fprintf(&b, "- %s: %s (%d lines)\n", f.Name, f.Description, f.Lines)
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Description)
			}
		}
	}

	b.WriteString(`
## Response format

Respond with a single JSON object:
{"thought": "...", "action": "tool_name", "action_input": {...}, "is_final": false, "final_answer": "...", "clarification_question": "..."}

Set is_final=true with final_answer when done. Set clarification_question when you need user input. Otherwise set action and action_input.
`)
	fmt.Fprintf(&b, "\nIteration %d of %d.\n", iteration, a.maxIter)
	return b.String()
}

// lastUserInput returns the text of the most recent user message.
func lastUserInput(task *Task) string {
	for i := len(task.Messages) - 1; i >= 0; i-- {
		if task.Messages[i].Role == "user" {
			return JoinText(task.Messages[i].Parts)
		}
	}
	return ""
}

// emit sends ev unless ctx is already cancelled.
func emit(ctx context.Context, ch chan<- Event, ev Event) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
