package omniforge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// LLMToolName is the synthetic tool the reasoning engine routes model calls
// through, so model usage is correlated and rate-limited like any other tool.
const LLMToolName = "llm"

// defaultRetryablePatterns classify an error as transient when the tool's
// retry policy declares no patterns of its own.
var defaultRetryablePatterns = []string{
	"timeout", "connection", "network", "temporary", "throttle",
	"ratelimit", "rate limit", "serviceunavailable", "service unavailable",
}

// retryAfterHint extracts "try again in Ns|Nms|Nm" style durations from
// rate-limit error messages.
var retryAfterHint = regexp.MustCompile(`(?i)try again in\s+(\d+)\s*(ms|s|m)\b`)

// ToolExecutor is the security and correlation hub for one task's tool calls.
// It validates arguments, enforces the active skill's restrictions, applies
// rate limits, runs calls under retry and deadline, and writes the
// TOOL_CALL / TOOL_RESULT step pair into the reasoning chain.
//
// An executor serves a single task's loop; the skill activation stack is
// per-executor state. Tasks own their executors — do not share one across
// concurrent tasks.
type ToolExecutor struct {
	registry *ToolRegistry
	limiter  RateLimiter // optional
	costs    CostTracker // optional
	tracer   Tracer      // optional
	logger   *slog.Logger

	stack []*SkillContext
}

// ExecutorOption configures a ToolExecutor.
type ExecutorOption func(*ToolExecutor)

// WithRateLimiter sets the shared per-tenant rate limiter.
func WithRateLimiter(rl RateLimiter) ExecutorOption {
	return func(e *ToolExecutor) { e.limiter = rl }
}

// WithCostTracker sets the shared cost tracker.
func WithCostTracker(ct CostTracker) ExecutorOption {
	return func(e *ToolExecutor) { e.costs = ct }
}

// WithExecutorTracer sets the tracer for tool-call spans.
func WithExecutorTracer(t Tracer) ExecutorOption {
	return func(e *ToolExecutor) { e.tracer = t }
}

// WithExecutorLogger sets the structured logger. If not set, a no-op logger
// is used.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *ToolExecutor) { e.logger = l }
}

// NewToolExecutor creates an executor over the given registry.
func NewToolExecutor(registry *ToolRegistry, opts ...ExecutorOption) *ToolExecutor {
	e := &ToolExecutor{registry: registry, logger: nopLogger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the executor's tool registry.
func (e *ToolExecutor) Registry() *ToolRegistry { return e.registry }

// ActivateSkill pushes a skill onto the activation stack. The top skill's
// restrictions apply to every subsequent call until deactivation.
func (e *ToolExecutor) ActivateSkill(s *Skill) (*SkillContext, error) {
	for _, sc := range e.stack {
		if sc.SkillName() == s.Metadata.Name {
			return nil, &ArgumentError{Field: "skill", Reason: fmt.Sprintf("skill %q already active", s.Metadata.Name)}
		}
	}
	sc := NewSkillContext(s)
	e.stack = append(e.stack, sc)
	e.logger.Info("skill activated", "skill", s.Metadata.Name, "restricted", s.Restricted())
	return sc, nil
}

// DeactivateSkill pops the named skill. Deactivation is strictly LIFO: a name
// that is not on top fails with a TransitionError and leaves the stack
// unchanged.
func (e *ToolExecutor) DeactivateSkill(name string) error {
	if len(e.stack) == 0 {
		return &TransitionError{Entity: "skill stack", From: "empty", To: "pop " + name}
	}
	top := e.stack[len(e.stack)-1]
	if top.SkillName() != name {
		return &TransitionError{Entity: "skill stack", From: "top=" + top.SkillName(), To: "pop " + name}
	}
	top.Release()
	e.stack = e.stack[:len(e.stack)-1]
	e.logger.Info("skill deactivated", "skill", name)
	return nil
}

// ActiveSkill returns the top-of-stack context, or nil when no skill is
// active.
func (e *ToolExecutor) ActiveSkill() *SkillContext {
	if len(e.stack) == 0 {
		return nil
	}
	return e.stack[len(e.stack)-1]
}

// StackDepth returns the number of active skills.
func (e *ToolExecutor) StackDepth() int { return len(e.stack) }

// Execute runs one tool call end to end and records its chain step pair.
//
// Failures split two ways: lookup, validation, and rate-limit problems return
// a non-nil error before anything touches the chain; skill restriction
// violations and runtime tool failures return a failed ToolResult with a nil
// error so the loop observes them as observations.
func (e *ToolExecutor) Execute(ctx context.Context, toolName string, args map[string]any, call ToolCallContext, chain *ReasoningChain) (ToolResult, error) {
	tool, err := e.registry.Get(toolName)
	if err != nil {
		return ToolResult{}, err
	}
	def := tool.Definition()

	if err := ValidateArgs(def, args); err != nil {
		return ToolResult{}, err
	}

	// Skill restrictions yield failed results, recorded in the chain, so the
	// model can see the denial and route around it.
	if sc := e.ActiveSkill(); sc != nil {
		if err := sc.CheckToolAllowed(toolName); err != nil {
			return e.recordDenied(def, args, call, chain, err)
		}
		if err := sc.CheckToolArguments(toolName, args); err != nil {
			return e.recordDenied(def, args, call, chain, err)
		}
	}

	if e.limiter != nil && call.TenantID != "" {
		if err := e.limiter.CheckLimit(ctx, call.TenantID, toolName); err != nil {
			return ToolResult{}, err
		}
	}

	if call.CorrelationID == "" {
		call.CorrelationID = NewID()
	}

	if err := e.appendCallStep(chain, def, args, call); err != nil {
		return ToolResult{}, err
	}

	var span Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "tool.execute",
			StringAttr("tool.name", toolName),
			StringAttr("task.id", call.TaskID))
	}

	result := e.runWithRetry(ctx, tool, def, args, call)

	if span != nil {
		span.SetAttr(BoolAttr("tool.success", result.Success), IntAttr("tool.retries", result.RetryCount))
		if !result.Success {
			span.SetAttr(StringAttr("tool.error", result.Error))
		}
		span.End()
	}

	if e.costs != nil && (result.Cost > 0 || result.TokensUsed > 0) {
		e.costs.RecordCost(call.TaskID, toolName, result.Cost, result.TokensUsed)
	}

	if err := e.appendResultStep(chain, def, call, result); err != nil {
		return ToolResult{}, err
	}
	return result, nil
}

// recordDenied writes the call/result pair for a skill-blocked call and
// returns the failed result. The concrete tool is never invoked.
func (e *ToolExecutor) recordDenied(def ToolDefinition, args map[string]any, call ToolCallContext, chain *ReasoningChain, violation error) (ToolResult, error) {
	if call.CorrelationID == "" {
		call.CorrelationID = NewID()
	}
	if err := e.appendCallStep(chain, def, args, call); err != nil {
		return ToolResult{}, err
	}
	e.logger.Warn("tool call blocked by skill restriction", "tool", def.Name, "error", violation)
	result := ToolResult{Success: false, Error: violation.Error()}
	if err := e.appendResultStep(chain, def, call, result); err != nil {
		return ToolResult{}, err
	}
	return result, nil
}

func (e *ToolExecutor) appendCallStep(chain *ReasoningChain, def ToolDefinition, args map[string]any, call ToolCallContext) error {
	if chain == nil {
		return nil
	}
	params, err := json.Marshal(args)
	if err != nil {
		params = []byte("{}")
	}
	_, err = chain.AddStep(ReasoningStep{
		Type:       StepToolCall,
		Visibility: def.Visibility,
		ToolCall: &ToolCallInfo{
			ToolName:      def.Name,
			ToolType:      def.Type,
			Parameters:    params,
			CorrelationID: call.CorrelationID,
		},
	})
	return err
}

func (e *ToolExecutor) appendResultStep(chain *ReasoningChain, def ToolDefinition, call ToolCallContext, result ToolResult) error {
	if chain == nil {
		return nil
	}
	_, err := chain.AddStep(ReasoningStep{
		Type:       StepToolResult,
		Visibility: def.Visibility,
		TokensUsed: result.TokensUsed,
		Cost:       result.Cost,
		ToolResult: &ToolResultInfo{
			CorrelationID: call.CorrelationID,
			Success:       result.Success,
			Result:        result.Result,
			Error:         result.Error,
		},
	})
	return err
}

// runWithRetry executes the tool under its declared deadline and retry
// policy. A deadline overrun is terminal — timeouts are never retried.
func (e *ToolExecutor) runWithRetry(ctx context.Context, tool Tool, def ToolDefinition, args map[string]any, call ToolCallContext) ToolResult {
	maxRetries := def.Retry.MaxRetries
	backoff := def.Retry.Backoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	multiplier := def.Retry.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	var last ToolResult
	start := time.Now()
	for attempt := 0; ; attempt++ {
		result, timedOut := e.runOnce(ctx, tool, def, args, call)
		result.RetryCount = attempt
		result.Duration = time.Since(start)
		if result.Success || timedOut {
			return result
		}
		last = result

		if attempt >= maxRetries || !retryable(result.Error, def.Retry.RetryablePatterns) {
			return last
		}

		delay := time.Duration(float64(backoff) * pow(multiplier, attempt))
		hint, hinted := parseRetryHint(result.Error)
		if hinted {
			// The provider told us when to come back; honour it plus slack.
			delay = hint + 500*time.Millisecond
		}
		e.logger.Warn("retrying tool call",
			"tool", def.Name, "attempt", attempt+1, "max_retries", maxRetries,
			"delay", delay, "error", result.Error)

		// Rate-limited LLM calls retry with a smaller completion budget.
		// Other transient failures keep the full budget.
		if def.Name == LLMToolName && (hinted || rateLimited(result.Error)) {
			if mt, ok := numberArg(args, "max_tokens"); ok && mt > 0 {
				args["max_tokens"] = float64(int(mt * 0.7))
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			last.Error = "cancelled: " + ctx.Err().Error()
			last.Duration = time.Since(start)
			return last
		case <-timer.C:
		}
	}
}

// runOnce performs a single attempt under the tool's deadline. The second
// return value reports a deadline overrun.
func (e *ToolExecutor) runOnce(ctx context.Context, tool Tool, def ToolDefinition, args map[string]any, call ToolCallContext) (ToolResult, bool) {
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	type outcome struct {
		result ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool panic: %v", p)}
			}
		}()
		r, err := tool.Execute(ctx, call, args)
		done <- outcome{result: r, err: err}
	}()

	select {
	case <-ctx.Done():
		exh := &ExhaustionError{Resource: "tool_timeout", Detail: fmt.Sprintf("%s exceeded %s", def.Name, def.Timeout)}
		return ToolResult{Success: false, Error: exh.Error()}, true
	case o := <-done:
		if o.err != nil {
			return ToolResult{Success: false, Error: o.err.Error()}, false
		}
		return o.result, false
	}
}

// retryable reports whether the error text matches the policy's patterns, or
// the default transient set when the policy declares none.
func retryable(errText string, patterns []string) bool {
	if errText == "" {
		return false
	}
	if len(patterns) == 0 {
		patterns = defaultRetryablePatterns
	}
	lower := strings.ToLower(errText)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// rateLimited reports whether the error text names a rate or quota limit.
func rateLimited(errText string) bool {
	lower := strings.ToLower(errText)
	for _, p := range []string{"rate limit", "ratelimit", "throttle", "quota"} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// parseRetryHint extracts a provider-suggested wait from the error message.
func parseRetryHint(errText string) (time.Duration, bool) {
	m := retryAfterHint.FindStringSubmatch(errText)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "ms":
		return time.Duration(n) * time.Millisecond, true
	case "s":
		return time.Duration(n) * time.Second, true
	case "m":
		return time.Duration(n) * time.Minute, true
	}
	return 0, false
}

func numberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
