package omniforge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DelegationStrategy selects how a fan-out to sub-agents is executed.
type DelegationStrategy string

const (
	StrategyParallel     DelegationStrategy = "PARALLEL"
	StrategySequential   DelegationStrategy = "SEQUENTIAL"
	StrategyFirstSuccess DelegationStrategy = "FIRST_SUCCESS"
)

// SubAgentResult is the packaged outcome of one delegated execution.
type SubAgentResult struct {
	AgentID   string `json:"agent_id"`
	Success   bool   `json:"success"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// defaultDelegationTimeout bounds each delegated execution.
const defaultDelegationTimeout = 60 * time.Second

// OrchestrationManager fans a user message out to sub-agents under a
// strategy. Per-target failures are captured as results, never raised; the
// strategy decides what the caller gets back.
type OrchestrationManager struct {
	agents      *AgentRegistry
	chains      *ChainRegistry
	callTimeout time.Duration
	logger      *slog.Logger
	tracer      Tracer
}

// OrchestrationOption configures an OrchestrationManager.
type OrchestrationOption func(*OrchestrationManager)

// WithDelegationTimeout bounds each delegated agent execution.
func WithDelegationTimeout(d time.Duration) OrchestrationOption {
	return func(m *OrchestrationManager) {
		if d > 0 {
			m.callTimeout = d
		}
	}
}

// WithOrchestrationChains links delegated sub-chains to their parents.
func WithOrchestrationChains(r *ChainRegistry) OrchestrationOption {
	return func(m *OrchestrationManager) { m.chains = r }
}

// WithOrchestrationLogger sets the structured logger.
func WithOrchestrationLogger(l *slog.Logger) OrchestrationOption {
	return func(m *OrchestrationManager) { m.logger = l }
}

// WithOrchestrationTracer sets the tracer for delegation spans.
func WithOrchestrationTracer(t Tracer) OrchestrationOption {
	return func(m *OrchestrationManager) { m.tracer = t }
}

// NewOrchestrationManager creates a manager over the agent registry.
func NewOrchestrationManager(agents *AgentRegistry, opts ...OrchestrationOption) *OrchestrationManager {
	m := &OrchestrationManager{
		agents:      agents,
		callTimeout: defaultDelegationTimeout,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DelegateToAgents sends the message to every target under the strategy.
// PARALLEL and SEQUENTIAL return one result per target in input order;
// FIRST_SUCCESS returns only the winner, or every failure when none succeeds.
func (m *OrchestrationManager) DelegateToAgents(ctx context.Context, threadID, tenantID, userID, message string, targets []AgentCard, strategy DelegationStrategy) ([]SubAgentResult, error) {
	if len(targets) == 0 {
		return nil, &ArgumentError{Field: "target_cards", Reason: "at least one target required"}
	}

	var span Span
	if m.tracer != nil {
		ctx, span = m.tracer.Start(ctx, "orchestration.delegate",
			StringAttr("strategy", string(strategy)),
			IntAttr("targets", len(targets)))
		defer span.End()
	}

	switch strategy {
	case StrategyParallel:
		return m.delegateParallel(ctx, threadID, tenantID, userID, message, targets), nil
	case StrategySequential:
		return m.delegateSequential(ctx, threadID, tenantID, userID, message, targets), nil
	case StrategyFirstSuccess:
		return m.delegateFirstSuccess(ctx, threadID, tenantID, userID, message, targets), nil
	default:
		return nil, &ArgumentError{Field: "strategy", Reason: "unknown strategy " + string(strategy)}
	}
}

func (m *OrchestrationManager) delegateParallel(ctx context.Context, threadID, tenantID, userID, message string, targets []AgentCard) []SubAgentResult {
	results := make([]SubAgentResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, card := range targets {
		g.Go(func() error {
			results[i] = m.executeAgent(gctx, card, tenantID, userID, message)
			return nil
		})
	}
	g.Wait()
	return results
}

func (m *OrchestrationManager) delegateSequential(ctx context.Context, threadID, tenantID, userID, message string, targets []AgentCard) []SubAgentResult {
	results := make([]SubAgentResult, 0, len(targets))
	for _, card := range targets {
		results = append(results, m.executeAgent(ctx, card, tenantID, userID, message))
	}
	return results
}

func (m *OrchestrationManager) delegateFirstSuccess(ctx context.Context, threadID, tenantID, userID, message string, targets []AgentCard) []SubAgentResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type indexed struct {
		i int
		r SubAgentResult
	}
	ch := make(chan indexed, len(targets))
	for i, card := range targets {
		go func() {
			ch <- indexed{i: i, r: m.executeAgent(ctx, card, tenantID, userID, message)}
		}()
	}

	failures := make([]SubAgentResult, len(targets))
	for range targets {
		out := <-ch
		if out.r.Success {
			cancel()
			return []SubAgentResult{out.r}
		}
		failures[out.i] = out.r
	}
	return failures
}

// executeAgent runs one target to completion under the per-call deadline,
// accumulating its text output.
func (m *OrchestrationManager) executeAgent(ctx context.Context, card AgentCard, tenantID, userID, message string) SubAgentResult {
	start := time.Now()
	result := SubAgentResult{AgentID: card.ID}
	finish := func() SubAgentResult {
		result.LatencyMS = time.Since(start).Milliseconds()
		return result
	}

	agent, err := m.agents.Get(card.ID)
	if err != nil {
		result.Error = err.Error()
		return finish()
	}

	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	task := NewTask(card.ID, TaskRequest{
		TenantID: tenantID,
		UserID:   userID,
		Parts:    []MessagePart{{Text: message}},
	})
	stream, err := agent.ProcessTask(ctx, task)
	if err != nil {
		result.Error = err.Error()
		return finish()
	}

	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			result.Error = "deadline exceeded: " + ctx.Err().Error()
			return finish()
		case ev, ok := <-stream:
			if !ok {
				result.Error = "stream ended without a terminal event"
				return finish()
			}
			switch e := ev.(type) {
			case MessageEvent:
				if !e.IsPartial {
					b.WriteString(JoinText(e.Parts))
					b.WriteString("\n")
				}
			case ErrorEvent:
				result.Error = fmt.Sprintf("%s: %s", e.Code, e.Message)
			case DoneEvent:
				if e.FinalState == TaskCompleted {
					result.Success = true
					result.Response = strings.TrimSpace(b.String())
				} else if result.Error == "" {
					result.Error = "finished in state " + string(e.FinalState)
				}
				m.linkSubChain(task.ID)
				return finish()
			}
		}
	}
}

// linkSubChain is best-effort bookkeeping; delegation succeeds regardless.
func (m *OrchestrationManager) linkSubChain(taskID string) {
	if m.chains == nil {
		return
	}
	if _, err := m.chains.ByTask(taskID); err != nil {
		m.logger.Debug("no chain recorded for delegated task", "task", taskID)
	}
}

// SynthesizeResponses folds delegation results into a short text block.
func SynthesizeResponses(results []SubAgentResult) string {
	var successes []SubAgentResult
	for _, r := range results {
		if r.Success {
			successes = append(successes, r)
		}
	}
	switch {
	case len(results) == 0:
		return "No responses received"
	case len(successes) == 0:
		return "All sub-agents failed"
	case len(successes) == 1:
		return successes[0].Response
	default:
		var b strings.Builder
		for i, r := range successes {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "From %s:\n%s", r.AgentID, r.Response)
		}
		return b.String()
	}
}
