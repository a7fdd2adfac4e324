package omniforge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ChainStatus is the lifecycle state of a reasoning chain.
type ChainStatus string

const (
	ChainRunning   ChainStatus = "RUNNING"
	ChainCompleted ChainStatus = "COMPLETED"
	ChainFailed    ChainStatus = "FAILED"
	ChainPaused    ChainStatus = "PAUSED"
)

// StepType tags the payload carried by a reasoning step.
type StepType string

const (
	StepThinking   StepType = "THINKING"
	StepToolCall   StepType = "TOOL_CALL"
	StepToolResult StepType = "TOOL_RESULT"
	StepSynthesis  StepType = "SYNTHESIS"
)

// ThinkingInfo is the payload of a THINKING step.
type ThinkingInfo struct {
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence,omitempty"` // in [0,1] when present
}

// ToolCallInfo is the payload of a TOOL_CALL step.
type ToolCallInfo struct {
	ToolName      string          `json:"tool_name"`
	ToolType      string          `json:"tool_type"`
	Parameters    json.RawMessage `json:"parameters"`
	CorrelationID string          `json:"correlation_id"`
}

// ToolResultInfo is the payload of a TOOL_RESULT step. Its CorrelationID
// matches exactly one earlier TOOL_CALL in the same chain.
type ToolResultInfo struct {
	CorrelationID string `json:"correlation_id"`
	Success       bool   `json:"success"`
	Result        string `json:"result,omitempty"`
	Error         string `json:"error,omitempty"`
}

// SynthesisInfo is the payload of a SYNTHESIS step.
type SynthesisInfo struct {
	Content string   `json:"content"`
	Sources []string `json:"sources,omitempty"` // ids of steps synthesized from
}

// ReasoningStep is one recorded event in a chain. Exactly one payload field
// is non-nil, selected by Type.
type ReasoningStep struct {
	ID           string     `json:"id"`
	StepNumber   int        `json:"step_number"`
	Type         StepType   `json:"type"`
	Timestamp    time.Time  `json:"timestamp"`
	ParentStepID string     `json:"parent_step_id,omitempty"`
	Visibility   Visibility `json:"visibility"`
	VisReason    string     `json:"visibility_reason,omitempty"`
	TokensUsed   int        `json:"tokens_used"`
	Cost         float64    `json:"cost"`

	Thinking   *ThinkingInfo   `json:"thinking,omitempty"`
	ToolCall   *ToolCallInfo   `json:"tool_call,omitempty"`
	ToolResult *ToolResultInfo `json:"tool_result,omitempty"`
	Synthesis  *SynthesisInfo  `json:"synthesis,omitempty"`
}

// ChainMetrics aggregates per-step accounting. Updated atomically with every
// AddStep; never computed lazily.
type ChainMetrics struct {
	TotalSteps  int     `json:"total_steps"`
	LLMCalls    int     `json:"llm_calls"`  // THINKING + SYNTHESIS
	ToolCalls   int     `json:"tool_calls"` // TOOL_CALL only
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// ReasoningChain is the append-only log for one task's reasoning. Step
// numbers are contiguous from 0; appends are serialized; once the status
// leaves RUNNING no further steps may be added.
type ReasoningChain struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	AgentID  string `json:"agent_id"`
	TenantID string `json:"tenant_id,omitempty"`

	mu       sync.Mutex
	status   ChainStatus
	steps    []ReasoningStep
	children []string
	metrics  ChainMetrics
}

// NewChain creates a RUNNING chain for the given task.
func NewChain(taskID, agentID, tenantID string) *ReasoningChain {
	return &ReasoningChain{
		ID:       NewID(),
		TaskID:   taskID,
		AgentID:  agentID,
		TenantID: tenantID,
		status:   ChainRunning,
	}
}

// AddStep appends a step, assigning the next step number and folding tokens
// and cost into the metrics in the same critical section. Any step number the
// caller pre-set is overwritten. Returns the stored step.
func (c *ReasoningChain) AddStep(step ReasoningStep) (ReasoningStep, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != ChainRunning {
		return ReasoningStep{}, &TransitionError{Entity: "chain " + c.ID, From: string(c.status), To: "append"}
	}
	if step.ID == "" {
		step.ID = NewID()
	}
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	step.StepNumber = len(c.steps)
	c.steps = append(c.steps, step)

	c.metrics.TotalSteps++
	c.metrics.TotalTokens += step.TokensUsed
	c.metrics.TotalCost += step.Cost
	switch step.Type {
	case StepThinking, StepSynthesis:
		c.metrics.LLMCalls++
	case StepToolCall:
		c.metrics.ToolCalls++
	}
	return step, nil
}

// AddChild links a delegated sub-chain by id. Chains reference children by
// identifier only; a chain never owns another chain's storage.
func (c *ReasoningChain) AddChild(chainID string) {
	c.mu.Lock()
	c.children = append(c.children, chainID)
	c.mu.Unlock()
}

// SetStatus moves the chain out of (or back into) RUNNING.
func (c *ReasoningChain) SetStatus(s ChainStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Status returns the current chain status.
func (c *ReasoningChain) Status() ChainStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Steps returns a copy of the recorded steps in order.
func (c *ReasoningChain) Steps() []ReasoningStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ReasoningStep(nil), c.steps...)
}

// Children returns a copy of the linked sub-chain ids.
func (c *ReasoningChain) Children() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.children...)
}

// Metrics returns a snapshot of the aggregated metrics.
func (c *ReasoningChain) Metrics() ChainMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Validate checks chain integrity: contiguous step numbers, every TOOL_RESULT
// correlated to exactly one earlier TOOL_CALL, and metrics that match the
// recorded steps. A failure is an IntegrityError and must fail the task.
func (c *ReasoningChain) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	calls := make(map[string]int)
	var want ChainMetrics
	for i, s := range c.steps {
		if s.StepNumber != i {
			return &IntegrityError{Detail: fmt.Sprintf("chain %s: step %d numbered %d", c.ID, i, s.StepNumber)}
		}
		want.TotalSteps++
		want.TotalTokens += s.TokensUsed
		want.TotalCost += s.Cost
		switch s.Type {
		case StepThinking, StepSynthesis:
			want.LLMCalls++
		case StepToolCall:
			if s.ToolCall == nil {
				return &IntegrityError{Detail: fmt.Sprintf("chain %s: TOOL_CALL step %d has no payload", c.ID, i)}
			}
			want.ToolCalls++
			calls[s.ToolCall.CorrelationID]++
		case StepToolResult:
			if s.ToolResult == nil {
				return &IntegrityError{Detail: fmt.Sprintf("chain %s: TOOL_RESULT step %d has no payload", c.ID, i)}
			}
			if calls[s.ToolResult.CorrelationID] != 1 {
				return &IntegrityError{Detail: fmt.Sprintf(
					"chain %s: TOOL_RESULT %q has %d matching earlier TOOL_CALLs, want 1",
					c.ID, s.ToolResult.CorrelationID, calls[s.ToolResult.CorrelationID])}
			}
		}
	}
	if want != c.metrics {
		return &IntegrityError{Detail: fmt.Sprintf("chain %s: metrics %+v do not match steps %+v", c.ID, c.metrics, want)}
	}
	return nil
}
