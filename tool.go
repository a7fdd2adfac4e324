package omniforge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ToolParameter declares one named argument of a tool.
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "boolean", "object", "array"
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// RetryPolicy controls re-execution of failed tool calls.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	Backoff    time.Duration `json:"backoff"`
	Multiplier float64       `json:"multiplier"`
	// RetryablePatterns are matched case-insensitively as substrings against
	// the error text. Empty means the built-in transient set applies.
	RetryablePatterns []string `json:"retryable_patterns,omitempty"`
}

// ToolDefinition describes a tool's contract: name, parameters, default
// visibility of its chain steps, execution deadline, and retry policy.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"` // "builtin", "llm", "skill", "sub_agent", ...
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
	Visibility  Visibility      `json:"visibility"`
	Timeout     time.Duration   `json:"timeout"`
	Retry       RetryPolicy     `json:"retry"`
}

// ToolCallContext travels with every tool call: correlation for chain steps,
// identity for rate limiting and cost accounting.
type ToolCallContext struct {
	CorrelationID string
	TaskID        string
	AgentID       string
	TenantID      string
	ChainID       string
}

// ToolResult is the outcome of a tool execution. Failures are values, not
// errors: the reasoning loop observes Error and adapts.
type ToolResult struct {
	Success    bool          `json:"success"`
	Result     string        `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	TokensUsed int           `json:"tokens_used"`
	Cost       float64       `json:"cost"`
	RetryCount int           `json:"retry_count"`
}

// Tool is the contract every concrete tool satisfies. Implementations live
// behind this interface (LLM call, file read/write, shell, sub-agent, skill)
// and are registered at startup.
type Tool interface {
	// Definition returns the tool's static contract.
	Definition() ToolDefinition
	// Execute runs the tool. Argument validation has already happened;
	// implementations return failed results for runtime errors and reserve
	// non-nil errors for programming mistakes.
	Execute(ctx context.Context, call ToolCallContext, args map[string]any) (ToolResult, error)
}

// ToolRegistry holds the tools available to an executor, keyed by name.
// Safe for concurrent use.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous tool.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Definition().Name] = t
	r.mu.Unlock()
}

// Get returns the tool by name, or a NotFoundError.
func (r *ToolRegistry) Get(name string) (Tool, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "tool", ID: name}
	}
	return t, nil
}

// Definitions returns all registered definitions sorted by name. A tool whose
// Definition call panics is skipped; enumeration never aborts.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		if d, ok := safeDefinition(t); ok {
			defs = append(defs, d)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func safeDefinition(t Tool) (d ToolDefinition, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return t.Definition(), true
}

// ValidateArgs checks args against the definition's declared parameters:
// required presence and primitive type agreement. Unknown argument names are
// rejected so typos surface as validation failures, not silent drops.
func ValidateArgs(def ToolDefinition, args map[string]any) error {
	declared := make(map[string]ToolParameter, len(def.Parameters))
	for _, p := range def.Parameters {
		declared[p.Name] = p
		if p.Required {
			if _, ok := args[p.Name]; !ok {
				return &ArgumentError{Field: p.Name, Reason: "required parameter missing"}
			}
		}
	}
	for name, v := range args {
		p, ok := declared[name]
		if !ok {
			return &ArgumentError{Field: name, Reason: "unknown parameter for tool " + def.Name}
		}
		if v == nil {
			continue
		}
		if !typeMatches(p.Type, v) {
			return &ArgumentError{Field: name, Reason: fmt.Sprintf("expected %s, got %T", p.Type, v)}
		}
	}
	return nil
}

func typeMatches(declared string, v any) bool {
	switch declared {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

// RateLimiter gates tool calls per tenant. Implementations must be safe for
// concurrent use; the executor shares one across tasks.
type RateLimiter interface {
	// CheckLimit returns nil when the call may proceed, or an ExhaustionError.
	CheckLimit(ctx context.Context, tenantID, toolName string) error
}

// CostTracker records per-call spend. Implementations must be safe for
// concurrent use.
type CostTracker interface {
	RecordCost(taskID, toolName string, cost float64, tokens int)
}
