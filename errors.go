package omniforge

import "fmt"

// NotFoundError reports a missing entity. Cross-tenant lookups collapse into
// this type so callers cannot distinguish "absent" from "owned by someone
// else".
type NotFoundError struct {
	Kind string // "agent", "task", "tool", "skill", "thread", "credential"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ArgumentError reports invalid caller-supplied input.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransitionError reports an illegal state-machine transition: task states,
// handoff states, or a skill-stack LIFO violation.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: illegal transition %s -> %s", e.Entity, e.From, e.To)
}

// SkillViolationError reports a tool call blocked by the active skill's
// restrictions. The executor converts it into a failed ToolResult so the
// reasoning loop observes the denial instead of aborting.
type SkillViolationError struct {
	Skill  string
	Tool   string
	Reason string
}

func (e *SkillViolationError) Error() string {
	return fmt.Sprintf("skill %q: cannot use tool %q: %s", e.Skill, e.Tool, e.Reason)
}

// ExhaustionError reports an exceeded resource bound: rate limits, the
// reasoning iteration cap, or a tool deadline.
type ExhaustionError struct {
	Resource string // "rate_limit", "iterations", "tool_timeout"
	Detail   string
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("%s exceeded: %s", e.Resource, e.Detail)
}

// ExternalError wraps a failure from an outside collaborator (OAuth provider,
// HTTP endpoint). Provider details stay inside; the message is safe to show.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *ExternalError) Unwrap() error { return e.Err }

// IntegrityError reports a corrupted reasoning chain or impossible metrics.
// Tasks observing one must fail.
type IntegrityError struct {
	Detail string
}

func (e *IntegrityError) Error() string { return "integrity: " + e.Detail }
