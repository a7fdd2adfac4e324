// Package omniforge is a multi-tenant agent-execution engine.
//
// Clients submit natural-language tasks to named agents. The engine drives a
// reasoning loop that alternates between model calls and tool executions,
// records every step in an append-only reasoning chain, and streams typed
// lifecycle events back to the caller through a role-scoped visibility
// filter.
//
// The root package holds the execution core: the task state machine and
// manager, the reasoning chain and engine, the ReAct loop driver, the tool
// executor with skill restrictions, agent-to-agent orchestration (handoff,
// delegation, stream routing), and the event model. Subpackages provide the
// skill subsystem (skill), OAuth credential issuance (oauth), repository
// implementations (store/sqlite, store/postgres), OTEL observability
// (observer), and built-in tools (tools/file, tools/shell).
package omniforge
