package omniforge

import (
	"context"
	"log/slog"
)

// OrchestratorMarker prefixes messages routed to the orchestrator agent.
const OrchestratorMarker = "[ORCHESTRATOR]"

// RoutedMessage is a routing decision for one incoming user message.
type RoutedMessage struct {
	TargetAgentID string
	Message       string // original text with the routing marker prefixed
	ViaHandoff    bool
}

// StreamRouter decides, per incoming message, whether a thread's traffic goes
// to the handoff target or the orchestrator. The check-then-act is safe
// because only the message-producing writer mutates handoff state.
type StreamRouter struct {
	handoffs       *HandoffManager
	orchestratorID string
	logger         *slog.Logger
}

// NewStreamRouter creates a router that defaults to the given orchestrator.
func NewStreamRouter(handoffs *HandoffManager, orchestratorID string, logger *slog.Logger) *StreamRouter {
	if logger == nil {
		logger = nopLogger
	}
	return &StreamRouter{handoffs: handoffs, orchestratorID: orchestratorID, logger: logger}
}

// RouteMessage returns where the message should go and the marked-up text.
func (r *StreamRouter) RouteMessage(ctx context.Context, threadID, tenantID, text string) (RoutedMessage, error) {
	session, err := r.handoffs.GetActiveHandoff(ctx, threadID, tenantID)
	if err != nil {
		return RoutedMessage{}, err
	}
	if session != nil {
		r.logger.Debug("routing to handoff target", "thread", threadID, "target", session.TargetAgentID)
		return RoutedMessage{
			TargetAgentID: session.TargetAgentID,
			Message:       "[HANDOFF:" + session.TargetAgentID + "] " + text,
			ViaHandoff:    true,
		}, nil
	}
	return RoutedMessage{
		TargetAgentID: r.orchestratorID,
		Message:       OrchestratorMarker + " " + text,
	}, nil
}

// IsHandoffActive reports whether the thread currently has an active handoff.
func (r *StreamRouter) IsHandoffActive(ctx context.Context, threadID, tenantID string) (bool, error) {
	session, err := r.handoffs.GetActiveHandoff(ctx, threadID, tenantID)
	if err != nil {
		return false, err
	}
	return session != nil, nil
}
