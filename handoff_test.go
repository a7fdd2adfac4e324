package omniforge

import (
	"context"
	"strings"
	"testing"
)

func handoffFixture(t *testing.T) (*HandoffManager, *memConvStore, *Conversation) {
	t.Helper()
	convs := newMemConvStore()
	agents := NewAgentRegistry()
	agents.Register(completingAgent("orchestrator", "ok"))
	agents.Register(completingAgent("specialist", "ok"))

	conv := NewConversation("tenant-a", "user-1", "billing question")
	if err := convs.CreateConversation(context.Background(), conv); err != nil {
		t.Fatal(err)
	}
	return NewHandoffManager(convs, agents), convs, conv
}

func validRequest(threadID string) HandoffRequest {
	return HandoffRequest{
		ThreadID:       threadID,
		TenantID:       "tenant-a",
		SourceAgentID:  "orchestrator",
		TargetAgentID:  "specialist",
		ContextSummary: "user needs billing help",
		HandoffReason:  "requires billing expertise",
	}
}

func TestInitiateHandoff(t *testing.T) {
	m, _, conv := handoffFixture(t)
	ctx := context.Background()

	accept, err := m.InitiateHandoff(ctx, validRequest(conv.ID))
	if err != nil {
		t.Fatal(err)
	}
	if !accept.Accepted {
		t.Fatalf("rejected: %s", accept.RejectionReason)
	}

	session, err := m.GetActiveHandoff(ctx, conv.ID, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if session == nil || session.State != HandoffActive {
		t.Fatalf("session = %+v", session)
	}
	if session.TargetAgentID != "specialist" {
		t.Errorf("target = %s", session.TargetAgentID)
	}
}

func TestInitiateHandoffSingleActive(t *testing.T) {
	m, _, conv := handoffFixture(t)
	ctx := context.Background()

	if _, err := m.InitiateHandoff(ctx, validRequest(conv.ID)); err != nil {
		t.Fatal(err)
	}
	_, err := m.InitiateHandoff(ctx, validRequest(conv.ID))
	if err == nil {
		t.Fatal("second handoff on the same thread should fail")
	}
	if _, ok := err.(*TransitionError); !ok {
		t.Errorf("error type = %T, want *TransitionError", err)
	}
}

func TestHandoffSurvivesRestart(t *testing.T) {
	// A fresh manager over the same store must recover the active session
	// from the conversation's state metadata.
	m, convs, conv := handoffFixture(t)
	ctx := context.Background()

	if _, err := m.InitiateHandoff(ctx, validRequest(conv.ID)); err != nil {
		t.Fatal(err)
	}

	fresh := NewHandoffManager(convs, nil)
	session, err := fresh.GetActiveHandoff(ctx, conv.ID, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if session == nil || session.State != HandoffActive {
		t.Fatalf("recovered session = %+v", session)
	}
	if session.SourceAgentID != "orchestrator" || session.TargetAgentID != "specialist" {
		t.Errorf("recovered session lost fields: %+v", session)
	}

	// And the single-active invariant holds across the restart.
	if _, err := fresh.InitiateHandoff(ctx, validRequest(conv.ID)); err == nil {
		t.Fatal("recovered active handoff should block a new one")
	}
}

func TestHandoffCrossTenant(t *testing.T) {
	m, _, conv := handoffFixture(t)
	ctx := context.Background()

	if _, err := m.InitiateHandoff(ctx, validRequest(conv.ID)); err != nil {
		t.Fatal(err)
	}

	// A wrong tenant looks exactly like a missing thread.
	_, err := m.GetActiveHandoff(ctx, conv.ID, "tenant-b")
	if err == nil {
		t.Fatal("cross-tenant lookup should fail")
	}
	if _, ok := err.(*NotFoundError); !ok {
		t.Errorf("error type = %T, want *NotFoundError", err)
	}
}

func TestCompleteHandoff(t *testing.T) {
	m, _, conv := handoffFixture(t)
	ctx := context.Background()

	if _, err := m.InitiateHandoff(ctx, validRequest(conv.ID)); err != nil {
		t.Fatal(err)
	}
	err := m.CompleteHandoff(ctx, conv.ID, "tenant-a", HandoffCompleted, "refund issued", []string{"refund-123"})
	if err != nil {
		t.Fatal(err)
	}

	session, err := m.GetActiveHandoff(ctx, conv.ID, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if session != nil {
		t.Errorf("active session after completion: %+v", session)
	}

	// A new handoff may start once the previous one is closed.
	if _, err := m.InitiateHandoff(ctx, validRequest(conv.ID)); err != nil {
		t.Errorf("new handoff after completion: %v", err)
	}
}

func TestCompleteHandoffValidation(t *testing.T) {
	m, _, conv := handoffFixture(t)
	ctx := context.Background()
	if _, err := m.InitiateHandoff(ctx, validRequest(conv.ID)); err != nil {
		t.Fatal(err)
	}

	if err := m.CompleteHandoff(ctx, conv.ID, "tenant-a", "MAYBE", "", nil); err == nil {
		t.Error("unknown completion status should fail")
	}
	if err := m.CompleteHandoff(ctx, conv.ID, "tenant-a", HandoffCompleted, strings.Repeat("x", 2001), nil); err == nil {
		t.Error("oversized result summary should fail")
	}
	if err := m.CompleteHandoff(ctx, conv.ID, "tenant-a", HandoffCompleted, "ok", []string{"  "}); err == nil {
		t.Error("whitespace artifact entry should fail")
	}
}

func TestCompleteHandoffWithoutActive(t *testing.T) {
	m, _, conv := handoffFixture(t)
	err := m.CompleteHandoff(context.Background(), conv.ID, "tenant-a", HandoffCompleted, "", nil)
	if err == nil {
		t.Fatal("completing with no active handoff should fail")
	}
	if _, ok := err.(*NotFoundError); !ok {
		t.Errorf("error type = %T, want *NotFoundError", err)
	}
}

func TestHandoffRequestValidation(t *testing.T) {
	m, _, conv := handoffFixture(t)
	ctx := context.Background()

	req := validRequest(conv.ID)
	req.ThreadID = ""
	if _, err := m.InitiateHandoff(ctx, req); err == nil {
		t.Error("missing thread id should fail")
	}

	req = validRequest(conv.ID)
	req.TargetAgentID = ""
	if _, err := m.InitiateHandoff(ctx, req); err == nil {
		t.Error("missing target should fail")
	}

	req = validRequest(conv.ID)
	req.RecentMessageCount = 50
	if _, err := m.InitiateHandoff(ctx, req); err == nil {
		t.Error("out-of-range message count should fail")
	}
}

func TestHandoffUnknownTargetRejects(t *testing.T) {
	m, _, conv := handoffFixture(t)
	req := validRequest(conv.ID)
	req.TargetAgentID = "nobody"

	accept, err := m.InitiateHandoff(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if accept.Accepted {
		t.Fatal("unknown target should reject, not accept")
	}
	if !strings.Contains(accept.RejectionReason, "nobody") {
		t.Errorf("rejection reason = %q", accept.RejectionReason)
	}
	// A rejection leaves no session behind.
	session, _ := m.GetActiveHandoff(context.Background(), conv.ID, "tenant-a")
	if session != nil {
		t.Errorf("session after rejection: %+v", session)
	}
}

func TestStreamRouter(t *testing.T) {
	m, _, conv := handoffFixture(t)
	ctx := context.Background()
	router := NewStreamRouter(m, "orchestrator", nil)

	routed, err := router.RouteMessage(ctx, conv.ID, "tenant-a", "help me")
	if err != nil {
		t.Fatal(err)
	}
	if routed.TargetAgentID != "orchestrator" || routed.ViaHandoff {
		t.Errorf("routed = %+v, want orchestrator", routed)
	}
	if !strings.HasPrefix(routed.Message, OrchestratorMarker) {
		t.Errorf("message = %q, want orchestrator marker", routed.Message)
	}

	if _, err := m.InitiateHandoff(ctx, validRequest(conv.ID)); err != nil {
		t.Fatal(err)
	}
	routed, err = router.RouteMessage(ctx, conv.ID, "tenant-a", "more help")
	if err != nil {
		t.Fatal(err)
	}
	if routed.TargetAgentID != "specialist" || !routed.ViaHandoff {
		t.Errorf("routed = %+v, want handoff target", routed)
	}
	active, err := router.IsHandoffActive(ctx, conv.ID, "tenant-a")
	if err != nil || !active {
		t.Errorf("IsHandoffActive = %v, %v", active, err)
	}
}
