package omniforge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Handoff session states.
const (
	HandoffActive    = "ACTIVE"
	HandoffCompleted = "COMPLETED"
	HandoffCancelled = "CANCELLED"
	HandoffError     = "ERROR"
)

// handoffMetadataKey is where the session lives inside a conversation's
// state_metadata. Persistence there is what makes handoffs survive restarts.
const handoffMetadataKey = "handoff_session"

const (
	maxSummaryLen             = 2000
	defaultRecentMessageCount = 5
	maxRecentMessageCount     = 20
)

// HandoffRequest asks a target agent to take over a thread.
type HandoffRequest struct {
	ThreadID           string    `json:"thread_id"`
	TenantID           string    `json:"tenant_id"`
	SourceAgentID      string    `json:"source_agent_id"`
	TargetAgentID      string    `json:"target_agent_id"`
	ContextSummary     string    `json:"context_summary"`
	HandoffReason      string    `json:"handoff_reason"`
	RecentMessageCount int       `json:"recent_message_count"`
	PreserveState      bool      `json:"preserve_state"`
	ReturnExpected     bool      `json:"return_expected"`
	Timestamp          time.Time `json:"timestamp"`
}

// HandoffAccept is the target's answer to a request.
type HandoffAccept struct {
	ThreadID                 string    `json:"thread_id"`
	TenantID                 string    `json:"tenant_id"`
	TargetAgentID            string    `json:"target_agent_id"`
	Accepted                 bool      `json:"accepted"`
	RejectionReason          string    `json:"rejection_reason,omitempty"`
	EstimatedDurationSeconds int       `json:"estimated_duration_seconds,omitempty"`
	Timestamp                time.Time `json:"timestamp"`
}

// HandoffReturn closes out a handoff with its outcome.
type HandoffReturn struct {
	ThreadID         string    `json:"thread_id"`
	TenantID         string    `json:"tenant_id"`
	CompletionStatus string    `json:"completion_status"` // COMPLETED, CANCELLED, ERROR
	ResultSummary    string    `json:"result_summary,omitempty"`
	ArtifactsCreated []string  `json:"artifacts_created,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// HandoffSession is the persisted record of one handoff on a thread.
type HandoffSession struct {
	ThreadID           string    `json:"thread_id"`
	TenantID           string    `json:"tenant_id"`
	SourceAgentID      string    `json:"source_agent_id"`
	TargetAgentID      string    `json:"target_agent_id"`
	State              string    `json:"state"`
	ContextSummary     string    `json:"context_summary"`
	HandoffReason      string    `json:"handoff_reason"`
	RecentMessageCount int       `json:"recent_message_count"`
	PreserveState      bool      `json:"preserve_state"`
	ReturnExpected     bool      `json:"return_expected"`
	ResultSummary      string    `json:"result_summary,omitempty"`
	ArtifactsCreated   []string  `json:"artifacts_created,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HandoffManager enforces the single-active-handoff invariant per thread.
// The cache is a fast path only; the conversation store is authoritative, so
// a fresh manager instance recovers active handoffs from persistence.
type HandoffManager struct {
	convs  ConversationStore
	agents *AgentRegistry
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*HandoffSession // by thread id
}

// HandoffOption configures a HandoffManager.
type HandoffOption func(*HandoffManager)

// WithHandoffLogger sets the structured logger.
func WithHandoffLogger(l *slog.Logger) HandoffOption {
	return func(m *HandoffManager) { m.logger = l }
}

// NewHandoffManager creates a manager over the conversation store.
func NewHandoffManager(convs ConversationStore, agents *AgentRegistry, opts ...HandoffOption) *HandoffManager {
	m := &HandoffManager{
		convs:  convs,
		agents: agents,
		logger: nopLogger,
		cache:  make(map[string]*HandoffSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InitiateHandoff starts a handoff on the thread. Fails when another handoff
// is already ACTIVE there, in cache or in persistence. On success the session
// is persisted into the conversation's state metadata before the accept is
// returned.
func (m *HandoffManager) InitiateHandoff(ctx context.Context, req HandoffRequest) (*HandoffAccept, error) {
	if err := validateHandoffRequest(&req); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache[req.ThreadID]; ok && s.State == HandoffActive {
		return nil, &TransitionError{Entity: "handoff thread " + req.ThreadID, From: HandoffActive, To: "initiate"}
	}

	conv, err := m.convs.GetConversation(ctx, req.ThreadID, req.TenantID)
	if err != nil {
		return nil, err
	}
	if s := sessionFromMetadata(conv.StateMetadata); s != nil && s.State == HandoffActive {
		m.cache[req.ThreadID] = s
		return nil, &TransitionError{Entity: "handoff thread " + req.ThreadID, From: HandoffActive, To: "initiate"}
	}

	accept := m.askTarget(req)
	if !accept.Accepted {
		return accept, nil
	}

	now := time.Now().UTC()
	session := &HandoffSession{
		ThreadID:           req.ThreadID,
		TenantID:           req.TenantID,
		SourceAgentID:      req.SourceAgentID,
		TargetAgentID:      req.TargetAgentID,
		State:              HandoffActive,
		ContextSummary:     req.ContextSummary,
		HandoffReason:      req.HandoffReason,
		RecentMessageCount: req.RecentMessageCount,
		PreserveState:      req.PreserveState,
		ReturnExpected:     req.ReturnExpected,
		StartedAt:          now,
		UpdatedAt:          now,
	}
	if err := m.persistSession(ctx, conv, session); err != nil {
		return nil, err
	}
	m.cache[req.ThreadID] = session
	m.logger.Info("handoff initiated",
		"thread", req.ThreadID, "source", req.SourceAgentID, "target", req.TargetAgentID)
	return accept, nil
}

// GetActiveHandoff returns the ACTIVE session for the thread, or nil when the
// thread has none. A wrong tenant fails exactly like a missing thread.
func (m *HandoffManager) GetActiveHandoff(ctx context.Context, threadID, tenantID string) (*HandoffSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked(ctx, threadID, tenantID)
}

func (m *HandoffManager) activeLocked(ctx context.Context, threadID, tenantID string) (*HandoffSession, error) {
	if s, ok := m.cache[threadID]; ok && s.State == HandoffActive {
		if s.TenantID != tenantID {
			return nil, &NotFoundError{Kind: "conversation", ID: threadID}
		}
		return s, nil
	}

	conv, err := m.convs.GetConversation(ctx, threadID, tenantID)
	if err != nil {
		return nil, err
	}
	s := sessionFromMetadata(conv.StateMetadata)
	if s == nil || s.State != HandoffActive {
		return nil, nil
	}
	m.cache[threadID] = s
	return s, nil
}

// CompleteHandoff finishes the thread's active handoff with the given status
// and evicts the cache entry. Status must be COMPLETED, CANCELLED, or ERROR.
func (m *HandoffManager) CompleteHandoff(ctx context.Context, threadID, tenantID, status, resultSummary string, artifacts []string) error {
	switch status {
	case HandoffCompleted, HandoffCancelled, HandoffError:
	default:
		return &ArgumentError{Field: "completion_status", Reason: "must be COMPLETED, CANCELLED, or ERROR"}
	}
	if len(resultSummary) > maxSummaryLen {
		return &ArgumentError{Field: "result_summary", Reason: fmt.Sprintf("exceeds %d characters", maxSummaryLen)}
	}
	for _, a := range artifacts {
		if strings.TrimSpace(a) == "" {
			return &ArgumentError{Field: "artifacts_created", Reason: "entries must not be empty or whitespace"}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.activeLocked(ctx, threadID, tenantID)
	if err != nil {
		return err
	}
	if session == nil {
		return &NotFoundError{Kind: "handoff", ID: threadID}
	}

	conv, err := m.convs.GetConversation(ctx, threadID, tenantID)
	if err != nil {
		return err
	}
	session.State = status
	session.ResultSummary = resultSummary
	session.ArtifactsCreated = artifacts
	session.UpdatedAt = time.Now().UTC()
	if err := m.persistSession(ctx, conv, session); err != nil {
		return err
	}
	delete(m.cache, threadID)
	m.logger.Info("handoff finished", "thread", threadID, "status", status)
	return nil
}

// CancelHandoff cancels the thread's active handoff.
func (m *HandoffManager) CancelHandoff(ctx context.Context, threadID, tenantID string) error {
	return m.CompleteHandoff(ctx, threadID, tenantID, HandoffCancelled, "", nil)
}

// askTarget resolves the target agent and synthesizes its accept. An unknown
// target rejects rather than erroring, so the source can route elsewhere.
func (m *HandoffManager) askTarget(req HandoffRequest) *HandoffAccept {
	accept := &HandoffAccept{
		ThreadID:      req.ThreadID,
		TenantID:      req.TenantID,
		TargetAgentID: req.TargetAgentID,
		Timestamp:     time.Now().UTC(),
	}
	if m.agents != nil {
		if _, err := m.agents.Get(req.TargetAgentID); err != nil {
			accept.Accepted = false
			accept.RejectionReason = "unknown agent: " + req.TargetAgentID
			return accept
		}
	}
	accept.Accepted = true
	return accept
}

func (m *HandoffManager) persistSession(ctx context.Context, conv *Conversation, s *HandoffSession) error {
	if conv.StateMetadata == nil {
		conv.StateMetadata = make(map[string]any)
	}
	conv.StateMetadata[handoffMetadataKey] = sessionToMetadata(s)
	conv.UpdatedAt = time.Now().UTC()
	if err := m.convs.UpdateConversation(ctx, conv); err != nil {
		return fmt.Errorf("persist handoff session: %w", err)
	}
	return nil
}

func validateHandoffRequest(req *HandoffRequest) error {
	if req.ThreadID == "" {
		return &ArgumentError{Field: "thread_id", Reason: "required"}
	}
	if req.TargetAgentID == "" {
		return &ArgumentError{Field: "target_agent_id", Reason: "required"}
	}
	if len(req.ContextSummary) > maxSummaryLen {
		return &ArgumentError{Field: "context_summary", Reason: fmt.Sprintf("exceeds %d characters", maxSummaryLen)}
	}
	if req.RecentMessageCount == 0 {
		req.RecentMessageCount = defaultRecentMessageCount
	}
	if req.RecentMessageCount < 1 || req.RecentMessageCount > maxRecentMessageCount {
		return &ArgumentError{Field: "recent_message_count", Reason: fmt.Sprintf("must be in [1,%d]", maxRecentMessageCount)}
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	return nil
}

// sessionToMetadata converts the session to the JSON-shaped map stored in
// state_metadata, so every store backend serializes it identically.
func sessionToMetadata(s *HandoffSession) map[string]any {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// sessionFromMetadata reads a session back out of state_metadata. Returns nil
// when none is recorded or the shape is unreadable.
func sessionFromMetadata(meta map[string]any) *HandoffSession {
	if meta == nil {
		return nil
	}
	raw, ok := meta[handoffMetadataKey]
	if !ok {
		return nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var s HandoffSession
	if err := json.Unmarshal(buf, &s); err != nil {
		return nil
	}
	if s.ThreadID == "" {
		return nil
	}
	return &s
}
