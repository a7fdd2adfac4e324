package omniforge

import "time"

// Conversation is a long-lived message thread owned by one tenant. Its
// StateMetadata carries orchestration state that must survive restarts, most
// importantly the active handoff session under "handoff_session".
type Conversation struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	UserID        string         `json:"user_id"`
	Title         string         `json:"title,omitempty"`
	StateMetadata map[string]any `json:"state_metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewConversation creates a conversation for the tenant and user.
func NewConversation(tenantID, userID, title string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        NewID(),
		TenantID:  tenantID,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ConvMessage is one stored message in a conversation.
type ConvMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user", "agent", "system"
	Content        string    `json:"content"`
	AgentID        string    `json:"agent_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
