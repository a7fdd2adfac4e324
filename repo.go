package omniforge

import "context"

// TaskStore persists tasks. Saving an id that already exists is an error.
// List methods with a tenant parameter must filter strictly by it.
type TaskStore interface {
	SaveTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasksByAgent(ctx context.Context, agentID string) ([]*Task, error)
	ListTasksByTenant(ctx context.Context, tenantID string) ([]*Task, error)
	ListTasksBySkill(ctx context.Context, tenantID, skillName string) ([]*Task, error)
}

// AgentStore persists agent cards.
type AgentStore interface {
	SaveAgent(ctx context.Context, card AgentCard) error
	GetAgent(ctx context.Context, id string) (AgentCard, error)
	DeleteAgent(ctx context.Context, id string) error
	ListAgents(ctx context.Context) ([]AgentCard, error)
	ListAgentsByTenant(ctx context.Context, tenantID string) ([]AgentCard, error)
}

// ListConversationsOptions filters and pages conversation listings.
type ListConversationsOptions struct {
	UserID string // empty means all users
	Limit  int    // 0 means the store's default
	Offset int
}

// ConversationStore persists conversations and their messages. Lookups are
// tenant-scoped: a wrong tenant yields the same NotFoundError a missing id
// does. AddMessage updates the conversation's updated_at in the same
// transaction; UpdateConversation replaces state_metadata atomically.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id, tenantID string) (*Conversation, error)
	ListConversations(ctx context.Context, tenantID string, opts ListConversationsOptions) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, c *Conversation) error
	AddMessage(ctx context.Context, msg ConvMessage) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]ConvMessage, error)
	GetRecentMessages(ctx context.Context, conversationID string, n int) ([]ConvMessage, error)
}

// Store is the full persistence surface a backend implements. The sqlite and
// postgres packages provide implementations.
type Store interface {
	TaskStore
	AgentStore
	ConversationStore

	// Init creates or migrates the schema.
	Init(ctx context.Context) error
	Close() error
}
