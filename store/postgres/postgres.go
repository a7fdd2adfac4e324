// Package postgres implements omniforge.Store plus the oauth stores using
// PostgreSQL via pgx.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	omniforge "github.com/omniforge/omniforge"
)

// Store implements omniforge.Store backed by PostgreSQL. State metadata and
// document bodies use jsonb so handoff sessions are queryable in place.
type Store struct {
	pool *pgxpool.Pool
}

var _ omniforge.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			skill_name TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			doc JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_tenant ON tasks(tenant_id)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL DEFAULT '',
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			state_metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_tenant ON conversations(tenant_id, updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON conversation_messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS oauth_credentials (
			id TEXT PRIMARY KEY,
			integration TEXT NOT NULL,
			user_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			workspace_name TEXT NOT NULL DEFAULT '',
			access_token BYTEA NOT NULL,
			refresh_token BYTEA,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_states (
			state TEXT PRIMARY KEY,
			integration TEXT NOT NULL,
			user_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth_states_expiry ON oauth_states(expires_at)`,
	}
	for _, q := range tables {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the pool is externally owned.
func (s *Store) Close() error { return nil }

// --- Tasks ---

// SaveTask inserts a new task. A duplicate id fails on the primary key.
func (s *Store) SaveTask(ctx context.Context, t *omniforge.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("postgres: encode task: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (id, agent_id, tenant_id, skill_name, state, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.AgentID, t.TenantID, t.SkillName, string(t.State), doc, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*omniforge.Task, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM tasks WHERE id = $1`, id).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, &omniforge.NotFoundError{Kind: "task", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get task %s: %w", id, err)
	}
	var t omniforge.Task
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("postgres: decode task: %w", err)
	}
	return &t, nil
}

// UpdateTask replaces an existing task.
func (s *Store) UpdateTask(ctx context.Context, t *omniforge.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("postgres: encode task: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET state = $1, skill_name = $2, doc = $3, updated_at = $4 WHERE id = $5`,
		string(t.State), t.SkillName, doc, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("postgres: update task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &omniforge.NotFoundError{Kind: "task", ID: t.ID}
	}
	return nil
}

// DeleteTask removes a task by id.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete task %s: %w", id, err)
	}
	return nil
}

// ListTasksByAgent returns the agent's tasks, newest first.
func (s *Store) ListTasksByAgent(ctx context.Context, agentID string) ([]*omniforge.Task, error) {
	return s.listTasks(ctx, `SELECT doc FROM tasks WHERE agent_id = $1 ORDER BY created_at DESC`, agentID)
}

// ListTasksByTenant returns the tenant's tasks, newest first.
func (s *Store) ListTasksByTenant(ctx context.Context, tenantID string) ([]*omniforge.Task, error) {
	return s.listTasks(ctx, `SELECT doc FROM tasks WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
}

// ListTasksBySkill returns the tenant's tasks for one skill, newest first.
func (s *Store) ListTasksBySkill(ctx context.Context, tenantID, skillName string) ([]*omniforge.Task, error) {
	return s.listTasks(ctx,
		`SELECT doc FROM tasks WHERE tenant_id = $1 AND skill_name = $2 ORDER BY created_at DESC`,
		tenantID, skillName)
}

func (s *Store) listTasks(ctx context.Context, query string, args ...any) ([]*omniforge.Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*omniforge.Task
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t omniforge.Task
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, fmt.Errorf("postgres: decode task: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// --- Agents ---

// SaveAgent inserts or replaces an agent card.
func (s *Store) SaveAgent(ctx context.Context, card omniforge.AgentCard) error {
	doc, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("postgres: encode agent: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agents (id, tenant_id, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id, doc = EXCLUDED.doc`,
		card.ID, card.TenantID, doc)
	if err != nil {
		return fmt.Errorf("postgres: save agent %s: %w", card.ID, err)
	}
	return nil
}

// GetAgent loads an agent card by id.
func (s *Store) GetAgent(ctx context.Context, id string) (omniforge.AgentCard, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM agents WHERE id = $1`, id).Scan(&doc)
	if err == pgx.ErrNoRows {
		return omniforge.AgentCard{}, &omniforge.NotFoundError{Kind: "agent", ID: id}
	}
	if err != nil {
		return omniforge.AgentCard{}, fmt.Errorf("postgres: get agent %s: %w", id, err)
	}
	var card omniforge.AgentCard
	if err := json.Unmarshal(doc, &card); err != nil {
		return omniforge.AgentCard{}, fmt.Errorf("postgres: decode agent: %w", err)
	}
	return card, nil
}

// DeleteAgent removes an agent card.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete agent %s: %w", id, err)
	}
	return nil
}

// ListAgents returns every stored card ordered by id.
func (s *Store) ListAgents(ctx context.Context) ([]omniforge.AgentCard, error) {
	return s.listAgents(ctx, `SELECT doc FROM agents ORDER BY id`)
}

// ListAgentsByTenant returns the tenant's cards ordered by id.
func (s *Store) ListAgentsByTenant(ctx context.Context, tenantID string) ([]omniforge.AgentCard, error) {
	return s.listAgents(ctx, `SELECT doc FROM agents WHERE tenant_id = $1 ORDER BY id`, tenantID)
}

func (s *Store) listAgents(ctx context.Context, query string, args ...any) ([]omniforge.AgentCard, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var out []omniforge.AgentCard
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var card omniforge.AgentCard
		if err := json.Unmarshal(doc, &card); err != nil {
			return nil, fmt.Errorf("postgres: decode agent: %w", err)
		}
		out = append(out, card)
	}
	return out, rows.Err()
}

// --- Conversations ---

// CreateConversation inserts a new conversation. A duplicate id fails on the
// primary key.
func (s *Store) CreateConversation(ctx context.Context, c *omniforge.Conversation) error {
	meta, err := json.Marshal(metaOrEmpty(c.StateMetadata))
	if err != nil {
		return fmt.Errorf("postgres: encode state metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (id, tenant_id, user_id, title, state_metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.TenantID, c.UserID, c.Title, meta, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create conversation %s: %w", c.ID, err)
	}
	return nil
}

// GetConversation loads a conversation under its tenant. A wrong tenant is
// indistinguishable from a missing id.
func (s *Store) GetConversation(ctx context.Context, id, tenantID string) (*omniforge.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, user_id, title, state_metadata, created_at, updated_at
		 FROM conversations WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	c, err := scanConversation(row)
	if err == pgx.ErrNoRows {
		return nil, &omniforge.NotFoundError{Kind: "conversation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get conversation %s: %w", id, err)
	}
	return c, nil
}

// ListConversations pages the tenant's conversations, most recently updated
// first.
func (s *Store) ListConversations(ctx context.Context, tenantID string, opts omniforge.ListConversationsOptions) ([]*omniforge.Conversation, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, tenant_id, user_id, title, state_metadata, created_at, updated_at
	          FROM conversations WHERE tenant_id = $1`
	args := []any{tenantID}
	if opts.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, len(args)+1)
		args = append(args, opts.UserID)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list conversations: %w", err)
	}
	defer rows.Close()

	var out []*omniforge.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConversation replaces the conversation row, including its state
// metadata, in one statement.
func (s *Store) UpdateConversation(ctx context.Context, c *omniforge.Conversation) error {
	meta, err := json.Marshal(metaOrEmpty(c.StateMetadata))
	if err != nil {
		return fmt.Errorf("postgres: encode state metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET user_id = $1, title = $2, state_metadata = $3, updated_at = $4
		 WHERE id = $5 AND tenant_id = $6`,
		c.UserID, c.Title, meta, c.UpdatedAt, c.ID, c.TenantID)
	if err != nil {
		return fmt.Errorf("postgres: update conversation %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &omniforge.NotFoundError{Kind: "conversation", ID: c.ID}
	}
	return nil
}

// AddMessage stores a message and bumps the conversation's updated_at in the
// same transaction.
func (s *Store) AddMessage(ctx context.Context, msg omniforge.ConvMessage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_messages (id, conversation_id, role, content, agent_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.AgentID, msg.CreatedAt); err != nil {
		return fmt.Errorf("postgres: add message %s: %w", msg.ID, err)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2`,
		msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("postgres: touch conversation %s: %w", msg.ConversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return &omniforge.NotFoundError{Kind: "conversation", ID: msg.ConversationID}
	}
	return tx.Commit(ctx)
}

// GetMessages returns the conversation's messages oldest first, up to limit
// (0 means all).
func (s *Store) GetMessages(ctx context.Context, conversationID string, limit int) ([]omniforge.ConvMessage, error) {
	query := `SELECT id, conversation_id, role, content, agent_id, created_at
	          FROM conversation_messages WHERE conversation_id = $1 ORDER BY created_at ASC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.queryMessages(ctx, query, args...)
}

// GetRecentMessages returns the n newest messages, oldest first.
func (s *Store) GetRecentMessages(ctx context.Context, conversationID string, n int) ([]omniforge.ConvMessage, error) {
	msgs, err := s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, agent_id, created_at
		 FROM conversation_messages WHERE conversation_id = $1
		 ORDER BY created_at DESC LIMIT $2`, conversationID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]omniforge.ConvMessage, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	defer rows.Close()

	var out []omniforge.ConvMessage
	for rows.Next() {
		var m omniforge.ConvMessage
		var created time.Time
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.AgentID, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = created.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*omniforge.Conversation, error) {
	var c omniforge.Conversation
	var meta []byte
	var created, updated time.Time
	if err := row.Scan(&c.ID, &c.TenantID, &c.UserID, &c.Title, &meta, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &c.StateMetadata); err != nil {
		return nil, fmt.Errorf("postgres: decode state metadata: %w", err)
	}
	c.CreatedAt = created.UTC()
	c.UpdatedAt = updated.UTC()
	return &c, nil
}

func metaOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
