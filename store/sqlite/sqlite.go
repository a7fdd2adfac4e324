// Package sqlite implements omniforge.Store plus the oauth stores using
// pure-Go SQLite. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	omniforge "github.com/omniforge/omniforge"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. If not set, no logs are
// emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements omniforge.Store backed by a local SQLite file. Records
// keep their natural keys as columns and the full document as JSON, so
// filters stay in SQL while the domain types stay the single source of shape.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ omniforge.Store = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath. A single shared
// connection serializes all writers, eliminating SQLITE_BUSY errors from
// concurrent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			skill_name TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			doc TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_tenant ON tasks(tenant_id)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL DEFAULT '',
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			state_metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_tenant ON conversations(tenant_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON conversation_messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS oauth_credentials (
			id TEXT PRIMARY KEY,
			integration TEXT NOT NULL,
			user_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			workspace_name TEXT NOT NULL DEFAULT '',
			access_token BLOB NOT NULL,
			refresh_token BLOB,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_states (
			state TEXT PRIMARY KEY,
			integration TEXT NOT NULL,
			user_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth_states_expiry ON oauth_states(expires_at)`,
	}
	for _, q := range tables {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	s.logger.Debug("sqlite: init done", "duration", time.Since(start))
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// --- Tasks ---

// SaveTask inserts a new task. A duplicate id fails on the primary key.
func (s *Store) SaveTask(ctx context.Context, t *omniforge.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("sqlite: encode task: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, agent_id, tenant_id, skill_name, state, doc, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AgentID, t.TenantID, t.SkillName, string(t.State), string(doc),
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: save task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*omniforge.Task, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, &omniforge.NotFoundError{Kind: "task", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get task %s: %w", id, err)
	}
	return decodeTask(doc)
}

// UpdateTask replaces an existing task.
func (s *Store) UpdateTask(ctx context.Context, t *omniforge.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("sqlite: encode task: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, skill_name = ?, doc = ?, updated_at = ? WHERE id = ?`,
		string(t.State), t.SkillName, string(doc), t.UpdatedAt.UnixMilli(), t.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update task %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &omniforge.NotFoundError{Kind: "task", ID: t.ID}
	}
	return nil
}

// DeleteTask removes a task by id.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete task %s: %w", id, err)
	}
	return nil
}

// ListTasksByAgent returns the agent's tasks, newest first.
func (s *Store) ListTasksByAgent(ctx context.Context, agentID string) ([]*omniforge.Task, error) {
	return s.listTasks(ctx, `SELECT doc FROM tasks WHERE agent_id = ? ORDER BY created_at DESC`, agentID)
}

// ListTasksByTenant returns the tenant's tasks, newest first.
func (s *Store) ListTasksByTenant(ctx context.Context, tenantID string) ([]*omniforge.Task, error) {
	return s.listTasks(ctx, `SELECT doc FROM tasks WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
}

// ListTasksBySkill returns the tenant's tasks for one skill, newest first.
func (s *Store) ListTasksBySkill(ctx context.Context, tenantID, skillName string) ([]*omniforge.Task, error) {
	return s.listTasks(ctx,
		`SELECT doc FROM tasks WHERE tenant_id = ? AND skill_name = ? ORDER BY created_at DESC`,
		tenantID, skillName)
}

func (s *Store) listTasks(ctx context.Context, query string, args ...any) ([]*omniforge.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*omniforge.Task
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		t, err := decodeTask(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func decodeTask(doc string) (*omniforge.Task, error) {
	var t omniforge.Task
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("sqlite: decode task: %w", err)
	}
	return &t, nil
}

// --- Agents ---

// SaveAgent inserts or replaces an agent card.
func (s *Store) SaveAgent(ctx context.Context, card omniforge.AgentCard) error {
	doc, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("sqlite: encode agent: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (id, tenant_id, doc) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET tenant_id = excluded.tenant_id, doc = excluded.doc`,
		card.ID, card.TenantID, string(doc))
	if err != nil {
		return fmt.Errorf("sqlite: save agent %s: %w", card.ID, err)
	}
	return nil
}

// GetAgent loads an agent card by id.
func (s *Store) GetAgent(ctx context.Context, id string) (omniforge.AgentCard, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM agents WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return omniforge.AgentCard{}, &omniforge.NotFoundError{Kind: "agent", ID: id}
	}
	if err != nil {
		return omniforge.AgentCard{}, fmt.Errorf("sqlite: get agent %s: %w", id, err)
	}
	var card omniforge.AgentCard
	if err := json.Unmarshal([]byte(doc), &card); err != nil {
		return omniforge.AgentCard{}, fmt.Errorf("sqlite: decode agent: %w", err)
	}
	return card, nil
}

// DeleteAgent removes an agent card.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete agent %s: %w", id, err)
	}
	return nil
}

// ListAgents returns every stored card ordered by id.
func (s *Store) ListAgents(ctx context.Context) ([]omniforge.AgentCard, error) {
	return s.listAgents(ctx, `SELECT doc FROM agents ORDER BY id`)
}

// ListAgentsByTenant returns the tenant's cards ordered by id.
func (s *Store) ListAgentsByTenant(ctx context.Context, tenantID string) ([]omniforge.AgentCard, error) {
	return s.listAgents(ctx, `SELECT doc FROM agents WHERE tenant_id = ? ORDER BY id`, tenantID)
}

func (s *Store) listAgents(ctx context.Context, query string, args ...any) ([]omniforge.AgentCard, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list agents: %w", err)
	}
	defer rows.Close()

	var out []omniforge.AgentCard
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var card omniforge.AgentCard
		if err := json.Unmarshal([]byte(doc), &card); err != nil {
			return nil, fmt.Errorf("sqlite: decode agent: %w", err)
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
		return fmt.Errorf("sqlite: encode state metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, tenant_id, user_id, title, state_metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.UserID, c.Title, string(meta),
		c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: create conversation %s: %w", c.ID, err)
	}
	return nil
}

// GetConversation loads a conversation. The tenant filter is part of the
// lookup: a wrong tenant is indistinguishable from a missing id.
func (s *Store) GetConversation(ctx context.Context, id, tenantID string) (*omniforge.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, title, state_metadata, created_at, updated_at
		 FROM conversations WHERE id = ? AND tenant_id = ?`, id, tenantID)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, &omniforge.NotFoundError{Kind: "conversation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get conversation %s: %w", id, err)
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
	          FROM conversations WHERE tenant_id = ?`
	args := []any{tenantID}
	if opts.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, opts.UserID)
	}
	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list conversations: %w", err)
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
		return fmt.Errorf("sqlite: encode state metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET user_id = ?, title = ?, state_metadata = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ?`,
		c.UserID, c.Title, string(meta), c.UpdatedAt.UnixMilli(), c.ID, c.TenantID)
	if err != nil {
		return fmt.Errorf("sqlite: update conversation %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &omniforge.NotFoundError{Kind: "conversation", ID: c.ID}
	}
	return nil
}

// AddMessage stores a message and bumps the conversation's updated_at in the
// same transaction.
func (s *Store) AddMessage(ctx context.Context, msg omniforge.ConvMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_messages (id, conversation_id, role, content, agent_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.AgentID, msg.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("sqlite: add message %s: %w", msg.ID, err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt.UnixMilli(), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("sqlite: touch conversation %s: %w", msg.ConversationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &omniforge.NotFoundError{Kind: "conversation", ID: msg.ConversationID}
	}
	return tx.Commit()
}

// GetMessages returns the conversation's messages oldest first, up to limit
// (0 means all).
func (s *Store) GetMessages(ctx context.Context, conversationID string, limit int) ([]omniforge.ConvMessage, error) {
	query := `SELECT id, conversation_id, role, content, agent_id, created_at
	          FROM conversation_messages WHERE conversation_id = ? ORDER BY created_at ASC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryMessages(ctx, query, args...)
}

// GetRecentMessages returns the n newest messages, oldest first.
func (s *Store) GetRecentMessages(ctx context.Context, conversationID string, n int) ([]omniforge.ConvMessage, error) {
	msgs, err := s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, agent_id, created_at
		 FROM conversation_messages WHERE conversation_id = ?
		 ORDER BY created_at DESC LIMIT ?`, conversationID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]omniforge.ConvMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list messages: %w", err)
	}
	defer rows.Close()

	var out []omniforge.ConvMessage
	for rows.Next() {
		var m omniforge.ConvMessage
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.AgentID, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*omniforge.Conversation, error) {
	var c omniforge.Conversation
	var meta string
	var created, updated int64
	if err := row.Scan(&c.ID, &c.TenantID, &c.UserID, &c.Title, &meta, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &c.StateMetadata); err != nil {
		return nil, fmt.Errorf("sqlite: decode state metadata: %w", err)
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return &c, nil
}

func metaOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
