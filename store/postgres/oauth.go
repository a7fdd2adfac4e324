package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	omniforge "github.com/omniforge/omniforge"
	"github.com/omniforge/omniforge/oauth"
)

var (
	_ oauth.CredentialStore = (*Store)(nil)
	_ oauth.StateStore      = (*Store)(nil)
)

// SaveCredential inserts a new credential. A duplicate id fails on the
// primary key.
func (s *Store) SaveCredential(ctx context.Context, c *oauth.Credential) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO oauth_credentials
		 (id, integration, user_id, tenant_id, workspace_name, access_token, refresh_token, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Integration, c.UserID, c.TenantID, c.WorkspaceName,
		c.AccessToken, c.RefreshToken, c.ExpiresAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save credential %s: %w", c.ID, err)
	}
	return nil
}

// GetCredential loads a credential by id.
func (s *Store) GetCredential(ctx context.Context, id string) (*oauth.Credential, error) {
	var c oauth.Credential
	var expires, created, updated time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, integration, user_id, tenant_id, workspace_name, access_token, refresh_token, expires_at, created_at, updated_at
		 FROM oauth_credentials WHERE id = $1`, id).
		Scan(&c.ID, &c.Integration, &c.UserID, &c.TenantID, &c.WorkspaceName,
			&c.AccessToken, &c.RefreshToken, &expires, &created, &updated)
	if err == pgx.ErrNoRows {
		return nil, &omniforge.NotFoundError{Kind: "credential", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get credential %s: %w", id, err)
	}
	c.ExpiresAt = expires.UTC()
	c.CreatedAt = created.UTC()
	c.UpdatedAt = updated.UTC()
	return &c, nil
}

// UpdateCredential replaces an existing credential's tokens and expiry.
func (s *Store) UpdateCredential(ctx context.Context, c *oauth.Credential) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE oauth_credentials
		 SET access_token = $1, refresh_token = $2, expires_at = $3, workspace_name = $4, updated_at = $5
		 WHERE id = $6`,
		c.AccessToken, c.RefreshToken, c.ExpiresAt, c.WorkspaceName, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("postgres: update credential %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &omniforge.NotFoundError{Kind: "credential", ID: c.ID}
	}
	return nil
}

// DeleteCredential removes a credential by id.
func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM oauth_credentials WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete credential %s: %w", id, err)
	}
	return nil
}

// SaveState inserts a pending flow state.
func (s *Store) SaveState(ctx context.Context, fs *oauth.FlowState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO oauth_states (state, integration, user_id, tenant_id, session_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		fs.State, fs.Integration, fs.UserID, fs.TenantID, fs.SessionID, fs.ExpiresAt, fs.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save state: %w", err)
	}
	return nil
}

// GetState loads a flow state by its token.
func (s *Store) GetState(ctx context.Context, state string) (*oauth.FlowState, error) {
	var fs oauth.FlowState
	var expires, created time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT state, integration, user_id, tenant_id, session_id, expires_at, created_at
		 FROM oauth_states WHERE state = $1`, state).
		Scan(&fs.State, &fs.Integration, &fs.UserID, &fs.TenantID, &fs.SessionID, &expires, &created)
	if err == pgx.ErrNoRows {
		return nil, &omniforge.NotFoundError{Kind: "oauth state", ID: state}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get state: %w", err)
	}
	fs.ExpiresAt = expires.UTC()
	fs.CreatedAt = created.UTC()
	return &fs, nil
}

// DeleteState removes a flow state.
func (s *Store) DeleteState(ctx context.Context, state string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM oauth_states WHERE state = $1`, state); err != nil {
		return fmt.Errorf("postgres: delete state: %w", err)
	}
	return nil
}

// DeleteExpiredStates removes every state past its expiry and reports how
// many rows went away.
func (s *Store) DeleteExpiredStates(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired states: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
