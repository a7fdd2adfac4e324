package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_credentials
		 (id, integration, user_id, tenant_id, workspace_name, access_token, refresh_token, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Integration, c.UserID, c.TenantID, c.WorkspaceName,
		c.AccessToken, c.RefreshToken, c.ExpiresAt.UnixMilli(),
		c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: save credential %s: %w", c.ID, err)
	}
	return nil
}

// GetCredential loads a credential by id.
func (s *Store) GetCredential(ctx context.Context, id string) (*oauth.Credential, error) {
	var c oauth.Credential
	var expires, created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, integration, user_id, tenant_id, workspace_name, access_token, refresh_token, expires_at, created_at, updated_at
		 FROM oauth_credentials WHERE id = ?`, id).
		Scan(&c.ID, &c.Integration, &c.UserID, &c.TenantID, &c.WorkspaceName,
			&c.AccessToken, &c.RefreshToken, &expires, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, &omniforge.NotFoundError{Kind: "credential", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get credential %s: %w", id, err)
	}
	c.ExpiresAt = time.UnixMilli(expires).UTC()
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return &c, nil
}

// UpdateCredential replaces an existing credential's tokens and expiry.
func (s *Store) UpdateCredential(ctx context.Context, c *oauth.Credential) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE oauth_credentials
		 SET access_token = ?, refresh_token = ?, expires_at = ?, workspace_name = ?, updated_at = ?
		 WHERE id = ?`,
		c.AccessToken, c.RefreshToken, c.ExpiresAt.UnixMilli(), c.WorkspaceName,
		c.UpdatedAt.UnixMilli(), c.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update credential %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &omniforge.NotFoundError{Kind: "credential", ID: c.ID}
	}
	return nil
}

// DeleteCredential removes a credential by id.
func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oauth_credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete credential %s: %w", id, err)
	}
	return nil
}

// SaveState inserts a pending flow state.
func (s *Store) SaveState(ctx context.Context, fs *oauth.FlowState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_states (state, integration, user_id, tenant_id, session_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fs.State, fs.Integration, fs.UserID, fs.TenantID, fs.SessionID,
		fs.ExpiresAt.UnixMilli(), fs.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: save state: %w", err)
	}
	return nil
}

// GetState loads a flow state by its token.
func (s *Store) GetState(ctx context.Context, state string) (*oauth.FlowState, error) {
	var fs oauth.FlowState
	var expires, created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT state, integration, user_id, tenant_id, session_id, expires_at, created_at
		 FROM oauth_states WHERE state = ?`, state).
		Scan(&fs.State, &fs.Integration, &fs.UserID, &fs.TenantID, &fs.SessionID, &expires, &created)
	if err == sql.ErrNoRows {
		return nil, &omniforge.NotFoundError{Kind: "oauth state", ID: state}
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get state: %w", err)
	}
	fs.ExpiresAt = time.UnixMilli(expires).UTC()
	fs.CreatedAt = time.UnixMilli(created).UTC()
	return &fs, nil
}

// DeleteState removes a flow state.
func (s *Store) DeleteState(ctx context.Context, state string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE state = ?`, state)
	if err != nil {
		return fmt.Errorf("sqlite: delete state: %w", err)
	}
	return nil
}

// DeleteExpiredStates removes every state past its expiry and reports how
// many rows went away.
func (s *Store) DeleteExpiredStates(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE expires_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete expired states: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: count deleted states: %w", err)
	}
	return int(n), nil
}
