package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	omniforge "github.com/omniforge/omniforge"
)

const (
	stateTTL = 10 * time.Minute
	// refreshSlack refreshes tokens this long before they actually expire.
	refreshSlack = 5 * time.Minute
)

// Manager runs authorization-code flows for registered integrations. All
// collaborators arrive through the constructor; there is no process-global
// state.
type Manager struct {
	integrations map[string]IntegrationConfig
	creds        CredentialStore
	states       StateStore
	cipher       Cipher
	logger       *slog.Logger
	now          func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager over the given stores and cipher.
func NewManager(integrations []IntegrationConfig, creds CredentialStore, states StateStore, c Cipher, opts ...ManagerOption) *Manager {
	m := &Manager{
		integrations: make(map[string]IntegrationConfig, len(integrations)),
		creds:        creds,
		states:       states,
		cipher:       c,
		logger:       slog.New(slog.DiscardHandler),
		now:          time.Now,
	}
	for _, ic := range integrations {
		m.integrations[strings.ToLower(ic.Name)] = ic
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InitiateFlow starts an authorization flow. It persists a state token with a
// 10-minute expiry and returns the provider's authorize URL.
func (m *Manager) InitiateFlow(ctx context.Context, integration, userID, tenantID, sessionID string) (authURL, state string, err error) {
	ic, ok := m.integrations[strings.ToLower(integration)]
	if !ok {
		return "", "", &omniforge.NotFoundError{Kind: "integration", ID: integration}
	}

	state, err = newStateToken(integration, userID, tenantID, sessionID)
	if err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}

	now := m.now().UTC()
	fs := &FlowState{
		State:       state,
		Integration: ic.Name,
		UserID:      userID,
		TenantID:    tenantID,
		SessionID:   sessionID,
		ExpiresAt:   now.Add(stateTTL),
		CreatedAt:   now,
	}
	if err := m.states.SaveState(ctx, fs); err != nil {
		return "", "", fmt.Errorf("persist state: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", ic.ClientID)
	q.Set("redirect_uri", ic.RedirectURL)
	q.Set("response_type", "code")
	q.Set("state", state)
	q.Set("scope", strings.Join(ic.Scopes, scopeDelimiter(ic.Name)))

	m.logger.Info("oauth flow initiated", "integration", ic.Name, "user", userID, "tenant", tenantID)
	return ic.AuthURL + "?" + q.Encode(), state, nil
}

// CompleteFlow validates the state, exchanges the code, and stores the
// encrypted credential. The consumed state is deleted with the commit.
func (m *Manager) CompleteFlow(ctx context.Context, code, state, workspaceName string) (string, error) {
	fs, err := m.states.GetState(ctx, state)
	if err != nil {
		return "", &StateError{Reason: "unknown state"}
	}
	if m.now().After(fs.ExpiresAt) {
		m.states.DeleteState(ctx, state)
		return "", &StateError{Reason: "state expired"}
	}

	ic := m.integrations[strings.ToLower(fs.Integration)]
	token, err := m.oauthConfig(ic).Exchange(ctx, code)
	if err != nil {
		m.logger.Warn("code exchange failed", "integration", fs.Integration, "error", err)
		return "", &TokenError{Op: "exchange", Err: err}
	}

	cred, err := m.buildCredential(fs, token, workspaceName)
	if err != nil {
		return "", err
	}
	if err := m.creds.SaveCredential(ctx, cred); err != nil {
		return "", fmt.Errorf("persist credential: %w", err)
	}
	if err := m.states.DeleteState(ctx, state); err != nil {
		m.logger.Warn("failed to delete consumed state", "state", state, "error", err)
	}

	m.logger.Info("oauth flow completed", "integration", fs.Integration, "credential", cred.ID)
	return cred.ID, nil
}

// GetAccessToken returns the plaintext access token after an ownership check,
// refreshing first when expiry is less than five minutes away.
func (m *Manager) GetAccessToken(ctx context.Context, credentialID, userID, tenantID string) (string, error) {
	cred, err := m.creds.GetCredential(ctx, credentialID)
	if err != nil {
		return "", err
	}
	if cred.UserID != userID || cred.TenantID != tenantID {
		return "", &PermissionError{CredentialID: credentialID}
	}

	if !cred.ExpiresAt.IsZero() && m.now().After(cred.ExpiresAt.Add(-refreshSlack)) && len(cred.RefreshToken) > 0 {
		if err := m.RefreshToken(ctx, cred); err != nil {
			return "", err
		}
	}

	plain, err := m.cipher.Decrypt(cred.AccessToken)
	if err != nil {
		return "", fmt.Errorf("decrypt access token: %w", err)
	}
	return string(plain), nil
}

// RefreshToken exchanges the credential's refresh token for a fresh token set
// and updates the stored credential.
func (m *Manager) RefreshToken(ctx context.Context, cred *Credential) error {
	ic, ok := m.integrations[strings.ToLower(cred.Integration)]
	if !ok {
		return &omniforge.NotFoundError{Kind: "integration", ID: cred.Integration}
	}

	refresh, err := m.cipher.Decrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("decrypt refresh token: %w", err)
	}

	src := m.oauthConfig(ic).TokenSource(ctx, &oauth2.Token{RefreshToken: string(refresh)})
	token, err := src.Token()
	if err != nil {
		m.logger.Warn("token refresh failed", "integration", cred.Integration, "credential", cred.ID, "error", err)
		return &TokenError{Op: "refresh", Err: err}
	}

	if err := m.encryptInto(cred, token); err != nil {
		return err
	}
	cred.UpdatedAt = m.now().UTC()
	if err := m.creds.UpdateCredential(ctx, cred); err != nil {
		return fmt.Errorf("persist refreshed credential: %w", err)
	}
	m.logger.Info("token refreshed", "integration", cred.Integration, "credential", cred.ID)
	return nil
}

// CleanupExpiredStates deletes flow states past their expiry and returns how
// many were removed.
func (m *Manager) CleanupExpiredStates(ctx context.Context) (int, error) {
	n, err := m.states.DeleteExpiredStates(ctx, m.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("expired oauth states removed", "count", n)
	}
	return n, nil
}

func (m *Manager) buildCredential(fs *FlowState, token *oauth2.Token, workspaceName string) (*Credential, error) {
	now := m.now().UTC()
	cred := &Credential{
		ID:            omniforge.NewID(),
		Integration:   fs.Integration,
		UserID:        fs.UserID,
		TenantID:      fs.TenantID,
		WorkspaceName: workspaceName,
		ExpiresAt:     token.Expiry,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.encryptInto(cred, token); err != nil {
		return nil, err
	}
	return cred, nil
}

func (m *Manager) encryptInto(cred *Credential, token *oauth2.Token) error {
	access, err := m.cipher.Encrypt([]byte(token.AccessToken))
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	cred.AccessToken = access
	cred.ExpiresAt = token.Expiry
	if token.RefreshToken != "" {
		refresh, err := m.cipher.Encrypt([]byte(token.RefreshToken))
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		cred.RefreshToken = refresh
	}
	return nil
}

// oauthConfig builds the exchange config. Token requests authenticate with
// HTTP Basic client credentials.
func (m *Manager) oauthConfig(ic IntegrationConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     ic.ClientID,
		ClientSecret: ic.ClientSecret,
		RedirectURL:  ic.RedirectURL,
		Scopes:       ic.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   ic.AuthURL,
			TokenURL:  ic.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// scopeDelimiter is "+" for Notion and a space for everyone else.
func scopeDelimiter(integration string) string {
	if strings.EqualFold(integration, "notion") {
		return "+"
	}
	return " "
}

// newStateToken hashes 32 random bytes with the flow context into a
// hex-encoded state.
func newStateToken(parts ...string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(buf)
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil)), nil
}
