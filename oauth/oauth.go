// Package oauth implements the authorization-code grant with refresh for
// third-party integrations: state generation and validation, code exchange,
// encrypted credential storage, and 5-minute-early token refresh.
package oauth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"time"
)

// IntegrationConfig describes one OAuth-capable integration.
type IntegrationConfig struct {
	Name         string // lowercase, e.g. "notion", "slack"
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

// Credential is a stored token set for one (integration, user, tenant).
// Token fields hold ciphertext; only the manager sees plaintext.
type Credential struct {
	ID            string    `json:"id"`
	Integration   string    `json:"integration"`
	UserID        string    `json:"user_id"`
	TenantID      string    `json:"tenant_id"`
	WorkspaceName string    `json:"workspace_name,omitempty"`
	AccessToken   []byte    `json:"-"`
	RefreshToken  []byte    `json:"-"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FlowState is a pending authorization flow, keyed by its state token.
type FlowState struct {
	State       string    `json:"state"`
	Integration string    `json:"integration"`
	UserID      string    `json:"user_id"`
	TenantID    string    `json:"tenant_id"`
	SessionID   string    `json:"session_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// CredentialStore persists credentials.
type CredentialStore interface {
	SaveCredential(ctx context.Context, c *Credential) error
	GetCredential(ctx context.Context, id string) (*Credential, error)
	UpdateCredential(ctx context.Context, c *Credential) error
	DeleteCredential(ctx context.Context, id string) error
}

// StateStore persists pending flow states with an expiry index.
// DeleteExpiredStates returns the number of states deleted.
type StateStore interface {
	SaveState(ctx context.Context, s *FlowState) error
	GetState(ctx context.Context, state string) (*FlowState, error)
	DeleteState(ctx context.Context, state string) error
	DeleteExpiredStates(ctx context.Context, before time.Time) (int, error)
}

// Cipher encrypts tokens at rest.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// StateError reports an invalid, unknown, or expired flow state.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string { return "oauth state invalid: " + e.Reason }

// TokenError reports a failed exchange or refresh. Provider detail stays in
// the wrapped error for logs; Error() is deliberately opaque.
type TokenError struct {
	Op  string
	Err error
}

func (e *TokenError) Error() string { return "oauth " + e.Op + " failed" }
func (e *TokenError) Unwrap() error { return e.Err }

// PermissionError reports an ownership-check failure.
type PermissionError struct {
	CredentialID string
}

func (e *PermissionError) Error() string {
	return "not authorized for credential " + e.CredentialID
}

// aesCipher is AES-256-GCM with a random nonce prefixed to the ciphertext.
type aesCipher struct {
	aead cipher.AEAD
}

// NewAESCipher creates a Cipher from a 32-byte key.
func NewAESCipher(key []byte) (Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cipher key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aesCipher{aead: aead}, nil
}

func (c *aesCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *aesCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, rest := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	return c.aead.Open(nil, nonce, rest, nil)
}
