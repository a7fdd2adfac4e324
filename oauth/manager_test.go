package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	omniforge "github.com/omniforge/omniforge"
)

type memCredStore struct {
	mu    sync.Mutex
	creds map[string]*Credential
}

func newMemCredStore() *memCredStore {
	return &memCredStore{creds: make(map[string]*Credential)}
}

func (s *memCredStore) SaveCredential(_ context.Context, c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.creds[c.ID] = &cp
	return nil
}

func (s *memCredStore) GetCredential(_ context.Context, id string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return nil, fmt.Errorf("credential %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *memCredStore) UpdateCredential(ctx context.Context, c *Credential) error {
	return s.SaveCredential(ctx, c)
}

func (s *memCredStore) DeleteCredential(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, id)
	return nil
}

type memStateStore struct {
	mu     sync.Mutex
	states map[string]*FlowState
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: make(map[string]*FlowState)}
}

func (s *memStateStore) SaveState(_ context.Context, fs *FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *fs
	s.states[fs.State] = &cp
	return nil
}

func (s *memStateStore) GetState(_ context.Context, state string) (*FlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.states[state]
	if !ok {
		return nil, fmt.Errorf("state not found")
	}
	cp := *fs
	return &cp, nil
}

func (s *memStateStore) DeleteState(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, state)
	return nil
}

func (s *memStateStore) DeleteExpiredStates(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, fs := range s.states {
		if fs.ExpiresAt.Before(before) {
			delete(s.states, k)
			n++
		}
	}
	return n, nil
}

// tokenServer answers every token request with the given tokens.
func tokenServer(t *testing.T, access, refresh string, expiresIn int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"refresh_token":%q,"token_type":"Bearer","expires_in":%d}`,
			access, refresh, expiresIn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func managerFixture(t *testing.T, tokenURL string) (*Manager, *memCredStore, *memStateStore) {
	t.Helper()
	cipher, err := NewAESCipher(testKey())
	if err != nil {
		t.Fatal(err)
	}
	creds := newMemCredStore()
	states := newMemStateStore()
	m := NewManager([]IntegrationConfig{
		{
			Name:         "notion",
			ClientID:     "client-1",
			ClientSecret: "hush",
			AuthURL:      "https://auth.example.com/authorize",
			TokenURL:     tokenURL,
			RedirectURL:  "https://app.example.com/callback",
			Scopes:       []string{"read", "write"},
		},
		{
			Name:        "slack",
			ClientID:    "client-2",
			AuthURL:     "https://slack.example.com/authorize",
			TokenURL:    tokenURL,
			RedirectURL: "https://app.example.com/callback",
			Scopes:      []string{"chat:write", "channels:read"},
		},
	}, creds, states, cipher)
	return m, creds, states
}

func TestInitiateFlow(t *testing.T) {
	m, _, states := managerFixture(t, "http://unused")
	ctx := context.Background()

	authURL, state, err := m.InitiateFlow(ctx, "slack", "user-1", "tenant-a", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if state == "" {
		t.Fatal("empty state token")
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("client_id") != "client-2" || q.Get("response_type") != "code" || q.Get("state") != state {
		t.Errorf("query = %v", q)
	}
	if q.Get("scope") != "chat:write channels:read" {
		t.Errorf("scope = %q", q.Get("scope"))
	}

	fs, err := states.GetState(ctx, state)
	if err != nil {
		t.Fatal(err)
	}
	if fs.Integration != "slack" || fs.UserID != "user-1" || fs.TenantID != "tenant-a" {
		t.Errorf("state = %+v", fs)
	}
	if ttl := fs.ExpiresAt.Sub(fs.CreatedAt); ttl != 10*time.Minute {
		t.Errorf("ttl = %s", ttl)
	}
}

func TestInitiateFlowNotionScopeDelimiter(t *testing.T) {
	m, _, _ := managerFixture(t, "http://unused")
	authURL, _, err := m.InitiateFlow(context.Background(), "Notion", "u", "t", "")
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(authURL)
	if got := u.Query().Get("scope"); got != "read+write" {
		t.Errorf("scope = %q, want plus-joined", got)
	}
}

func TestInitiateFlowUnknownIntegration(t *testing.T) {
	m, _, _ := managerFixture(t, "http://unused")
	_, _, err := m.InitiateFlow(context.Background(), "jira", "u", "t", "")
	var nf *omniforge.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "integration" {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestCompleteFlow(t *testing.T) {
	srv := tokenServer(t, "access-plain", "refresh-plain", 3600)
	m, creds, states := managerFixture(t, srv.URL)
	ctx := context.Background()

	_, state, err := m.InitiateFlow(ctx, "slack", "user-1", "tenant-a", "")
	if err != nil {
		t.Fatal(err)
	}

	credID, err := m.CompleteFlow(ctx, "auth-code", state, "Acme Workspace")
	if err != nil {
		t.Fatal(err)
	}

	cred, err := creds.GetCredential(ctx, credID)
	if err != nil {
		t.Fatal(err)
	}
	if cred.Integration != "slack" || cred.UserID != "user-1" || cred.WorkspaceName != "Acme Workspace" {
		t.Errorf("credential = %+v", cred)
	}
	if string(cred.AccessToken) == "access-plain" {
		t.Error("access token stored in plaintext")
	}
	if cred.ExpiresAt.IsZero() {
		t.Error("expiry not recorded")
	}

	// The consumed state is gone; replaying the callback fails.
	if _, err := states.GetState(ctx, state); err == nil {
		t.Error("consumed state should be deleted")
	}
	_, err = m.CompleteFlow(ctx, "auth-code", state, "")
	var se *StateError
	if !errors.As(err, &se) {
		t.Errorf("replay = %v, want StateError", err)
	}
}

func TestCompleteFlowExpiredState(t *testing.T) {
	m, _, states := managerFixture(t, "http://unused")
	ctx := context.Background()

	_, state, err := m.InitiateFlow(ctx, "slack", "u", "t", "")
	if err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	_, err = m.CompleteFlow(ctx, "code", state, "")
	var se *StateError
	if !errors.As(err, &se) || !strings.Contains(se.Reason, "expired") {
		t.Errorf("err = %v, want expired StateError", err)
	}
	if _, err := states.GetState(ctx, state); err == nil {
		t.Error("expired state should be deleted on rejection")
	}
}

func TestCompleteFlowExchangeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	m, _, _ := managerFixture(t, srv.URL)
	ctx := context.Background()

	_, state, _ := m.InitiateFlow(ctx, "slack", "u", "t", "")
	_, err := m.CompleteFlow(ctx, "bad-code", state, "")
	var te *TokenError
	if !errors.As(err, &te) || te.Op != "exchange" {
		t.Errorf("err = %v, want exchange TokenError", err)
	}
}

func TestGetAccessToken(t *testing.T) {
	srv := tokenServer(t, "access-plain", "refresh-plain", 3600)
	m, _, _ := managerFixture(t, srv.URL)
	ctx := context.Background()

	_, state, _ := m.InitiateFlow(ctx, "slack", "user-1", "tenant-a", "")
	credID, err := m.CompleteFlow(ctx, "code", state, "")
	if err != nil {
		t.Fatal(err)
	}

	got, err := m.GetAccessToken(ctx, credID, "user-1", "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if got != "access-plain" {
		t.Errorf("token = %q", got)
	}
}

func TestGetAccessTokenOwnership(t *testing.T) {
	srv := tokenServer(t, "a", "r", 3600)
	m, _, _ := managerFixture(t, srv.URL)
	ctx := context.Background()

	_, state, _ := m.InitiateFlow(ctx, "slack", "user-1", "tenant-a", "")
	credID, _ := m.CompleteFlow(ctx, "code", state, "")

	cases := []struct{ user, tenant string }{
		{"user-2", "tenant-a"},
		{"user-1", "tenant-b"},
	}
	for _, tc := range cases {
		_, err := m.GetAccessToken(ctx, credID, tc.user, tc.tenant)
		var pe *PermissionError
		if !errors.As(err, &pe) {
			t.Errorf("GetAccessToken(%s, %s) = %v, want PermissionError", tc.user, tc.tenant, err)
		}
	}
}

func TestGetAccessTokenRefreshesNearExpiry(t *testing.T) {
	srv := tokenServer(t, "first-token", "first-refresh", 3600)
	m, creds, _ := managerFixture(t, srv.URL)
	ctx := context.Background()

	_, state, _ := m.InitiateFlow(ctx, "slack", "user-1", "tenant-a", "")
	credID, err := m.CompleteFlow(ctx, "code", state, "")
	if err != nil {
		t.Fatal(err)
	}

	// Jump to two minutes before expiry; the refresh endpoint now serves a
	// different token.
	refreshed := tokenServer(t, "second-token", "second-refresh", 3600)
	cred, _ := creds.GetCredential(ctx, credID)
	m.now = func() time.Time { return cred.ExpiresAt.Add(-2 * time.Minute) }
	m.integrations["slack"] = IntegrationConfig{
		Name:        "slack",
		ClientID:    "client-2",
		TokenURL:    refreshed.URL,
		RedirectURL: "https://app.example.com/callback",
	}

	got, err := m.GetAccessToken(ctx, credID, "user-1", "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if got != "second-token" {
		t.Errorf("token = %q, want the refreshed one", got)
	}

	stored, _ := creds.GetCredential(ctx, credID)
	if !stored.UpdatedAt.After(stored.CreatedAt) {
		t.Error("refresh should bump UpdatedAt")
	}
}

func TestCleanupExpiredStates(t *testing.T) {
	m, _, _ := managerFixture(t, "http://unused")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := m.InitiateFlow(ctx, "slack", fmt.Sprintf("u%d", i), "t", ""); err != nil {
			t.Fatal(err)
		}
	}

	n, err := m.CleanupExpiredStates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("fresh states removed: %d", n)
	}

	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = m.CleanupExpiredStates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("removed = %d, want 3", n)
	}
}
