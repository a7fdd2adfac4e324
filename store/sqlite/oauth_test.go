package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	omniforge "github.com/omniforge/omniforge"
	"github.com/omniforge/omniforge/oauth"
)

func TestCredentialRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	cred := &oauth.Credential{
		ID:            "cred-1",
		Integration:   "notion",
		UserID:        "user-1",
		TenantID:      "tenant-a",
		WorkspaceName: "Acme",
		AccessToken:   []byte{0x1, 0x2, 0x3},
		RefreshToken:  []byte{0x4, 0x5},
		ExpiresAt:     now.Add(time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.SaveCredential(ctx, cred); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCredential(ctx, cred); err == nil {
		t.Error("duplicate id should fail")
	}

	got, err := s.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Integration != "notion" || got.WorkspaceName != "Acme" {
		t.Errorf("credential = %+v", got)
	}
	if len(got.AccessToken) != 3 || len(got.RefreshToken) != 2 {
		t.Errorf("tokens = %v / %v", got.AccessToken, got.RefreshToken)
	}
	if !got.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("expires = %s", got.ExpiresAt)
	}

	got.AccessToken = []byte{0x9}
	got.UpdatedAt = now.Add(time.Minute)
	if err := s.UpdateCredential(ctx, got); err != nil {
		t.Fatal(err)
	}
	again, _ := s.GetCredential(ctx, "cred-1")
	if len(again.AccessToken) != 1 || !again.UpdatedAt.After(again.CreatedAt) {
		t.Errorf("updated = %+v", again)
	}

	if err := s.DeleteCredential(ctx, "cred-1"); err != nil {
		t.Fatal(err)
	}
	var nf *omniforge.NotFoundError
	if _, err := s.GetCredential(ctx, "cred-1"); !errors.As(err, &nf) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
	if err := s.UpdateCredential(ctx, got); !errors.As(err, &nf) {
		t.Errorf("update missing = %v, want NotFoundError", err)
	}
}

func TestFlowStateRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	fs := &oauth.FlowState{
		State:       "state-token-1",
		Integration: "slack",
		UserID:      "user-1",
		TenantID:    "tenant-a",
		SessionID:   "sess-1",
		ExpiresAt:   now.Add(10 * time.Minute),
		CreatedAt:   now,
	}
	if err := s.SaveState(ctx, fs); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetState(ctx, "state-token-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Integration != "slack" || got.SessionID != "sess-1" || !got.ExpiresAt.Equal(fs.ExpiresAt) {
		t.Errorf("state = %+v", got)
	}

	if err := s.DeleteState(ctx, "state-token-1"); err != nil {
		t.Fatal(err)
	}
	var nf *omniforge.NotFoundError
	if _, err := s.GetState(ctx, "state-token-1"); !errors.As(err, &nf) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestDeleteExpiredStates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		fs := &oauth.FlowState{
			State:       fmt.Sprintf("expired-%d", i),
			Integration: "slack",
			UserID:      "u",
			TenantID:    "t",
			ExpiresAt:   now.Add(-time.Minute),
			CreatedAt:   now.Add(-11 * time.Minute),
		}
		if err := s.SaveState(ctx, fs); err != nil {
			t.Fatal(err)
		}
	}
	fresh := &oauth.FlowState{
		State: "fresh", Integration: "slack", UserID: "u", TenantID: "t",
		ExpiresAt: now.Add(10 * time.Minute), CreatedAt: now,
	}
	if err := s.SaveState(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteExpiredStates(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	if _, err := s.GetState(ctx, "fresh"); err != nil {
		t.Errorf("fresh state should survive: %v", err)
	}
}
