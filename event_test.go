package omniforge

import (
	"context"
	"strings"
	"testing"
)

func filterAll(role Role, events ...Event) []Event {
	in := make(chan Event, len(events))
	for _, ev := range events {
		in <- ev
	}
	close(in)
	return drainEvents(FilterStream(context.Background(), in, role))
}

func TestFilterStreamEndUser(t *testing.T) {
	out := filterAll(RoleEndUser,
		StatusEvent{State: TaskWorking},
		TextMessage("Thought: internal reasoning", VisibilityFull),
		TextMessage("Action: read", VisibilitySummary),
		TextMessage("secret trace", VisibilityHidden),
		DoneEvent{FinalState: TaskCompleted},
	)

	if len(out) != 3 {
		t.Fatalf("events = %d, want status + summary message + done", len(out))
	}
	for _, ev := range out {
		if m, ok := ev.(MessageEvent); ok {
			if strings.Contains(JoinText(m.Parts), "internal reasoning") {
				t.Error("FULL message leaked to end user")
			}
		}
	}
	if _, ok := out[len(out)-1].(DoneEvent); !ok {
		t.Error("DoneEvent must always pass the filter")
	}
}

func TestFilterStreamDeveloperSeesFull(t *testing.T) {
	out := filterAll(RoleDeveloper,
		TextMessage("Thought: internal", VisibilityFull),
		TextMessage("hidden", VisibilityHidden),
		DoneEvent{FinalState: TaskCompleted},
	)
	if len(out) != 2 {
		t.Fatalf("events = %d, want FULL message + done (HIDDEN dropped)", len(out))
	}
}

func TestFilterStreamHiddenNeverForwarded(t *testing.T) {
	for _, role := range []Role{RoleEndUser, RoleDeveloper, RoleAuditor, RoleOperator} {
		out := filterAll(role, TextMessage("x", VisibilityHidden), DoneEvent{FinalState: TaskCompleted})
		if len(out) != 1 {
			t.Errorf("role %s received a HIDDEN event", role)
		}
	}
}

func TestFilterStreamRedacts(t *testing.T) {
	out := filterAll(RoleDeveloper,
		TextMessage("connecting with api_key=sk-abc123 done", VisibilityFull),
		DoneEvent{FinalState: TaskCompleted},
	)
	m := out[0].(MessageEvent)
	text := JoinText(m.Parts)
	if strings.Contains(text, "sk-abc123") {
		t.Fatalf("credential survived redaction: %q", text)
	}
	if !strings.Contains(text, "api_key=[REDACTED]") {
		t.Errorf("redacted text = %q", text)
	}
}

func TestRedact(t *testing.T) {
	cases := []struct {
		in       string
		leaked   string
		expected string
	}{
		{"password=hunter2 rest", "hunter2", "password=[REDACTED]"},
		{"token = abc.def.ghi", "abc.def.ghi", "token = [REDACTED]"},
		{"secret=shh", "shh", "secret=[REDACTED]"},
		{"Authorization: Bearer xyz", "xyz", "Authorization: [REDACTED]"},
		// NFKC collapses fullwidth forms before matching.
		{"ａｐｉ_ｋｅｙ=12345secret99", "12345secret99", "[REDACTED]"},
	}
	for _, c := range cases {
		got := Redact(c.in)
		if strings.Contains(got, c.leaked) {
			t.Errorf("Redact(%q) = %q, leaked %q", c.in, got, c.leaked)
		}
		if !strings.Contains(got, c.expected) {
			t.Errorf("Redact(%q) = %q, want %q", c.in, got, c.expected)
		}
	}
}

func TestRedactLeavesCleanTextAlone(t *testing.T) {
	in := "reading notes.txt and summarizing"
	if got := Redact(in); got != in {
		t.Errorf("Redact(%q) = %q", in, got)
	}
}

func TestFilterStreamContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan Event)
	out := FilterStream(ctx, in, RoleDeveloper)
	cancel()
	if _, ok := <-out; ok {
		// A race may deliver zero or the channel may just close; any further
		// receive must fail.
		if _, ok := <-out; ok {
			t.Fatal("stream still open after cancel")
		}
	}
}

func TestMessageEventDefaultVisibility(t *testing.T) {
	if got := (MessageEvent{}).EventVisibility(); got != VisibilityFull {
		t.Errorf("default visibility = %s, want FULL", got)
	}
}
