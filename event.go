package omniforge

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Visibility classifies how widely an event may be shown.
type Visibility string

const (
	// VisibilityFull is detailed internal output: thoughts, observations,
	// per-iteration traces. Developers only.
	VisibilityFull Visibility = "FULL"
	// VisibilitySummary is high-level progress safe for end users.
	VisibilitySummary Visibility = "SUMMARY"
	// VisibilityHidden is never forwarded to any role.
	VisibilityHidden Visibility = "HIDDEN"
)

// Role identifies the consumer of a filtered event stream.
type Role string

const (
	RoleEndUser   Role = "END_USER"
	RoleDeveloper Role = "DEVELOPER"
	RoleAuditor   Role = "AUDITOR"
	RoleOperator  Role = "OPERATOR"
)

// roleVisible maps a role to the visibility levels it receives.
var roleVisible = map[Role]map[Visibility]bool{
	RoleEndUser:   {VisibilitySummary: true},
	RoleDeveloper: {VisibilityFull: true, VisibilitySummary: true},
	RoleAuditor:   {VisibilityFull: true, VisibilitySummary: true},
	RoleOperator:  {VisibilitySummary: true},
}

// Event is a tagged lifecycle event emitted by an agent during ProcessTask.
// The concrete type selects the payload; there is no catch-all struct.
type Event interface {
	// EventVisibility returns the event's visibility level. DoneEvents have
	// none and are always forwarded.
	EventVisibility() Visibility
}

// StatusEvent announces a task state change.
type StatusEvent struct {
	State TaskState
}

func (StatusEvent) EventVisibility() Visibility { return VisibilitySummary }

// MessageEvent carries agent output. Iteration traces, thoughts, and
// observations are FULL; "Action: x" and final answers are SUMMARY.
type MessageEvent struct {
	Parts      []MessagePart
	IsPartial  bool
	Visibility Visibility
}

func (e MessageEvent) EventVisibility() Visibility {
	if e.Visibility == "" {
		return VisibilityFull
	}
	return e.Visibility
}

// ArtifactEvent carries a produced artifact.
type ArtifactEvent struct {
	Artifact Artifact
}

func (ArtifactEvent) EventVisibility() Visibility { return VisibilitySummary }

// ErrorEvent reports a task failure with a machine code.
type ErrorEvent struct {
	Code    string
	Message string
}

func (ErrorEvent) EventVisibility() Visibility { return VisibilitySummary }

// DoneEvent terminates an event stream. It carries no visibility and always
// passes the filter unmodified.
type DoneEvent struct {
	FinalState TaskState
}

func (DoneEvent) EventVisibility() Visibility { return "" }

// sensitivePatterns match credential-bearing assignments in message text.
// The value capture is replaced wholesale; keys survive so logs stay legible.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api_key\s*=\s*)\S+`),
	regexp.MustCompile(`(?i)(password\s*=\s*)\S+`),
	regexp.MustCompile(`(?i)(token\s*=\s*)\S+`),
	regexp.MustCompile(`(?i)(secret\s*=\s*)\S+`),
	regexp.MustCompile(`(?i)(authorization:\s*)\S+(?:\s+\S+)?`),
}

// Redact rewrites credential values in s to [REDACTED]. An NFKC pre-pass
// collapses fullwidth and compatibility forms so obfuscated keys still match.
func Redact(s string) string {
	out := norm.NFKC.String(s)
	for _, re := range sensitivePatterns {
		out = re.ReplaceAllString(out, "${1}[REDACTED]")
	}
	return out
}

// redactEvent returns ev with all message text parts redacted.
// Non-message events carry no free text and pass through.
func redactEvent(ev Event) Event {
	me, ok := ev.(MessageEvent)
	if !ok {
		return ev
	}
	parts := make([]MessagePart, len(me.Parts))
	for i, p := range me.Parts {
		parts[i] = MessagePart{Text: Redact(p.Text)}
	}
	me.Parts = parts
	return me
}

// FilterStream forwards events from in that the role may see, with sensitive
// values redacted from message text. DoneEvents pass through unmodified.
// The returned channel closes when in closes or ctx is cancelled.
func FilterStream(ctx context.Context, in <-chan Event, role Role) <-chan Event {
	out := make(chan Event)
	visible := roleVisible[role]
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					return
				}
				if _, done := ev.(DoneEvent); done {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
					continue
				}
				if !visible[ev.EventVisibility()] {
					continue
				}
				select {
				case out <- redactEvent(ev):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// TextMessage builds a single-part MessageEvent with the given visibility.
func TextMessage(text string, vis Visibility) MessageEvent {
	return MessageEvent{Parts: []MessagePart{{Text: text}}, Visibility: vis}
}

// JoinText concatenates the text of all parts with no separator.
func JoinText(parts []MessagePart) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
