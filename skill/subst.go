package skill

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// varRe matches $VAR and ${VAR}: uppercase letters, digits, underscores.
var varRe = regexp.MustCompile(`\$(?:\{([A-Z][A-Z0-9_]*)\}|([A-Z][A-Z0-9_]*))`)

// SubstitutionContext supplies the values substituted into a skill body
// before it enters the first prompt. Custom entries override standard ones.
type SubstitutionContext struct {
	Arguments string
	SessionID string
	SkillDir  string
	Workspace string
	User      string
	Date      string // defaults to today (YYYY-MM-DD)
	Custom    map[string]string
}

// Substitutor replaces $VAR references in skill bodies. Undefined variables
// are left untouched and logged once each; substitution is idempotent.
type Substitutor struct {
	vars   map[string]string
	logger *slog.Logger

	mu     sync.Mutex
	warned map[string]bool
}

// NewSubstitutor builds a substitutor from the context.
func NewSubstitutor(sc SubstitutionContext, logger *slog.Logger) *Substitutor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	date := sc.Date
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	vars := map[string]string{
		"ARGUMENTS":         sc.Arguments,
		"SESSION_ID":        sc.SessionID,
		"CLAUDE_SESSION_ID": sc.SessionID,
		"SKILL_DIR":         sc.SkillDir,
		"WORKSPACE":         sc.Workspace,
		"USER":              sc.User,
		"DATE":              date,
	}
	for k, v := range sc.Custom {
		vars[k] = v
	}
	return &Substitutor{vars: vars, logger: logger, warned: make(map[string]bool)}
}

// Substitute replaces every defined $VAR / ${VAR} in body. When ARGUMENTS is
// non-empty and the body never referenced it, the value is appended so the
// model always sees the caller's arguments.
func (s *Substitutor) Substitute(body string) string {
	sawArguments := false
	out := varRe.ReplaceAllStringFunc(body, func(match string) string {
		name := varRe.FindStringSubmatch(match)
		key := name[1]
		if key == "" {
			key = name[2]
		}
		if key == "ARGUMENTS" {
			sawArguments = true
		}
		val, ok := s.vars[key]
		if !ok {
			s.warnOnce(key)
			return match
		}
		return val
	})

	if args := s.vars["ARGUMENTS"]; args != "" && !sawArguments && !strings.Contains(out, args) {
		out += "\n\nARGUMENTS: " + args
	}
	return out
}

func (s *Substitutor) warnOnce(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warned[name] {
		return
	}
	s.warned[name] = true
	s.logger.Warn("undefined substitution variable left in place", "variable", name)
}
