package skill

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const (
	defaultInjectTimeout   = 30 * time.Second
	defaultMaxInjectOutput = 10 * 1024
	truncationMarker       = "\n[output truncated]"
	blockedMarker          = "[blocked by security policy]"
)

// injectTokenRe matches !`command` pre-execution tokens in a skill body.
var injectTokenRe = regexp.MustCompile("!`([^`\n]+)`")

// forbiddenSubstrings reject shell control operators outright; injected
// commands run a single program with literal arguments, never a pipeline.
var forbiddenSubstrings = []string{
	";", "&&", "||", "|", ">>", ">", "<<", "<", "`", "$(", "\n", "\r",
}

// Injector pre-executes !`command` tokens in skill bodies, inlining their
// stdout. Commands must be authorized by the activation's allowed-tools and
// survive the sanitizer; everything else is replaced with a blocked marker.
type Injector struct {
	allowedTools []string // the skill's allowed-tools entries; nil = unrestricted
	timeout      time.Duration
	maxOutput    int
	logger       *slog.Logger
}

// InjectorOption configures an Injector.
type InjectorOption func(*Injector)

// WithInjectTimeout overrides the per-command wall-clock limit.
func WithInjectTimeout(d time.Duration) InjectorOption {
	return func(in *Injector) {
		if d > 0 {
			in.timeout = d
		}
	}
}

// WithMaxOutput overrides the output cap in bytes.
func WithMaxOutput(n int) InjectorOption {
	return func(in *Injector) {
		if n > 0 {
			in.maxOutput = n
		}
	}
}

// WithInjectorLogger sets the structured logger.
func WithInjectorLogger(l *slog.Logger) InjectorOption {
	return func(in *Injector) { in.logger = l }
}

// NewInjector creates an injector authorized by the given allowed-tools
// entries. A nil list permits all commands; that configuration logs a
// prominent warning on first use.
func NewInjector(allowedTools []string, opts ...InjectorOption) *Injector {
	in := &Injector{
		allowedTools: allowedTools,
		timeout:      defaultInjectTimeout,
		maxOutput:    defaultMaxInjectOutput,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Process replaces every !`command` token in body with the command's output,
// a blocked marker, or a failure marker.
func (in *Injector) Process(ctx context.Context, body string) string {
	if in.allowedTools == nil && injectTokenRe.MatchString(body) {
		in.logger.Warn("command injection is unrestricted: no allowed-tools configured; configure an allow-list in production")
	}
	return injectTokenRe.ReplaceAllStringFunc(body, func(token string) string {
		command := strings.TrimSpace(injectTokenRe.FindStringSubmatch(token)[1])
		return in.runCommand(ctx, command)
	})
}

func (in *Injector) runCommand(ctx context.Context, command string) string {
	tokens, err := in.authorize(command)
	if err != nil {
		in.logger.Warn("injected command blocked", "command", command, "reason", err)
		return blockedMarker
	}

	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, tokens[0], tokens[1:]...)
	out, err := cmd.Output()
	if err != nil {
		in.logger.Warn("injected command failed", "command", command, "error", err)
		return fmt.Sprintf("[Command failed: %v]", err)
	}

	result := strings.TrimRight(string(out), "\n")
	if len(result) > in.maxOutput {
		result = result[:in.maxOutput] + truncationMarker
	}
	in.logger.Info("injected command executed", "command", command, "output_bytes", len(result))
	return result
}

// authorize sanitizes and allow-checks the command, returning its tokens.
func (in *Injector) authorize(command string) ([]string, error) {
	for _, bad := range forbiddenSubstrings {
		if strings.Contains(command, bad) {
			return nil, fmt.Errorf("contains forbidden operator %q", bad)
		}
	}

	tokens, err := tokenize(command)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	for _, t := range tokens {
		if strings.Contains(t, "..") {
			return nil, fmt.Errorf("token %q contains path traversal", t)
		}
	}
	if strings.HasPrefix(tokens[0], "/") {
		return nil, fmt.Errorf("absolute command path %q", tokens[0])
	}

	if in.allowedTools == nil {
		return tokens, nil
	}
	for _, entry := range in.allowedTools {
		if bashEntryAuthorizes(entry, tokens[0]) {
			return tokens, nil
		}
	}
	return nil, fmt.Errorf("command %q not covered by allowed-tools", tokens[0])
}

// bashEntryAuthorizes reports whether one allowed-tools entry covers the base
// command: bare "Bash" covers everything, "Bash(git:*)" covers git.
func bashEntryAuthorizes(entry, base string) bool {
	entry = strings.TrimSpace(entry)
	if strings.EqualFold(entry, "Bash") {
		return true
	}
	m := scopedToolRe.FindStringSubmatch(entry)
	if m == nil || !strings.EqualFold(m[1], "Bash") {
		return false
	}
	prefix := strings.TrimSuffix(m[2], ":*")
	prefix = strings.TrimSuffix(prefix, "*")
	prefix = strings.TrimSpace(prefix)
	return prefix != "" && base == prefix
}

// tokenize splits a command shell-style, honouring single and double quotes.
// Unclosed quotes are an error.
func tokenize(command string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inSingle, inDouble := false, false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range command {
		switch {
		case inSingle:
			if r == '\'' {
				inSingle = false
			} else {
				cur.WriteRune(r)
			}
		case inDouble:
			if r == '"' {
				inDouble = false
			} else {
				cur.WriteRune(r)
			}
		case r == '\'':
			inSingle = true
		case r == '"':
			inDouble = true
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if inSingle || inDouble {
		return nil, fmt.Errorf("unclosed quote")
	}
	flush()
	return tokens, nil
}
