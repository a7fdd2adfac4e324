package omniforge

import "strings"

// StorageLayer identifies which filesystem layer a skill was loaded from.
// Higher layers override lower ones by skill name.
type StorageLayer string

const (
	LayerProject    StorageLayer = "project"
	LayerPersonal   StorageLayer = "personal"
	LayerEnterprise StorageLayer = "enterprise"
)

// SkillMetadata is the validated frontmatter of a SKILL.md file.
type SkillMetadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	// AllowedTools restricts tool use while the skill is active. Nil means
	// unrestricted; an empty non-nil list blocks everything.
	AllowedTools []string          `yaml:"allowed-tools,omitempty"`
	Hooks        map[string]string `yaml:"hooks,omitempty"`
	License      string            `yaml:"license,omitempty"`
	Version      string            `yaml:"version,omitempty"`
	Model        string            `yaml:"model,omitempty"`
	Mode         string            `yaml:"mode,omitempty"`
}

// Skill is an activatable instruction bundle loaded from a SKILL.md manifest.
type Skill struct {
	Metadata     SkillMetadata
	Content      string // instruction body, frontmatter stripped
	BasePath     string // skill directory
	Path         string // manifest file path
	StorageLayer StorageLayer
	// ScriptPaths maps hook role ("pre", "post", ...) to an absolute script
	// path. Active skills may not read their own scripts.
	ScriptPaths map[string]string
	// SupportingFiles are references the skill body names for on-demand
	// reading. The prompt builder lists them instead of inlining content.
	SupportingFiles []FileReference
}

// FileReference is one supporting file a skill makes available on demand.
type FileReference struct {
	Name        string
	Description string
	Lines       int // 0 when the reference did not state a line count
}

// Restricted reports whether the skill carries a tool allow-list.
func (s *Skill) Restricted() bool { return s.Metadata.AllowedTools != nil }

// SkillContext is the scoped-acquisition object created at activation. Its
// lifetime is bounded by the executor's stack; Release clears the allow-list
// so a leaked context cannot keep authorizing calls.
type SkillContext struct {
	skill       *Skill
	allowed     map[string]bool // lowercase tool names; nil = unrestricted
	scriptPaths map[string]string
	released    bool
}

// NewSkillContext builds the activation context for a skill.
func NewSkillContext(s *Skill) *SkillContext {
	c := &SkillContext{skill: s, scriptPaths: s.ScriptPaths}
	if s.Metadata.AllowedTools != nil {
		c.allowed = make(map[string]bool, len(s.Metadata.AllowedTools))
		for _, name := range s.Metadata.AllowedTools {
			// Scoped patterns like "Bash(git:*)" authorize the bare tool here;
			// the argument-level scope is enforced by the command injector.
			base := name
			if i := strings.IndexByte(base, '('); i >= 0 {
				base = base[:i]
			}
			c.allowed[strings.ToLower(strings.TrimSpace(base))] = true
		}
	}
	return c
}

// SkillName returns the owning skill's name.
func (c *SkillContext) SkillName() string { return c.skill.Metadata.Name }

// Skill returns the owning skill.
func (c *SkillContext) Skill() *Skill { return c.skill }

// CheckToolAllowed returns nil when the named tool may run under this skill.
// Matching is case-insensitive. A released context denies everything.
func (c *SkillContext) CheckToolAllowed(name string) error {
	if c.released {
		return &SkillViolationError{Skill: c.SkillName(), Tool: name, Reason: "skill context released"}
	}
	if c.allowed == nil {
		return nil
	}
	if !c.allowed[strings.ToLower(name)] {
		return &SkillViolationError{Skill: c.SkillName(), Tool: name, Reason: "not in allowed-tools"}
	}
	return nil
}

// CheckToolArguments applies argument-level rules. The only rule today: a
// Read-class tool must not open one of the skill's own hook scripts (skills
// load their scripts through the hook runner, not into model context).
func (c *SkillContext) CheckToolArguments(name string, args map[string]any) error {
	if c.released {
		return &SkillViolationError{Skill: c.SkillName(), Tool: name, Reason: "skill context released"}
	}
	path, ok := args["file_path"].(string)
	if !ok || path == "" {
		return nil
	}
	for _, script := range c.scriptPaths {
		if path == script {
			return &SkillViolationError{
				Skill:  c.SkillName(),
				Tool:   name,
				Reason: "hook scripts are executed, not read; blocked for context efficiency",
			}
		}
	}
	return nil
}

// Release clears the allow-list. Called by the executor on deactivation and
// on every stack-unwind path.
func (c *SkillContext) Release() {
	c.released = true
	c.allowed = nil
}
