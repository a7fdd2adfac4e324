// Package skill loads, validates, and prepares SKILL.md instruction bundles:
// layered discovery, frontmatter validation, progressive disclosure of
// supporting files, variable substitution, and pre-execution command
// injection.
package skill

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	omniforge "github.com/omniforge/omniforge"
)

// SkillFilename is the manifest name every skill directory must contain.
const SkillFilename = "SKILL.md"

// frontmatterDelimiter marks the YAML frontmatter boundaries.
const frontmatterDelimiter = "---"

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
	maxBodyLines      = 500
	maxBodyWords      = 5000
	warnBodyWords     = 4500
)

var (
	nameRe = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

	// scopedToolRe matches allow-list patterns like Bash(git:*).
	scopedToolRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*)\(([^)]*)\)$`)
	bareToolRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

	// absolutePathRe flags hard-coded system and home paths in skill bodies.
	absolutePathRe = regexp.MustCompile(`(^|\s)(/(?:usr|etc|home|var|opt|tmp|bin|sbin)/\S+|~/[^\s]+)`)

	// unanchoredAssetRe flags skill-relative directories referenced without
	// the {baseDir} placeholder.
	unanchoredAssetRe = regexp.MustCompile(`(^|[^}])/(scripts|references|assets)\b`)

	// brokenQuoteRe finds single-quoted strings an apostrophe would split.
	brokenQuoteRe = regexp.MustCompile(`'[^']*\w'\w`)

	// timeSensitiveRe flags content that will silently go stale.
	timeSensitiveRe = regexp.MustCompile(`(?i)\b(20[12][0-9]|currently|today|as of now|recently|this (year|month|week))\b`)
)

// reservedNames may not be used as skill names.
var reservedNames = map[string]bool{
	"skill": true, "agent": true, "tool": true,
	"system": true, "admin": true, "root": true,
}

// imperativeVerbs are forbidden as a description's first word; descriptions
// state what the skill does in the third person.
var imperativeVerbs = map[string]bool{
	"create": true, "write": true, "generate": true, "make": true,
	"build": true, "add": true, "update": true, "delete": true,
	"remove": true, "fix": true, "run": true, "execute": true,
	"use": true, "install": true, "implement": true, "do": true,
}

// allowedFrontmatterFields is the closed set of SKILL.md frontmatter keys.
var allowedFrontmatterFields = map[string]bool{
	"name": true, "description": true, "allowed-tools": true,
	"hooks": true, "license": true, "version": true,
	"model": true, "mode": true,
}

// Loader indexes skills across the three storage layers. Layer precedence by
// skill name: project over personal over enterprise.
type Loader struct {
	roots  map[omniforge.StorageLayer]string
	logger *slog.Logger

	mu     sync.RWMutex
	skills map[string]*omniforge.Skill
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) LoaderOption {
	return func(ld *Loader) { ld.logger = l }
}

// NewLoader creates a loader over the given layer roots. Empty roots are
// skipped.
func NewLoader(projectRoot, personalRoot, enterpriseRoot string, opts ...LoaderOption) *Loader {
	ld := &Loader{
		roots: map[omniforge.StorageLayer]string{
			omniforge.LayerProject:    projectRoot,
			omniforge.LayerPersonal:   personalRoot,
			omniforge.LayerEnterprise: enterpriseRoot,
		},
		logger: slog.New(slog.DiscardHandler),
		skills: make(map[string]*omniforge.Skill),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// layerPrecedence is scan order from lowest to highest priority; later layers
// override earlier ones by name.
var layerPrecedence = []omniforge.StorageLayer{
	omniforge.LayerEnterprise,
	omniforge.LayerPersonal,
	omniforge.LayerProject,
}

// LoadAll scans every layer root and indexes the valid skills found. Invalid
// manifests are logged and skipped; they never abort the scan.
func (ld *Loader) LoadAll() error {
	found := make(map[string]*omniforge.Skill)
	for _, layer := range layerPrecedence {
		root := ld.roots[layer]
		if root == "" {
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("scan %s layer: %w", layer, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			manifest := filepath.Join(root, entry.Name(), SkillFilename)
			s, warnings, err := LoadSkillFile(manifest, layer)
			if err != nil {
				if !os.IsNotExist(err) {
					ld.logger.Warn("skipping invalid skill", "path", manifest, "error", err)
				}
				continue
			}
			for _, w := range warnings {
				ld.logger.Warn("skill validation warning", "skill", s.Metadata.Name, "warning", w)
			}
			if prev, ok := found[s.Metadata.Name]; ok {
				ld.logger.Info("skill overridden by higher layer",
					"skill", s.Metadata.Name, "lower", prev.StorageLayer, "higher", layer)
			}
			found[s.Metadata.Name] = s
		}
	}

	ld.mu.Lock()
	ld.skills = found
	ld.mu.Unlock()
	ld.logger.Info("skills indexed", "count", len(found))
	return nil
}

// Get returns the named skill, or a NotFoundError.
func (ld *Loader) Get(name string) (*omniforge.Skill, error) {
	ld.mu.RLock()
	s, ok := ld.skills[name]
	ld.mu.RUnlock()
	if !ok {
		return nil, &omniforge.NotFoundError{Kind: "skill", ID: name}
	}
	return s, nil
}

// Names returns the indexed skill names, sorted.
func (ld *Loader) Names() []string {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	names := make([]string, 0, len(ld.skills))
	for n := range ld.skills {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadSkillFile parses and validates one SKILL.md manifest. The returned
// warnings are advisory; a non-nil error means the skill is unusable.
func LoadSkillFile(path string, layer omniforge.StorageLayer) (*omniforge.Skill, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	baseDir := filepath.Dir(path)

	s, warnings, err := ParseSkill(data, baseDir)
	if err != nil {
		return nil, nil, err
	}
	s.Path = path
	s.StorageLayer = layer
	s.SupportingFiles = ExtractFileReferences(s.Content, baseDir)
	return s, warnings, nil
}

// ParseSkill parses and validates SKILL.md content.
func ParseSkill(data []byte, baseDir string) (*omniforge.Skill, []string, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(frontmatter, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	for key := range raw {
		if !allowedFrontmatterFields[key] {
			return nil, nil, fmt.Errorf("unknown frontmatter field %q", key)
		}
	}

	var meta omniforge.SkillMetadata
	if err := yaml.Unmarshal(frontmatter, &meta); err != nil {
		return nil, nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	content := strings.TrimSpace(string(body))
	warnings, err := validate(meta, content)
	if err != nil {
		return nil, nil, err
	}

	s := &omniforge.Skill{
		Metadata: meta,
		Content:  content,
		BasePath: baseDir,
	}
	if len(meta.Hooks) > 0 {
		s.ScriptPaths = make(map[string]string, len(meta.Hooks))
		for role, script := range meta.Hooks {
			s.ScriptPaths[role] = filepath.Join(baseDir, script)
		}
	}
	return s, warnings, nil
}

// validate applies every manifest rule. Hard rules return an error; soft
// rules accumulate warnings.
func validate(meta omniforge.SkillMetadata, body string) ([]string, error) {
	if meta.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if len(meta.Name) > maxNameLen {
		return nil, fmt.Errorf("name exceeds %d characters", maxNameLen)
	}
	if !nameRe.MatchString(meta.Name) {
		return nil, fmt.Errorf("name must match %s: got %q", nameRe, meta.Name)
	}
	if reservedNames[meta.Name] {
		return nil, fmt.Errorf("name %q is reserved", meta.Name)
	}

	if meta.Description == "" {
		return nil, fmt.Errorf("description is required")
	}
	if len(meta.Description) > maxDescriptionLen {
		return nil, fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	}
	fields := strings.Fields(meta.Description)
	if len(fields) == 0 {
		return nil, fmt.Errorf("description is required")
	}
	first := strings.ToLower(strings.Trim(fields[0], ".,!:"))
	if imperativeVerbs[first] {
		return nil, fmt.Errorf("description must not start with the imperative %q; state what the skill does", first)
	}

	for _, entry := range meta.AllowedTools {
		if err := validateToolEntry(entry); err != nil {
			return nil, err
		}
	}

	if err := validateBody(body); err != nil {
		return nil, err
	}

	var warnings []string
	if n := len(strings.Fields(body)); n > warnBodyWords {
		warnings = append(warnings, fmt.Sprintf("body has %d words, approaching the %d limit", n, maxBodyWords))
	}
	if m := timeSensitiveRe.FindString(body); m != "" {
		warnings = append(warnings, fmt.Sprintf("time-sensitive content (%q) will go stale", m))
	}
	return warnings, nil
}

func validateToolEntry(entry string) error {
	entry = strings.TrimSpace(entry)
	if bareToolRe.MatchString(entry) {
		return nil
	}
	m := scopedToolRe.FindStringSubmatch(entry)
	if m == nil {
		return fmt.Errorf("allowed-tools entry %q is neither a tool name nor Name(prefix:*)", entry)
	}
	scope := m[2]
	if strings.Contains(scope, "/") && !strings.Contains(scope, "{baseDir}") && strings.HasPrefix(scope, "/") {
		return fmt.Errorf("allowed-tools entry %q uses an absolute path; use {baseDir}", entry)
	}
	return nil
}

func validateBody(body string) error {
	lines := strings.Count(body, "\n") + 1
	if lines > maxBodyLines {
		return fmt.Errorf("body has %d lines, limit %d", lines, maxBodyLines)
	}
	if n := len(strings.Fields(body)); n > maxBodyWords {
		return fmt.Errorf("body has %d words, limit %d", n, maxBodyWords)
	}
	if m := absolutePathRe.FindString(body); m != "" {
		return fmt.Errorf("body hard-codes the path %q; use {baseDir}", strings.TrimSpace(m))
	}
	if m := unanchoredAssetRe.FindString(body); m != "" {
		return fmt.Errorf("body references %q without {baseDir}", strings.TrimSpace(m))
	}
	if m := brokenQuoteRe.FindString(body); m != "" {
		return fmt.Errorf("body contains a single-quoted string broken by an apostrophe near %q", m)
	}
	return nil
}

// ExpandBaseDir replaces {baseDir} placeholders in skill content.
func ExpandBaseDir(content, baseDir string) string {
	return strings.ReplaceAll(content, "{baseDir}", baseDir)
}

// splitFrontmatter separates YAML frontmatter from the markdown body.
func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var frontmatterLines []string
	foundClosing := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			foundClosing = true
			break
		}
		frontmatterLines = append(frontmatterLines, line)
	}
	if !foundClosing {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan manifest: %w", err)
	}

	return []byte(strings.Join(frontmatterLines, "\n")),
		[]byte(strings.Join(bodyLines, "\n")), nil
}
