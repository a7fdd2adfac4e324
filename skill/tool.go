package skill

import (
	"context"
	"encoding/json"
	"fmt"

	omniforge "github.com/omniforge/omniforge"
)

// skillTool is the "skill" pseudo-tool: it returns a skill's content and
// restrictions so the caller can decide to activate it. It never touches the
// executor's activation stack itself.
type skillTool struct {
	loader *Loader
}

// NewSkillTool exposes the loader's index as a registry tool.
func NewSkillTool(loader *Loader) omniforge.Tool {
	return &skillTool{loader: loader}
}

var _ omniforge.Tool = (*skillTool)(nil)

func (t *skillTool) Definition() omniforge.ToolDefinition {
	return omniforge.ToolDefinition{
		Name:        "skill",
		Type:        "skill",
		Description: "Look up a skill by name and return its instructions and tool restrictions.",
		Parameters: []omniforge.ToolParameter{
			{Name: "name", Type: "string", Required: true, Description: "skill name"},
		},
		Visibility: omniforge.VisibilityFull,
	}
}

func (t *skillTool) Execute(ctx context.Context, call omniforge.ToolCallContext, args map[string]any) (omniforge.ToolResult, error) {
	name, _ := args["name"].(string)

	s, err := t.loader.Get(name)
	if err != nil {
		msg := fmt.Sprintf("skill %q not found", name)
		if suggestion := t.nearest(name); suggestion != "" {
			msg += fmt.Sprintf("; did you mean %q?", suggestion)
		}
		return omniforge.ToolResult{Success: false, Error: msg}, nil
	}

	payload := map[string]any{
		"skill_name": s.Metadata.Name,
		"base_path":  s.BasePath,
		"content":    s.Content,
	}
	if s.Metadata.AllowedTools != nil {
		payload["allowed_tools"] = s.Metadata.AllowedTools
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return omniforge.ToolResult{Success: false, Error: "encode skill: " + err.Error()}, nil
	}
	return omniforge.ToolResult{Success: true, Result: string(raw)}, nil
}

// nearest returns the closest known skill name by edit distance, or "" when
// nothing is close enough to suggest.
func (t *skillTool) nearest(name string) string {
	best := ""
	bestDist := len(name)/2 + 1 // suggestions beyond this are noise
	for _, candidate := range t.loader.Names() {
		if d := levenshtein(name, candidate); d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
