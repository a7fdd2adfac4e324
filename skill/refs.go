package skill

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	omniforge "github.com/omniforge/omniforge"
)

// supportedRefExts are the extensions a supporting-file reference may carry.
var supportedRefExts = map[string]bool{
	".md": true, ".txt": true, ".json": true, ".yaml": true, ".yml": true,
}

var (
	// bulletRefRe matches list-item references: "file.md: description (12 lines)".
	bulletRefRe = regexp.MustCompile(`^([\w./-]+\.[A-Za-z]+)\s*:\s*(.+?)(?:\s*\((\d+)\s+lines?\))?\s*$`)

	// boldRefRe matches "**file.md**: description" in the raw body.
	boldRefRe = regexp.MustCompile(`\*\*([\w./-]+\.[A-Za-z]+)\*\*\s*:\s*([^\n]+)`)

	// inlineRefRe matches "See file.md for …" prose references.
	inlineRefRe = regexp.MustCompile(`(?i)\bsee\s+([\w./-]+\.[A-Za-z]+)\s+(?:for|to)\s+([^.\n]+)`)
)

var refParser = goldmark.New()

// ExtractFileReferences finds the supporting files a skill body names, in
// three shapes: bullet-list entries, bold references, and "See x.md for…"
// prose. Only known extensions count, the file must exist under baseDir, and
// duplicate names collapse to the first mention.
func ExtractFileReferences(body, baseDir string) []omniforge.FileReference {
	source := []byte(body)
	var refs []omniforge.FileReference
	seen := make(map[string]bool)

	add := func(name, description string, lines int) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		if !supportedRefExts[strings.ToLower(filepath.Ext(name))] {
			return
		}
		if _, err := os.Stat(filepath.Join(baseDir, name)); err != nil {
			return
		}
		seen[name] = true
		refs = append(refs, omniforge.FileReference{
			Name:        name,
			Description: strings.TrimSpace(description),
			Lines:       lines,
		})
	}

	// Bullet references come from the markdown AST so indentation and
	// nesting don't matter.
	doc := refParser.Parser().Parse(text.NewReader(source))
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if _, ok := n.(*ast.ListItem); !ok {
			return ast.WalkContinue, nil
		}
		m := bulletRefRe.FindStringSubmatch(nodeText(n, source))
		if m != nil {
			lines := 0
			if m[3] != "" {
				lines, _ = strconv.Atoi(m[3])
			}
			add(m[1], m[2], lines)
		}
		return ast.WalkSkipChildren, nil
	})

	for _, m := range boldRefRe.FindAllStringSubmatch(body, -1) {
		add(m[1], m[2], 0)
	}
	for _, m := range inlineRefRe.FindAllStringSubmatch(body, -1) {
		add(m[1], m[2], 0)
	}
	return refs
}

// nodeText reconstructs the plain text under a node.
func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
