package skill

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRefFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExtractFileReferencesBullets(t *testing.T) {
	dir := t.TempDir()
	writeRefFiles(t, dir, "api.md", "schema.json")

	body := `Supporting material:

- api.md: endpoint reference (120 lines)
- schema.json: request schema
- missing.md: this file does not exist
`
	refs := ExtractFileReferences(body, dir)
	if len(refs) != 2 {
		t.Fatalf("refs = %+v", refs)
	}
	if refs[0].Name != "api.md" || refs[0].Description != "endpoint reference" || refs[0].Lines != 120 {
		t.Errorf("refs[0] = %+v", refs[0])
	}
	if refs[1].Name != "schema.json" || refs[1].Lines != 0 {
		t.Errorf("refs[1] = %+v", refs[1])
	}
}

func TestExtractFileReferencesNestedBullets(t *testing.T) {
	dir := t.TempDir()
	writeRefFiles(t, dir, "deep.md")

	body := "Outline:\n\n- Section one\n  - deep.md: nested reference (7 lines)\n"
	refs := ExtractFileReferences(body, dir)
	if len(refs) != 1 || refs[0].Name != "deep.md" || refs[0].Lines != 7 {
		t.Errorf("refs = %+v", refs)
	}
}

func TestExtractFileReferencesBoldAndProse(t *testing.T) {
	dir := t.TempDir()
	writeRefFiles(t, dir, "style.md", "faq.txt")

	body := "Consult **style.md**: formatting rules before writing.\n\nSee faq.txt for common pitfalls."
	refs := ExtractFileReferences(body, dir)
	if len(refs) != 2 {
		t.Fatalf("refs = %+v", refs)
	}
	names := map[string]bool{refs[0].Name: true, refs[1].Name: true}
	if !names["style.md"] || !names["faq.txt"] {
		t.Errorf("refs = %+v", refs)
	}
}

func TestExtractFileReferencesDeduplicates(t *testing.T) {
	dir := t.TempDir()
	writeRefFiles(t, dir, "guide.md")

	body := "- guide.md: first mention (10 lines)\n\nSee guide.md for the same thing."
	refs := ExtractFileReferences(body, dir)
	if len(refs) != 1 || refs[0].Description != "first mention" {
		t.Errorf("refs = %+v", refs)
	}
}

func TestExtractFileReferencesUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	writeRefFiles(t, dir, "helper.sh")

	refs := ExtractFileReferences("- helper.sh: a script reference", dir)
	if len(refs) != 0 {
		t.Errorf("refs = %+v, want none for .sh", refs)
	}
}

func TestExtractFileReferencesEmptyBody(t *testing.T) {
	if refs := ExtractFileReferences("", t.TempDir()); len(refs) != 0 {
		t.Errorf("refs = %+v", refs)
	}
}
