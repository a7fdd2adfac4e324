package skill

import (
	"context"
	"strings"
	"testing"
)

func TestInjectorRunsAllowedCommand(t *testing.T) {
	in := NewInjector([]string{"Bash(echo:*)"})
	got := in.Process(context.Background(), "Branch status: !`echo clean`")
	if got != "Branch status: clean" {
		t.Errorf("got %q", got)
	}
}

func TestInjectorBlocksUncoveredCommand(t *testing.T) {
	in := NewInjector([]string{"Bash(git:*)"})
	got := in.Process(context.Background(), "!`echo sneaky`")
	if got != blockedMarker {
		t.Errorf("got %q, want blocked marker", got)
	}
}

func TestInjectorBareBashCoversEverything(t *testing.T) {
	in := NewInjector([]string{"Bash"})
	got := in.Process(context.Background(), "!`echo anything`")
	if got != "anything" {
		t.Errorf("got %q", got)
	}
}

func TestInjectorNilAllowListPermits(t *testing.T) {
	in := NewInjector(nil)
	got := in.Process(context.Background(), "!`echo open`")
	if got != "open" {
		t.Errorf("got %q", got)
	}
}

func TestInjectorSanitizer(t *testing.T) {
	in := NewInjector(nil)
	bodies := []string{
		"!`echo hi; rm -rf x`",
		"!`echo hi && echo bye`",
		"!`cat file | sort`",
		"!`echo hi > out.txt`",
		"!`echo $(whoami)`",
		"!`cat ../../etc/passwd`",
		"!`/bin/echo absolute`",
	}
	for _, body := range bodies {
		if got := in.Process(context.Background(), body); got != blockedMarker {
			t.Errorf("Process(%q) = %q, want blocked", body, got)
		}
	}
}

func TestInjectorUnclosedQuote(t *testing.T) {
	in := NewInjector(nil)
	if got := in.Process(context.Background(), "!`echo 'oops`"); got != blockedMarker {
		t.Errorf("got %q, want blocked", got)
	}
}

func TestInjectorCommandFailure(t *testing.T) {
	in := NewInjector(nil)
	got := in.Process(context.Background(), "!`false`")
	if !strings.HasPrefix(got, "[Command failed:") {
		t.Errorf("got %q, want failure marker", got)
	}
}

func TestInjectorTruncatesOutput(t *testing.T) {
	in := NewInjector(nil, WithMaxOutput(4))
	got := in.Process(context.Background(), "!`echo abcdefgh`")
	if got != "abcd"+truncationMarker {
		t.Errorf("got %q", got)
	}
}

func TestInjectorLeavesPlainBodyAlone(t *testing.T) {
	in := NewInjector([]string{"Bash(git:*)"})
	body := "No commands here, just backticks: `code sample`."
	if got := in.Process(context.Background(), body); got != body {
		t.Errorf("got %q", got)
	}
}

func TestInjectorMultipleTokens(t *testing.T) {
	in := NewInjector([]string{"Bash(echo:*)"})
	got := in.Process(context.Background(), "a=!`echo 1` b=!`echo 2`")
	if got != "a=1 b=2" {
		t.Errorf("got %q", got)
	}
}

func TestTokenizeQuotes(t *testing.T) {
	tokens, err := tokenize(`git log --format='%h %s' --author="Ada L"`)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"git", "log", "--format=%h %s", "--author=Ada L"}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %v", tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("tokens[%d] = %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestBashEntryAuthorizes(t *testing.T) {
	cases := []struct {
		entry, base string
		want        bool
	}{
		{"Bash", "anything", true},
		{"Bash(git:*)", "git", true},
		{"Bash(git:*)", "gitk", false},
		{"Bash(echo)", "echo", true},
		{"Read", "git", false},
		{"Bash()", "git", false},
	}
	for _, tc := range cases {
		if got := bashEntryAuthorizes(tc.entry, tc.base); got != tc.want {
			t.Errorf("bashEntryAuthorizes(%q, %q) = %v, want %v", tc.entry, tc.base, got, tc.want)
		}
	}
}
