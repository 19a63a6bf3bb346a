package workflow

import (
	"strings"
	"testing"
)

func TestFilterTextRemovesDenylistedTerms(t *testing.T) {
	got := FilterText("a cat, nsfw")
	if got != "a cat" {
		t.Fatalf("unexpected filtered text: %q", got)
	}
}

func TestFilterTextCaseInsensitiveWholeWord(t *testing.T) {
	cases := map[string]string{
		"a NSFW cat":                 "a cat",
		"gunslinger aesthetic":       "gunslinger aesthetic",
		"a gun on the table":         "a on the table",
		"Violence, GORE, a sunset":   "a sunset",
		"  spaced   out   words  ":   "spaced out words",
		"":                           "",
	}
	for input, want := range cases {
		if got := FilterText(input); got != want {
			t.Fatalf("FilterText(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFilterTextIdempotent(t *testing.T) {
	inputs := []string{
		"a cat, nsfw",
		"plain prompt, vibrant colors",
		"nsfw, gore, blood",
		"many,   commas,,, here",
	}
	for _, input := range inputs {
		once := FilterText(input)
		twice := FilterText(once)
		if once != twice {
			t.Fatalf("FilterText not idempotent for %q: %q != %q", input, once, twice)
		}
	}
}

func TestComposeNegativeWithUserText(t *testing.T) {
	got := ComposeNegative("blurry hands")
	if !strings.HasPrefix(got, "blurry hands, ") {
		t.Fatalf("user negative not leading: %q", got)
	}
	if !strings.HasSuffix(got, hiddenNegativePrompt) {
		t.Fatalf("hidden suffix missing: %q", got)
	}
}

func TestComposeNegativeEmptyUserTextYieldsSuffixAlone(t *testing.T) {
	if got := ComposeNegative(""); got != hiddenNegativePrompt {
		t.Fatalf("expected hidden suffix alone, got %q", got)
	}
	// A negative that is entirely denylisted collapses to the suffix too.
	if got := ComposeNegative("nsfw, gore"); got != hiddenNegativePrompt {
		t.Fatalf("expected hidden suffix alone, got %q", got)
	}
}
