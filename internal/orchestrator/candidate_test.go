package orchestrator

import (
	"strings"
	"testing"

	"github.com/mwatts/peanutgallery/internal/persona"
)

func TestSanitizeSkipSentinel(t *testing.T) {
	p := persona.Persona{}
	if got := sanitize("[skip]", &p); got != "" {
		t.Errorf("skip sentinel should drop the text, got %q", got)
	}
	if got := sanitize("  [SKIP]  ", &p); got != "" {
		t.Errorf("skip sentinel is case-insensitive, got %q", got)
	}
}

func TestSanitizeStripsStageDirections(t *testing.T) {
	p := persona.Persona{}
	got := sanitize("[gasps] That was close! (leans in) *whispers* Seriously.", &p)
	if strings.ContainsAny(got, "[]()*") {
		t.Errorf("stage directions should be stripped, got %q", got)
	}
	if !strings.Contains(got, "That was close!") {
		t.Errorf("spoken text must survive, got %q", got)
	}
}

func TestSanitizeUnwrapsQuotes(t *testing.T) {
	p := persona.Persona{}
	got := sanitize(`"Okay that twist was earned."`, &p)
	if got != "Okay that twist was earned." {
		t.Errorf("wrapping quotes should be removed, got %q", got)
	}
}

func TestSanitizeRemovesDisallowedPhrases(t *testing.T) {
	p := persona.Persona{DisallowedPhrases: []string{"As an AI"}}
	got := sanitize("As an AI I think the pacing works.", &p)
	if strings.Contains(strings.ToLower(got), "as an ai") {
		t.Errorf("disallowed phrase must be removed, got %q", got)
	}
	if got == "" {
		t.Error("remaining text should survive the removal")
	}

	if got := sanitize("As an AI", &p); got != "" {
		t.Errorf("text that is only a disallowed phrase must drop, got %q", got)
	}
}

func TestSanitizeKeepsFirstLineOnly(t *testing.T) {
	p := persona.Persona{}
	got := sanitize("Great scene.\nAlso, here is some commentary.", &p)
	if got != "Great scene." {
		t.Errorf("only the first line should survive, got %q", got)
	}
}

func TestTrimToWordLimitDropsFillerFirst(t *testing.T) {
	got := trimToWordLimit("This is really just a very long reaction honestly", 6)
	words := strings.Fields(got)
	if len(words) > 6 {
		t.Fatalf("limit not enforced: %q", got)
	}
	for _, w := range words {
		if w == "really" || w == "very" {
			t.Errorf("filler should go before content words: %q", got)
		}
	}
	if !strings.HasSuffix(got, ".") {
		t.Errorf("trimmed text should end with punctuation, got %q", got)
	}
}

func TestTrimToWordLimitNoOpWhenShort(t *testing.T) {
	in := "Short and sweet."
	if got := trimToWordLimit(in, 10); got != in {
		t.Errorf("short text must pass through untouched, got %q", got)
	}
}

func TestApplyTonePunctuation(t *testing.T) {
	p := persona.Persona{
		ToneAdjustments: map[string]persona.ToneAdjustment{
			"tense": {Punctuation: "exclaim"},
			"sad":   {Punctuation: "ellipsis"},
			"calm":  {Punctuation: "plain"},
		},
	}

	if got := applyTonePunctuation("That was close.", &p, "tense"); !strings.HasSuffix(got, "!") {
		t.Errorf("tense tone should end with an exclamation, got %q", got)
	}
	if got := applyTonePunctuation("They deserved better.", &p, "sad"); !strings.HasSuffix(got, "...") {
		t.Errorf("sad tone should trail off, got %q", got)
	}
	if got := applyTonePunctuation("Nice pacing here!", &p, "calm"); strings.HasSuffix(got, "!") {
		t.Errorf("plain punctuation should drop the exclamation, got %q", got)
	}
	if got := applyTonePunctuation("No adjustment tone.", &p, "mystery"); got != "No adjustment tone." {
		t.Errorf("missing adjustment must be a no-op, got %q", got)
	}
}
