package orchestrator

import (
	"strings"
	"testing"
	"time"

	"github.com/mwatts/peanutgallery/internal/persona"
	"github.com/mwatts/peanutgallery/internal/scene"
)

func sessionWithComment(text string, at time.Time) *session {
	s := newSession("show-1")
	s.recordComment(emittedComment{
		personaID: "alex",
		baseID:    "alex",
		text:      text,
		tokens:    strings.Fields(normalizeText(text)),
		at:        at,
	})
	return s
}

func TestExactDuplicateRejected(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	s := sessionWithComment("That twist came out of nowhere.", now)

	if !s.isDuplicate("that twist came OUT of nowhere.", now.Add(time.Minute)) {
		t.Error("case-insensitive exact match must be rejected")
	}
}

func TestSharedFourGramRejectedInsideWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	s := sessionWithComment("I cannot believe the butler did it again.", now)

	dup := "Honestly the butler did it again, wild."
	if !s.isDuplicate(dup, now.Add(10*time.Second)) {
		t.Error("shared 4-gram inside the window must be rejected")
	}
	if s.isDuplicate(dup, now.Add(ngramWindow+time.Second)) {
		t.Error("4-gram overlap outside the window is allowed")
	}
}

func TestSemanticSimilarityRejected(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	s := sessionWithComment("okay the warehouse scene was genuinely scary", now)

	// Same tokens shuffled: Jaccard 1.0, but no shared 4-gram.
	dup := "genuinely scary okay the warehouse was scene"
	if !s.isDuplicate(dup, now.Add(time.Minute)) {
		t.Error("high token overlap inside the semantic window must be rejected")
	}
	if s.isDuplicate(dup, now.Add(semanticWindow+time.Second)) {
		t.Error("semantic overlap outside the window is allowed")
	}
}

func TestDistinctTextAccepted(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	s := sessionWithComment("That twist came out of nowhere.", now)

	if s.isDuplicate("The lighting in this hallway is doing a lot of work.", now.Add(time.Second)) {
		t.Error("unrelated text must pass the duplicate gates")
	}
}

func TestRelevanceScoring(t *testing.T) {
	analysis := scene.Analysis{
		Summary:        "The detective searched the warehouse for the missing painting",
		Keywords:       []string{"warehouse", "painting", "detective"},
		Speakers:       []string{"SARAH"},
		HasExclamation: true,
	}

	engaged := relevanceScore("Sarah finding the painting in that warehouse!", analysis)
	offTopic := relevanceScore("I wonder what's for lunch tomorrow?", analysis)

	if engaged <= offTopic {
		t.Errorf("engaged text should outscore off-topic: %.2f vs %.2f", engaged, offTopic)
	}
	if engaged < minRelevance {
		t.Errorf("on-topic text should clear the floor, got %.2f", engaged)
	}
	if offTopic >= minRelevance {
		t.Errorf("off-topic text should fall under the floor, got %.2f", offTopic)
	}
}

func TestStyleFitDisallowedPhraseHardZero(t *testing.T) {
	p := persona.Persona{MinWords: 3, MaxWords: 30, DisallowedPhrases: []string{"As an AI"}}

	if got := styleFitScore("As an AI, I find this scene compelling.", &p, scene.ToneCalm); got != 0 {
		t.Errorf("disallowed phrase must zero the score, got %.2f", got)
	}
	if got := styleFitScore("This scene is genuinely compelling.", &p, scene.ToneCalm); got < minStyleFit {
		t.Errorf("clean text should pass, got %.2f", got)
	}
}

func TestStyleFitLengthPenalty(t *testing.T) {
	p := persona.Persona{MinWords: 3, MaxWords: 8}

	short := styleFitScore("Nice.", &p, scene.ToneCalm)
	inRange := styleFitScore("This reveal was worth the wait.", &p, scene.ToneCalm)
	if short >= inRange {
		t.Errorf("under-length text should score lower: %.2f vs %.2f", short, inRange)
	}
}

func TestToneAlignmentMultiplier(t *testing.T) {
	p := persona.Persona{
		MinWords: 2, MaxWords: 20,
		ToneAdjustments: map[string]persona.ToneAdjustment{
			"tense": {
				RequiredWords: []string{"whoa", "wait"},
				BannedWords:   []string{"adorable"},
				Punctuation:   "exclaim",
			},
		},
	}

	aligned := styleFitScore("Whoa, that standoff got real!", &p, scene.ToneTense)
	offVoice := styleFitScore("This standoff is adorable somehow.", &p, scene.ToneTense)
	if aligned <= offVoice {
		t.Errorf("tone-aligned text should outscore off-voice: %.2f vs %.2f", aligned, offVoice)
	}
}
