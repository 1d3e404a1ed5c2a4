package orchestrator

import (
	"strings"
	"time"

	"github.com/mwatts/peanutgallery/internal/persona"
	"github.com/mwatts/peanutgallery/internal/scene"
)

const (
	ngramWindow    = 30 * time.Second
	semanticWindow = 120 * time.Second
	jaccardLimit   = 0.6
	minRelevance   = 0.15
	minStyleFit    = 0.45
	ngramSize      = 4
)

// isDuplicate applies the syntactic and semantic duplicate gates against
// the session comment log.
func (s *session) isDuplicate(text string, now time.Time) bool {
	norm := normalizeText(text)
	tokens := strings.Fields(norm)
	grams := ngrams(tokens, ngramSize)

	ngramCutoff := now.Add(-ngramWindow)
	semanticCutoff := now.Add(-semanticWindow)

	for _, c := range s.comments {
		if !c.at.After(semanticCutoff) {
			continue
		}
		if normalizeText(c.text) == norm {
			return true
		}
		if c.at.After(ngramCutoff) && sharesNgram(grams, ngrams(c.tokens, ngramSize)) {
			return true
		}
		if jaccard(tokens, c.tokens) >= jaccardLimit {
			return true
		}
	}
	return false
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(text))), " ")
}

func ngrams(tokens []string, n int) map[string]bool {
	out := make(map[string]bool)
	for i := 0; i+n <= len(tokens); i++ {
		out[strings.Join(tokens[i:i+n], " ")] = true
	}
	return out
}

func sharesNgram(a, b map[string]bool) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for g := range a {
		if b[g] {
			return true
		}
	}
	return false
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// relevanceScore measures how much a candidate engages with the scene
func relevanceScore(text string, analysis scene.Analysis) float64 {
	lower := strings.ToLower(text)
	tokens := strings.Fields(normalizeText(text))

	var keywordHit float64
	if len(analysis.Keywords) > 0 {
		hits := 0
		for _, kw := range analysis.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		keywordHit = float64(hits) / float64(len(analysis.Keywords))
	}

	var speakerHit float64
	for _, sp := range analysis.Speakers {
		if strings.Contains(lower, strings.ToLower(sp)) {
			speakerHit = 1
			break
		}
	}

	var punctAgreement float64
	if analysis.HasQuestion == strings.Contains(text, "?") {
		punctAgreement += 0.5
	}
	if analysis.HasExclamation == strings.Contains(text, "!") {
		punctAgreement += 0.5
	}

	var summaryHit float64
	summaryTokens := make(map[string]bool)
	for _, t := range strings.Fields(normalizeText(analysis.Summary)) {
		if len(t) >= 4 {
			summaryTokens[t] = true
		}
	}
	if len(summaryTokens) > 0 {
		hits := 0
		for _, t := range tokens {
			if summaryTokens[t] {
				hits++
			}
		}
		denom := len(summaryTokens)
		if denom > 5 {
			denom = 5
		}
		summaryHit = float64(hits) / float64(denom)
		if summaryHit > 1 {
			summaryHit = 1
		}
	}

	return 0.30*keywordHit + 0.20*speakerHit + 0.15*punctAgreement + 0.35*summaryHit
}

// styleFitScore measures how well a candidate matches the persona's voice.
// Disallowed phrases zero it outright; the tone adjustment acts as a
// multiplier on the base composite.
func styleFitScore(text string, p *persona.Persona, tone scene.Tone) float64 {
	for _, phrase := range p.DisallowedPhrases {
		if phrase != "" && strings.Contains(strings.ToLower(text), strings.ToLower(phrase)) {
			return 0
		}
	}

	words := len(strings.Fields(text))
	var lengthFit float64
	switch {
	case words >= p.MinWords && words <= p.MaxWords:
		lengthFit = 1
	case words < p.MinWords && p.MinWords > 0:
		lengthFit = float64(words) / float64(p.MinWords)
	default:
		over := float64(words-p.MaxWords) / float64(p.MaxWords)
		lengthFit = 1 - over
		if lengthFit < 0 {
			lengthFit = 0
		}
	}

	var punct float64
	if strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") ||
		strings.HasSuffix(text, "?") || strings.HasSuffix(text, "...") ||
		strings.HasSuffix(text, "…") {
		punct = 1
	}

	var capital float64
	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		first := rune(trimmed[0])
		if first >= 'A' && first <= 'Z' {
			capital = 1
		}
	}

	score := 0.4*lengthFit + 0.3*punct + 0.3*capital

	if adj, ok := p.ToneAdjustments[string(tone)]; ok {
		score *= toneAlignmentMultiplier(text, adj)
	}
	return score
}

func toneAlignmentMultiplier(text string, adj persona.ToneAdjustment) float64 {
	lower := strings.ToLower(text)
	mult := 1.0

	if len(adj.RequiredWords) > 0 {
		found := false
		for _, w := range adj.RequiredWords {
			if strings.Contains(lower, strings.ToLower(w)) {
				found = true
				break
			}
		}
		if !found {
			mult *= 0.85
		}
	}
	for _, w := range adj.BannedWords {
		if strings.Contains(lower, strings.ToLower(w)) {
			mult *= 0.6
			break
		}
	}
	if adj.Punctuation != "" && !punctuationMatches(text, adj.Punctuation) {
		mult *= 0.9
	}
	return mult
}

func punctuationMatches(text, style string) bool {
	switch style {
	case "exclaim":
		return strings.HasSuffix(text, "!")
	case "question":
		return strings.HasSuffix(text, "?")
	case "ellipsis":
		return strings.HasSuffix(text, "...") || strings.HasSuffix(text, "…")
	default:
		return !strings.HasSuffix(text, "!")
	}
}
