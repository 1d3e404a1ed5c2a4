package scene

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tsawler/prose/v3"

	"github.com/mwatts/peanutgallery/internal/types"
)

// Tone is the dominant mood read off the subtitle window
type Tone string

const (
	ToneCalm        Tone = "calm"
	ToneTense       Tone = "tense"
	ToneHumorous    Tone = "humorous"
	ToneSad         Tone = "sad"
	ToneRomantic    Tone = "romantic"
	ToneConfused    Tone = "confused"
	ToneThrilling   Tone = "thrilling"
	ToneBittersweet Tone = "bittersweet"
	ToneMystery     Tone = "mystery"
)

// Intensity grades how strongly the tone registers
type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

// Energy is the instantaneous activity level of the dialogue
type Energy string

const (
	EnergyLow    Energy = "low"
	EnergyMedium Energy = "medium"
	EnergyHigh   Energy = "high"
)

// Analysis is the structured scene descriptor handed to the engine.
// It is a pure function of the cue window.
type Analysis struct {
	Summary        string
	Keywords       []string
	Speakers       []string
	Tone           Tone
	ToneIntensity  Intensity
	ToneConfidence float64
	Energy         Energy
	HasQuestion    bool
	HasExclamation bool
	ShouldRespond  bool
}

const (
	maxKeywords   = 5
	maxSummaryLen = 160
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "you": {}, "for": {}, "but": {}, "that": {},
	"with": {}, "this": {}, "have": {}, "what": {}, "your": {}, "from": {},
	"they": {}, "there": {}, "will": {}, "were": {}, "just": {}, "about": {},
	"like": {}, "into": {}, "when": {}, "them": {}, "then": {}, "than": {},
	"over": {}, "know": {}, "gonna": {}, "going": {}, "really": {},
}

type toneRule struct {
	tone      Tone
	patterns  []*regexp.Regexp
	weight    float64
	intensity Intensity
}

// Analyzer maps a short cue window to a scene descriptor using weighted
// keyword rules plus prose tokenization/NER. Safe for concurrent use.
type Analyzer struct {
	rules       []toneRule
	speakerLine *regexp.Regexp
	letters     *regexp.Regexp
	fillerOnly  *regexp.Regexp
}

// NewAnalyzer builds an analyzer with the built-in tone rule set
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		rules:       defaultToneRules(),
		speakerLine: regexp.MustCompile(`^([A-Z][A-Z\s]{1,20}):`),
		letters:     regexp.MustCompile(`[a-zA-Z]`),
		fillerOnly:  regexp.MustCompile(`^(hmm+|uh+|mm+|ah+|oh+)$`),
	}
}

func compileRule(tone Tone, weight float64, intensity Intensity, patterns ...string) toneRule {
	r := toneRule{tone: tone, weight: weight, intensity: intensity}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err == nil {
			r.patterns = append(r.patterns, re)
		}
	}
	return r
}

func defaultToneRules() []toneRule {
	return []toneRule{
		compileRule(ToneTense, 1.2, IntensityHigh,
			`[!?]{2,}`, `\brun\b`, `\bnow\b`, `\bmove\b`, `\bgun\b`, `\bthreat`),
		compileRule(ToneThrilling, 1.3, IntensityHigh,
			`\bchase\b`, `\bescape\b`, `explosion`, `\bcliffhanger\b`, `\brace\b`, `\bstandoff\b`),
		compileRule(ToneBittersweet, 1.1, IntensityMedium,
			`\bproud of you\b`, `\bthank you\b`, `\bmiss you\b`, `\bfarewell\b`, `\bso happy for you\b`),
		compileRule(ToneMystery, 1.0, IntensityMedium,
			`\bclue\b`, `\binvestigate\b`, `\bcase\b`, `\bsuspect\b`, `\bmystery\b`, `\bsecret\b`, `\bhidden\b`),
		compileRule(ToneHumorous, 1.0, IntensityMedium,
			`haha|lol|funny|joke|laugh|comedy`),
		compileRule(ToneRomantic, 0.9, IntensityMedium,
			`love|kiss|sweet|adorable|romantic|date|flirt`),
		compileRule(ToneSad, 1.0, IntensityMedium,
			`sorry|cry|sad|tears|hurt|heartbroken|funeral|mourning`),
		compileRule(ToneConfused, 0.8, IntensityMedium,
			`\b(what|why|how|huh|who|where)\b`, `\?\s*$`),
	}
}

// Analyze computes the scene descriptor for a cue window
func (a *Analyzer) Analyze(cues []types.SubtitleCue) Analysis {
	if len(cues) == 0 {
		return Analysis{
			Tone:           ToneCalm,
			ToneIntensity:  IntensityLow,
			ToneConfidence: 0.4,
			Energy:         EnergyLow,
		}
	}

	parts := make([]string, 0, len(cues))
	for _, cue := range cues {
		parts = append(parts, cue.Text)
	}
	text := strings.Join(parts, " ")

	energy := detectEnergy(text)
	tone, intensity, confidence := a.detectTone(text, energy)

	summary := text
	if len(summary) > maxSummaryLen {
		cut := maxSummaryLen - 3
		// Back up to a rune boundary so the cut never yields invalid UTF-8.
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut] + "..."
	}

	return Analysis{
		Summary:        summary,
		Keywords:       a.collectKeywords(text),
		Speakers:       a.extractSpeakers(cues),
		Tone:           tone,
		ToneIntensity:  intensity,
		ToneConfidence: confidence,
		Energy:         energy,
		HasQuestion:    strings.Contains(text, "?"),
		HasExclamation: strings.Contains(text, "!"),
		ShouldRespond:  a.shouldRespond(text, energy),
	}
}

// collectKeywords ranks candidate topics: prose named entities first,
// then frequent non-stopword tokens. Falls back to whitespace splitting
// when the NLP pass fails.
func (a *Analyzer) collectKeywords(text string) []string {
	counts := make(map[string]int)
	entity := make(map[string]bool)

	doc, err := prose.NewDocument(text)
	if err == nil {
		for _, tok := range doc.Tokens() {
			word := normalizeToken(tok.Text)
			if word == "" {
				continue
			}
			counts[word]++
		}
		for _, ent := range doc.Entities() {
			word := normalizeToken(ent.Text)
			if word == "" {
				continue
			}
			entity[word] = true
			counts[word]++
		}
	} else {
		for _, raw := range strings.Fields(text) {
			word := normalizeToken(raw)
			if word == "" {
				continue
			}
			counts[word]++
		}
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	// Entities outrank plain tokens; ties break by frequency then text
	// so output is stable for identical windows.
	sort.Slice(words, func(i, j int) bool {
		wi, wj := words[i], words[j]
		if entity[wi] != entity[wj] {
			return entity[wi]
		}
		if counts[wi] != counts[wj] {
			return counts[wi] > counts[wj]
		}
		return wi < wj
	})

	if len(words) > maxKeywords {
		words = words[:maxKeywords]
	}
	return words
}

func normalizeToken(raw string) string {
	word := strings.ToLower(strings.Trim(raw, ".,!?;:'\"()[]{}"))
	if len(word) <= 3 {
		return ""
	}
	for _, r := range word {
		if (r < 'a' || r > 'z') && r != '\'' && r != '-' {
			return ""
		}
	}
	if _, ok := stopWords[word]; ok {
		return ""
	}
	return word
}

// extractSpeakers pulls speaker names from UPPERCASE "NAME:" prefixes and
// prose PERSON entities across the window.
func (a *Analyzer) extractSpeakers(cues []types.SubtitleCue) []string {
	seen := make(map[string]bool)
	var speakers []string

	add := func(name string) {
		name = strings.TrimSpace(name)
		if len(name) <= 1 {
			return
		}
		key := strings.ToLower(name)
		if !seen[key] {
			seen[key] = true
			speakers = append(speakers, name)
		}
	}

	for _, cue := range cues {
		if m := a.speakerLine.FindStringSubmatch(cue.Text); m != nil {
			for _, token := range strings.Fields(m[1]) {
				add(token)
			}
		}
	}

	text := strings.Join(cueTexts(cues), " ")
	if doc, err := prose.NewDocument(text); err == nil {
		for _, ent := range doc.Entities() {
			if strings.EqualFold(ent.Label, "PERSON") {
				add(ent.Text)
			}
		}
	}

	return speakers
}

func cueTexts(cues []types.SubtitleCue) []string {
	out := make([]string, 0, len(cues))
	for _, cue := range cues {
		out = append(out, cue.Text)
	}
	return out
}

func intensityWeight(i Intensity) float64 {
	switch i {
	case IntensityHigh:
		return 3
	case IntensityMedium:
		return 2
	default:
		return 1
	}
}

func numericToIntensity(value float64) Intensity {
	if value >= 2.5 {
		return IntensityHigh
	}
	if value >= 1.7 {
		return IntensityMedium
	}
	return IntensityLow
}

// detectTone scores each tone's rule hits plus punctuation/energy boosts,
// then picks the best with a confidence ratio.
func (a *Analyzer) detectTone(text string, energy Energy) (Tone, Intensity, float64) {
	lower := strings.ToLower(text)
	scores := make(map[Tone]float64)
	intensities := make(map[Tone]float64)

	note := func(tone Tone, weight float64, intensity Intensity) {
		scores[tone] += weight
		n := intensityWeight(intensity)
		if n > intensities[tone] {
			intensities[tone] = n
		}
	}

	for _, rule := range a.rules {
		for _, re := range rule.patterns {
			if re.MatchString(lower) {
				note(rule.tone, rule.weight, rule.intensity)
			}
		}
	}

	exclaims := strings.Count(text, "!")
	questions := strings.Count(text, "?")

	if exclaims >= 2 || strings.Contains(lower, "do it now") || strings.Contains(lower, "hurry") || strings.Contains(lower, "we have to") {
		intensity := IntensityMedium
		if exclaims >= 3 {
			intensity = IntensityHigh
		}
		note(ToneTense, 0.9+float64(exclaims)*0.1, intensity)
	}
	if energy == EnergyHigh {
		note(ToneThrilling, 0.7, IntensityHigh)
	}
	if questions >= 2 {
		note(ToneConfused, 0.6+float64(questions)*0.05, IntensityMedium)
	}

	total := 0.0
	for _, s := range scores {
		total += s
	}

	tone := ToneCalm
	intensity := IntensityLow
	if energy == EnergyHigh {
		intensity = IntensityMedium
	}
	confidence := 0.4

	if total > 0 {
		best := ToneCalm
		bestScore := 0.0
		// Deterministic pick: highest score, ties by tone name
		tones := make([]Tone, 0, len(scores))
		for t := range scores {
			tones = append(tones, t)
		}
		sort.Slice(tones, func(i, j int) bool { return tones[i] < tones[j] })
		for _, t := range tones {
			if scores[t] > bestScore {
				best = t
				bestScore = scores[t]
			}
		}
		tone = best
		n := intensities[best]
		if n == 0 {
			if energy == EnergyHigh {
				n = 2
			} else {
				n = 1
			}
		}
		intensity = numericToIntensity(n)
		confidence = bestScore / total
		if confidence > 0.95 {
			confidence = 0.95
		}
		if confidence < 0.35 {
			confidence = 0.35
		}
	} else if energy == EnergyHigh {
		tone = ToneTense
		intensity = IntensityMedium
		confidence = 0.55
	} else if energy == EnergyMedium {
		confidence = 0.45
	}

	if tone == ToneCalm && energy == EnergyMedium && questions > 0 {
		tone = ToneConfused
		intensity = IntensityMedium
		if confidence < 0.5 {
			confidence = 0.5
		}
	}

	return tone, intensity, confidence
}

// detectEnergy blends length and punctuation density into a coarse level
func detectEnergy(text string) Energy {
	lengthScore := float64(len(text)) / 80
	if lengthScore > 1 {
		lengthScore = 1
	}
	exclaimScore := float64(strings.Count(text, "!")) / 3
	if exclaimScore > 1 {
		exclaimScore = 1
	}
	questionScore := float64(strings.Count(text, "?")) / 3
	if questionScore > 1 {
		questionScore = 1
	}
	aggregate := lengthScore*0.3 + exclaimScore*0.4 + questionScore*0.3
	if aggregate > 0.65 {
		return EnergyHigh
	}
	if aggregate > 0.35 {
		return EnergyMedium
	}
	return EnergyLow
}

// shouldRespond filters windows not worth a reaction (filler noises,
// very short low-energy lines)
func (a *Analyzer) shouldRespond(text string, energy Energy) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if a.fillerOnly.MatchString(strings.ToLower(trimmed)) {
		return false
	}
	if len(trimmed) < 8 && energy == EnergyLow {
		return false
	}
	return true
}
