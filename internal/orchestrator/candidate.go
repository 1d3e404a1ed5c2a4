package orchestrator

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/mwatts/peanutgallery/internal/cache"
	"github.com/mwatts/peanutgallery/internal/llm"
	"github.com/mwatts/peanutgallery/internal/logging"
	"github.com/mwatts/peanutgallery/internal/persona"
	"github.com/mwatts/peanutgallery/internal/scene"
	"github.com/mwatts/peanutgallery/internal/types"
)

// commitKind tags how a candidate was produced; finalization writes back
// to the cache only what each kind requires.
type commitKind int

const (
	commitCacheHit commitKind = iota
	commitGenerated
)

// candidate is one in-flight reaction proposal
type candidate struct {
	persona    persona.Persona
	text       string
	cueID      string
	cueStartMs int64
	tone       scene.Tone
	energy     scene.Energy
	relevance  float64
	styleFit   float64
	score      float64
	kind       commitKind
	promptHash string
	usedShapes []string
	usedShots  []int
}

var (
	bracketRe  = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)
	multiSpace = regexp.MustCompile(`\s{2,}`)
)

// acquireCandidate produces a candidate for an eligible persona, from
// cache when a compatible entry exists, otherwise from the completion
// client. Returns nil when nothing usable came out.
func (e *Engine) acquireCandidate(ctx context.Context, p *persona.Persona, ps *personaState, analysis scene.Analysis, cue types.SubtitleCue, prefs types.UserPreferences, now time.Time, m *metricsAccumulator) *candidate {
	rec, err := e.cache.Get(ctx, e.sess.contentID, cue.CueID, p.ID)
	if err != nil {
		logging.Debug("engine", "cache get failed for %s/%s: %v", cue.CueID, p.ID, err)
	}
	if rec != nil && cacheCompatible(rec, analysis) {
		m.cacheHits++
		return &candidate{
			persona:    *p,
			text:       rec.Text,
			cueID:      cue.CueID,
			cueStartMs: cue.StartMs,
			tone:       analysis.Tone,
			energy:     analysis.Energy,
			kind:       commitCacheHit,
			promptHash: rec.PromptHash,
		}
	}
	m.cacheMisses++

	ps.locked = true
	defer func() { ps.locked = false }()

	prompt := e.buildPrompt(p, ps, analysis, cue, prefs, now)

	// Small bounded sampling jitter per call keeps repeated generations
	// from sounding identical.
	temp := p.Temperature + (hashUnit(p.ID, cue.CueID, "temp")-0.5)*0.1
	topP := p.TopP + (hashUnit(p.ID, cue.CueID, "topp")-0.5)*0.04

	start := e.now()
	resp := e.completer.Complete(ctx, llm.Request{
		PersonaID:   p.ID,
		Messages:    prompt.messages,
		Temperature: temp,
		TopP:        topP,
		MaxTokens:   p.MaxWords * 3,
	})
	latency := e.now().Sub(start)
	m.llmCalls++
	m.llmLatencySum += latency
	m.genLatencySum += latency
	if resp.UsingFallback {
		m.fallbackResponses++
	}

	text := sanitize(resp.Text, p)
	if text == "" {
		m.sanitizedDrops++
		return nil
	}
	text = e.postProcess(text, p, ps, analysis, cue, now)
	if text == "" {
		m.sanitizedDrops++
		return nil
	}
	logging.Debug("engine", "%s generated: %s", p.ID, logging.Truncate(text, 80))

	return &candidate{
		persona:    *p,
		text:       text,
		cueID:      cue.CueID,
		cueStartMs: cue.StartMs,
		tone:       analysis.Tone,
		energy:     analysis.Energy,
		kind:       commitGenerated,
		promptHash: prompt.hash,
		usedShapes: prompt.usedShapes,
		usedShots:  prompt.usedFewShots,
	}
}

// cacheCompatible rejects entries generated under a different prompt
// layout or scene mood; those are treated as misses.
func cacheCompatible(rec *cache.Record, analysis scene.Analysis) bool {
	return rec.PromptVersion == promptVersion &&
		rec.Tone == string(analysis.Tone) &&
		rec.Energy == string(analysis.Energy)
}

// sanitize strips model artifacts: the skip sentinel, stage directions,
// wrapping quotes, and disallowed phrases. Returns "" to drop.
func sanitize(raw string, p *persona.Persona) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	if strings.Contains(strings.ToLower(text), skipSentinel) {
		return ""
	}

	text = bracketRe.ReplaceAllString(text, "")
	text = strings.Trim(text, "\"'“”‘’ ")

	for _, phrase := range p.DisallowedPhrases {
		if phrase == "" {
			continue
		}
		for {
			idx := strings.Index(strings.ToLower(text), strings.ToLower(phrase))
			if idx < 0 {
				break
			}
			text = text[:idx] + text[idx+len(phrase):]
		}
	}

	text = multiSpace.ReplaceAllString(text, " ")
	text = strings.TrimSpace(strings.Trim(text, ",;: "))
	if !hasLetters(text) {
		return ""
	}
	// First line only; models sometimes add commentary after a newline.
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = strings.TrimSpace(text[:nl])
	}
	return text
}

var casualSubs = [][2]string{
	{"going to ", "gonna "},
	{"want to ", "wanna "},
	{"I am ", "I'm "},
	{"do not ", "don't "},
	{"cannot ", "can't "},
	{"it is ", "it's "},
}

var fillerWords = map[string]bool{
	"really": true, "very": true, "just": true, "actually": true,
	"basically": true, "literally": true, "quite": true, "simply": true,
}

// postProcess applies voice texture: occasional speech tic, casual
// register, tone punctuation, and length trimming that removes filler
// before hard-truncating.
func (e *Engine) postProcess(text string, p *persona.Persona, ps *personaState, analysis scene.Analysis, cue types.SubtitleCue, now time.Time) string {
	// Tic insertion is deterministic per cue and skipped while the tic is
	// banned or cooling down.
	if len(p.SpeechTics) > 0 && hashUnit(p.ID, cue.CueID, "tic") < 0.25 {
		tic := p.SpeechTics[hashPick(len(p.SpeechTics), p.ID, cue.CueID, "ticpick")]
		if !e.bans.Banned(p.ID, strings.ToLower(tic), now) && overusedTic(p, ps, now) != tic &&
			!strings.HasPrefix(strings.ToLower(text), strings.ToLower(tic)) {
			text = tic + ", " + lowerFirst(text)
			key := strings.ToLower(tic)
			ps.ticUse[key] = e.bans.NoteTic(p.ID, tic, now, ps.ticUse[key])
		}
	}

	for _, sub := range casualSubs {
		text = strings.ReplaceAll(text, sub[0], sub[1])
	}

	text = trimToWordLimit(text, p.MaxWords)
	text = applyTonePunctuation(text, p, analysis.Tone)
	return upperFirst(strings.TrimSpace(text))
}

// trimToWordLimit removes filler words first, then hard-truncates
func trimToWordLimit(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) <= limit {
		return text
	}

	over := len(words) - limit
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if over > 0 && fillerWords[strings.ToLower(strings.Trim(w, ".,!?"))] {
			over--
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}
	out := strings.Join(kept, " ")
	out = strings.TrimRight(out, ",;: ")
	if !strings.HasSuffix(out, ".") && !strings.HasSuffix(out, "!") && !strings.HasSuffix(out, "?") {
		out += "."
	}
	return out
}

func applyTonePunctuation(text string, p *persona.Persona, tone scene.Tone) string {
	adj, ok := p.ToneAdjustments[string(tone)]
	if !ok || adj.Punctuation == "" {
		return text
	}
	base := strings.TrimRight(text, ".!?… ")
	switch adj.Punctuation {
	case "exclaim":
		return base + "!"
	case "question":
		// Never force a question mark onto a statement.
		return text
	case "ellipsis":
		return base + "..."
	default:
		if strings.HasSuffix(text, "!") {
			return base + "."
		}
		return text
	}
}

func hasLetters(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
