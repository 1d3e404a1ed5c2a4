package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mwatts/peanutgallery/internal/llm"
	"github.com/mwatts/peanutgallery/internal/persona"
	"github.com/mwatts/peanutgallery/internal/scene"
	"github.com/mwatts/peanutgallery/internal/types"
)

// promptVersion invalidates cached reactions when the prompt layout
// changes in a way that affects output style.
const promptVersion = 3

const (
	maxFewShots    = 2
	skipSentinel   = "[skip]"
	toneStreakWarn = 2
)

var toneDescriptorTemplates = []string{
	"The scene reads %s at %s intensity right now.",
	"Current mood: %s (%s intensity).",
	"Things feel %s here, intensity %s.",
}

var densityInstructions = map[types.Density]string{
	types.DensityLow:    "React only to genuinely notable moments.",
	types.DensityMedium: "React at a relaxed, occasional pace.",
	types.DensityHigh:   "Feel free to react often, but never repeat yourself.",
}

// builtPrompt carries the assembled messages plus the bookkeeping the
// finalize step needs (hash for cache compatibility, few-shot usage).
type builtPrompt struct {
	messages     []llm.Message
	hash         string
	usedShapes   []string
	usedFewShots []int
}

// buildPrompt assembles the system and user messages for one persona and
// the current scene.
func (e *Engine) buildPrompt(p *persona.Persona, ps *personaState, analysis scene.Analysis, cue types.SubtitleCue, prefs types.UserPreferences, now time.Time) builtPrompt {
	var sys strings.Builder

	sys.WriteString(p.SystemPrompt)
	sys.WriteString("\n\n")
	if len(p.Traits) > 0 {
		fmt.Fprintf(&sys, "Your traits: %s.\n", strings.Join(p.Traits, ", "))
	}
	fmt.Fprintf(&sys, "Keep your reaction between %d and %d words, ideally around %d.\n",
		p.MinWords, p.MaxWords, p.TargetWords)
	sys.WriteString("Write the way a real viewer types in a chat: casual, first person, no narration.\n")
	if instr, ok := densityInstructions[prefs.Density]; ok {
		sys.WriteString(instr)
		sys.WriteString("\n")
	}

	// Tone descriptor chosen deterministically so replays build the same
	// prompt and hit the cache.
	tmpl := toneDescriptorTemplates[hashPick(len(toneDescriptorTemplates), string(analysis.Tone), cue.CueID)]
	fmt.Fprintf(&sys, tmpl+"\n", analysis.Tone, analysis.ToneIntensity)

	if e.sess.toneStreakCount >= toneStreakWarn && e.sess.toneStreak == analysis.Tone {
		fmt.Fprintf(&sys, "The %s mood has lasted a while; do not restate the mood itself, react to specifics.\n", analysis.Tone)
	}
	if len(analysis.Speakers) > 0 {
		fmt.Fprintf(&sys, "On screen: %s.\n", strings.Join(analysis.Speakers, ", "))
	}

	keywords := e.bans.FilterKeywords(p.ID, analysis.Keywords, now)
	if len(keywords) > 0 {
		fmt.Fprintf(&sys, "Anchor your reaction in one of: %s.\n", strings.Join(keywords, ", "))
	} else {
		sys.WriteString("Anchor your reaction in a concrete sensory detail from the scene.\n")
	}

	if banned := e.bans.ActiveTokens(p.ID, now); len(banned) > 0 {
		fmt.Fprintf(&sys, "Overused lately, do not use: %s.\n", strings.Join(banned, ", "))
	}
	if tic := overusedTic(p, ps, now); tic != "" {
		fmt.Fprintf(&sys, "You have leaned on %q too much; drop it for now.\n", tic)
	}
	fmt.Fprintf(&sys, "If you have nothing fresh to say, reply with exactly %s.\n", skipSentinel)

	var user strings.Builder
	if analysis.Summary != "" {
		fmt.Fprintf(&user, "Scene: %s\n\n", analysis.Summary)
	}
	user.WriteString("Recent subtitles:\n")
	for _, c := range e.sess.cueWindow {
		fmt.Fprintf(&user, "[%s] %s\n", formatTimestamp(c.StartMs), c.Text)
	}
	if len(p.StyleGuidelines) > 0 {
		user.WriteString("\nStyle rules:\n")
		for i, g := range p.StyleGuidelines {
			fmt.Fprintf(&user, "%d. %s\n", i+1, g)
		}
	}
	if ps.memory.lastReaction != "" || len(ps.memory.topics) > 0 {
		user.WriteString("\nYour recent activity (do not repeat any of it):\n")
		if ps.memory.lastReaction != "" {
			fmt.Fprintf(&user, "Last reaction: %q\n", ps.memory.lastReaction)
		}
		if len(ps.memory.topics) > 0 {
			fmt.Fprintf(&user, "Topics already covered: %s\n", strings.Join(ps.memory.topics, ", "))
		}
	}
	user.WriteString("\nRespond with the reaction text only, one short line.")

	messages := []llm.Message{{Role: "system", Content: sys.String()}}
	shots, shapes, indices := selectFewShots(p, ps, analysis, now)
	for _, fs := range shots {
		messages = append(messages,
			llm.Message{Role: "user", Content: fs.User},
			llm.Message{Role: "assistant", Content: fs.Assistant})
	}
	messages = append(messages, llm.Message{Role: "user", Content: user.String()})

	return builtPrompt{
		messages:     messages,
		hash:         hashMessages(messages),
		usedShapes:   shapes,
		usedFewShots: indices,
	}
}

// selectFewShots picks a bounded, cooldown-aware subset of examples
// matching the scene.
func selectFewShots(p *persona.Persona, ps *personaState, analysis scene.Analysis, now time.Time) ([]persona.FewShot, []string, []int) {
	type scored struct {
		idx   int
		score float64
	}
	var ranked []scored
	for i, fs := range p.FewShots {
		score := 0.5
		for _, tag := range fs.SceneTags {
			if tag == string(analysis.Tone) {
				score += 2
			}
		}
		if fs.EnergyTag == string(analysis.Energy) {
			score += 1
		}
		for _, kw := range analysis.Keywords {
			if strings.Contains(strings.ToLower(fs.User), kw) {
				score += 0.5
				break
			}
		}
		if ps.shapeRecentlyUsed(fs.Shape) {
			score -= 2
		}
		if last, ok := ps.fewShotLastUsed[i]; ok && now.Sub(last) < fewShotCooldown {
			score -= 3
		}
		if score > 0 {
			ranked = append(ranked, scored{idx: i, score: score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].idx < ranked[j].idx
	})
	if len(ranked) > maxFewShots {
		ranked = ranked[:maxFewShots]
	}

	var shots []persona.FewShot
	var shapes []string
	var indices []int
	for _, r := range ranked {
		fs := p.FewShots[r.idx]
		shots = append(shots, fs)
		if fs.Shape != "" {
			shapes = append(shapes, fs.Shape)
		}
		indices = append(indices, r.idx)
	}
	return shots, shapes, indices
}

// overusedTic returns a speech tic the persona should rest, if any
func overusedTic(p *persona.Persona, ps *personaState, now time.Time) string {
	cutoff := now.Add(-ticUsageWindow)
	for _, tic := range p.SpeechTics {
		uses := 0
		for _, t := range ps.ticUse[strings.ToLower(tic)] {
			if t.After(cutoff) {
				uses++
			}
		}
		if uses >= ticBanThreshold-1 {
			return tic
		}
	}
	return ""
}

func hashMessages(messages []llm.Message) string {
	h := xxhash.New()
	for _, m := range messages {
		h.WriteString(m.Role)
		h.WriteString("\x1e")
		h.WriteString(m.Content)
		h.WriteString("\x1e")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func formatTimestamp(ms int64) string {
	totalSec := ms / 1000
	return fmt.Sprintf("%02d:%02d", totalSec/60, totalSec%60)
}
