package orchestrator

import (
	"sort"
	"strings"
	"time"

	"github.com/mwatts/peanutgallery/internal/scene"
)

// scoreWeights is one energy state's weighting package for the reranker
type scoreWeights struct {
	lengthFit   float64
	novelty     float64
	recency     float64
	alignment   float64
	toneNovelty float64
	source      float64
	relevance   float64
	styleFit    float64
	weightBias  float64
	jitter      float64
}

// weightsFor modulates the scoring emphasis by session mood: peak chases
// novelty and fast turn-taking, calm favors steadier, on-style output.
func weightsFor(state EnergyState) scoreWeights {
	switch state {
	case EnergyPeak:
		return scoreWeights{
			lengthFit: 0.10, novelty: 0.20, recency: 0.18, alignment: 0.12,
			toneNovelty: 0.10, source: 0.05, relevance: 0.10, styleFit: 0.08,
			weightBias: 0.04, jitter: 0.03,
		}
	case EnergyCooldown:
		return scoreWeights{
			lengthFit: 0.16, novelty: 0.10, recency: 0.08, alignment: 0.10,
			toneNovelty: 0.08, source: 0.04, relevance: 0.20, styleFit: 0.18,
			weightBias: 0.03, jitter: 0.03,
		}
	case EnergyActive:
		return scoreWeights{
			lengthFit: 0.12, novelty: 0.16, recency: 0.14, alignment: 0.12,
			toneNovelty: 0.09, source: 0.05, relevance: 0.14, styleFit: 0.12,
			weightBias: 0.03, jitter: 0.03,
		}
	default:
		return scoreWeights{
			lengthFit: 0.18, novelty: 0.12, recency: 0.10, alignment: 0.10,
			toneNovelty: 0.08, source: 0.04, relevance: 0.16, styleFit: 0.16,
			weightBias: 0.03, jitter: 0.03,
		}
	}
}

// scoreCandidate combines every signal into the candidate's final score
func (e *Engine) scoreCandidate(c *candidate, analysis scene.Analysis, now time.Time) float64 {
	w := weightsFor(e.energy.state)
	ps := e.sess.personaState(c.persona.ID)

	words := len(strings.Fields(c.text))
	target := float64(c.persona.TargetWords)
	if e.energy.state == EnergyPeak {
		// Peak favors punchier output.
		target *= 0.8
	}
	diff := float64(words) - target
	if diff < 0 {
		diff = -diff
	}
	lengthFit := 1 - diff/target
	if lengthFit < 0 {
		lengthFit = 0
	}

	novelty := 1.0
	if len(analysis.Keywords) > 0 {
		fresh := 0
		for _, kw := range analysis.Keywords {
			known := false
			for _, t := range ps.memory.topics {
				if t == kw {
					known = true
					break
				}
			}
			if !known {
				fresh++
			}
		}
		novelty = float64(fresh) / float64(len(analysis.Keywords))
	}

	recency := 1.0
	if !ps.lastEmission.IsZero() {
		recency = float64(now.Sub(ps.lastEmission)) / float64(2*c.persona.Cadence())
		if recency > 1 {
			recency = 1
		}
	}

	alignment := energyAlignment(c.persona.ToneVariant, analysis.Energy)

	toneNovelty := float64(e.sess.lastToneUse(c.tone)) / 6
	if toneNovelty > 1 {
		toneNovelty = 1
	}

	source := 0.5
	if c.kind == commitGenerated {
		source = 1.0
	}

	weightBias := c.persona.EffectiveWeight() / 2
	if weightBias > 1 {
		weightBias = 1
	}

	jitter := hashUnit(c.persona.ID, c.cueID, "rank")

	return w.lengthFit*lengthFit + w.novelty*novelty + w.recency*recency +
		w.alignment*alignment + w.toneNovelty*toneNovelty + w.source*source +
		w.relevance*c.relevance + w.styleFit*c.styleFit +
		w.weightBias*weightBias + w.jitter*jitter
}

// selectCandidates is the greedy selection pass. It admits at most one
// candidate per persona and per base-persona family, respecting slots
// already consumed in the current window.
func selectCandidates(pool []*candidate, slots int, byPersona, byBase map[string]int, m *metricsAccumulator) []*candidate {
	sorted := make([]*candidate, len(pool))
	copy(sorted, pool)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].score != sorted[j].score {
			return sorted[i].score > sorted[j].score
		}
		return sorted[i].persona.ID < sorted[j].persona.ID
	})

	takenPersona := make(map[string]bool)
	takenBase := make(map[string]bool)
	for id, n := range byPersona {
		if n > 0 {
			takenPersona[id] = true
		}
	}
	for id, n := range byBase {
		if n > 0 {
			takenBase[id] = true
		}
	}

	var selected []*candidate
	for _, c := range sorted {
		if len(selected) >= slots {
			m.prunedByReranker++
			continue
		}
		if takenPersona[c.persona.ID] || takenBase[c.persona.BasePersonaID] {
			m.prunedByReranker++
			continue
		}
		takenPersona[c.persona.ID] = true
		takenBase[c.persona.BasePersonaID] = true
		selected = append(selected, c)
	}
	return selected
}

// renderOffsetMs is the energy-dependent delay before the first reaction
func renderOffsetMs(state EnergyState) int64 {
	switch state {
	case EnergyPeak:
		return 300
	case EnergyActive:
		return 500
	case EnergyCooldown:
		return 900
	default:
		return 700
	}
}

// renderPlan assigns staggered render positions and word-count-derived
// durations to the selected candidates, in rank order.
func (e *Engine) renderPlan(selected []*candidate) []renderSlot {
	base := renderOffsetMs(e.energy.state)
	out := make([]renderSlot, len(selected))
	for i, c := range selected {
		jitter := int64(hashUnit(c.persona.ID, c.cueID, "render") * 400)
		renderAt := c.cueStartMs + base + jitter + int64(i)*900

		words := len(strings.Fields(c.text))
		duration := int64(2400 + words*280)
		if duration < 3000 {
			duration = 3000
		}
		if duration > 7000 {
			duration = 7000
		}
		out[i] = renderSlot{renderAtMs: renderAt, durationMs: duration}
	}
	return out
}

type renderSlot struct {
	renderAtMs int64
	durationMs int64
}
