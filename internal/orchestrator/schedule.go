package orchestrator

import (
	"sort"
	"strconv"
	"time"

	"github.com/mwatts/peanutgallery/internal/persona"
	"github.com/mwatts/peanutgallery/internal/scene"
)

// schedulePersonas orders the active personas for the per-persona loop.
// The order blends recency, energy alignment, and persona weight with a
// deterministic jitter seeded from persona id and the anchor cue, so the
// same inputs always produce the same schedule.
func (e *Engine) schedulePersonas(personas []persona.Persona, analysis scene.Analysis, anchorCueID string, anchorMs int64, now time.Time) []persona.Persona {
	type ranked struct {
		p     persona.Persona
		score float64
	}
	out := make([]ranked, 0, len(personas))
	anchor := strconv.FormatInt(anchorMs, 10)

	for _, p := range personas {
		ps := e.sess.personaState(p.ID)

		recency := 1.0
		if !ps.lastEmission.IsZero() {
			elapsed := now.Sub(ps.lastEmission)
			recency = float64(elapsed) / float64(2*p.Cadence())
			if recency > 1 {
				recency = 1
			}
		}

		alignment := energyAlignment(p.ToneVariant, analysis.Energy)
		jitter := hashUnit(p.ID, anchorCueID, anchor)

		score := 0.40*recency + 0.25*alignment + 0.20*p.EffectiveWeight()/2 + 0.15*jitter
		out = append(out, ranked{p: p, score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].p.ID < out[j].p.ID
	})

	ordered := make([]persona.Persona, len(out))
	for i, r := range out {
		ordered[i] = r.p
	}
	return ordered
}

// energyAlignment scores how well a persona's tone variant suits the
// current scene energy.
func energyAlignment(variant string, energy scene.Energy) float64 {
	match := map[scene.Energy]string{
		scene.EnergyHigh:   "peak",
		scene.EnergyMedium: "active",
		scene.EnergyLow:    "calm",
	}[energy]

	switch {
	case variant == match:
		return 1.0
	case variant == "":
		return 0.5
	case (variant == "active" && match != "") || match == "active":
		return 0.5
	default:
		return 0.1
	}
}
