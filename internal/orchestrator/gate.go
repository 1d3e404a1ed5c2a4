package orchestrator

import (
	"strings"
	"time"

	"github.com/mwatts/peanutgallery/internal/persona"
	"github.com/mwatts/peanutgallery/internal/scene"
	"github.com/mwatts/peanutgallery/internal/types"
)

// forcedEmissionFactor forces a persona to speak once it has been quiet
// for this many multiples of its effective minimum interval.
const forcedEmissionFactor = 3

type skipReason int

const (
	skipNone skipReason = iota
	skipDisabled
	skipWindowFull
	skipLocked
	skipEmptyCue
	skipAnswered
	skipHeuristics
	skipTopicOverlap
	skipThrottle
	skipQuietRoll
)

// gatePersona runs the per-persona eligibility checks in order. The
// second return reports whether emission is forced (quiet too long).
func (e *Engine) gatePersona(p *persona.Persona, ps *personaState, analysis scene.Analysis, cue types.SubtitleCue, prefs types.UserPreferences, byPersona, byBase map[string]int, now time.Time) (skipReason, bool) {
	if enabled, ok := prefs.PersonaEnabled[p.PreferenceKey]; ok && !enabled {
		return skipDisabled, false
	}
	if byPersona[p.ID] > 0 || byBase[p.BasePersonaID] > 0 {
		return skipWindowFull, false
	}
	if ps.locked {
		return skipLocked, false
	}

	text := strings.TrimSpace(cue.Text)
	if text == "" || !hasLetters(text) {
		return skipEmptyCue, false
	}
	if ps.answeredCues[cue.CueID] {
		return skipAnswered, false
	}
	if prefs.Density == types.DensityLow {
		// Low density only reacts to cues with a real signal.
		if analysis.Energy == scene.EnergyLow {
			return skipHeuristics, false
		}
		if !analysis.HasQuestion && !analysis.HasExclamation && len(text) < 40 {
			return skipHeuristics, false
		}
	}
	if e.sess.topicOverlap(ps, analysis.Keywords, now) {
		return skipTopicOverlap, false
	}

	// A persona that has never spoken is always eligible; the cadence
	// gate and quiet roll only apply once it has a history.
	if ps.lastEmission.IsZero() {
		return skipNone, false
	}

	interval := effectiveInterval(p, e.energy.state, prefs.Density)
	elapsed := now.Sub(ps.lastEmission)
	if elapsed < interval {
		return skipThrottle, false
	}
	if elapsed >= forcedEmissionFactor*interval {
		return skipNone, true
	}

	// State-dependent quiet roll: even eligible personas sometimes stay
	// silent so output does not feel metronomic.
	if hashUnit(p.ID, cue.CueID, "quiet") < skipProbability(e.energy.state) {
		return skipQuietRoll, false
	}
	return skipNone, false
}

// effectiveInterval is the binding cadence: the strictest of persona
// cadence, energy-state cadence, and density interval.
func effectiveInterval(p *persona.Persona, state EnergyState, density types.Density) time.Duration {
	interval := p.Cadence()
	if sc := stateCadence(state); sc > interval {
		interval = sc
	}
	if di := types.DensityInterval(density); di > interval {
		interval = di
	}
	return interval
}

func (m *metricsAccumulator) noteSkip(reason skipReason) {
	switch reason {
	case skipThrottle, skipQuietRoll, skipWindowFull:
		m.skippedByThrottle++
	case skipLocked:
		m.skippedByLock++
	case skipHeuristics, skipEmptyCue, skipAnswered, skipTopicOverlap, skipDisabled:
		m.skippedByHeuristics++
	}
}
