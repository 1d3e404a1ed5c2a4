package orchestrator

import (
	"time"

	"github.com/mwatts/peanutgallery/internal/logging"
	"github.com/mwatts/peanutgallery/internal/scene"
)

// EnergyState is the coarse session mood driving cadence and scoring
type EnergyState string

const (
	EnergyCalm     EnergyState = "calm"
	EnergyActive   EnergyState = "active"
	EnergyPeak     EnergyState = "peak"
	EnergyCooldown EnergyState = "cooldown"
)

const (
	energyHighThreshold = 0.70
	energyMidThreshold  = 0.40
	cooldownMinDwell    = 20 * time.Second
	cooldownLowHold     = 10 * time.Second
	energyHistoryCap    = 32
)

type energyTransition struct {
	state EnergyState
	at    time.Time
}

// energyMachine tracks the session mood with hysteresis: leaving peak
// always passes through cooldown, and cooldown holds until both the
// minimum dwell has elapsed and the composite has stayed sub-peak for a
// sustained stretch.
type energyMachine struct {
	state     EnergyState
	enteredAt time.Time
	lowSince  time.Time
	history   []energyTransition
}

func newEnergyMachine(now time.Time) *energyMachine {
	return &energyMachine{
		state:     EnergyCalm,
		enteredAt: now,
		history:   []energyTransition{{state: EnergyCalm, at: now}},
	}
}

// composite folds density, scene energy, and tone streak into one signal
func energyComposite(densityNorm float64, sceneEnergy scene.Energy, streakLen int) float64 {
	var energyNorm float64
	switch sceneEnergy {
	case scene.EnergyHigh:
		energyNorm = 1.0
	case scene.EnergyMedium:
		energyNorm = 0.5
	default:
		energyNorm = 0.1
	}
	streakNorm := float64(streakLen) / 4
	if streakNorm > 1 {
		streakNorm = 1
	}
	return 0.45*densityNorm + 0.35*energyNorm + 0.20*streakNorm
}

// Update recomputes the state from the composite signal
func (m *energyMachine) Update(now time.Time, composite float64) EnergyState {
	next := m.state
	switch m.state {
	case EnergyPeak:
		if composite < energyHighThreshold {
			next = EnergyCooldown
		}
	case EnergyCooldown:
		// A hot sample restarts the low clock; relaxing needs the dwell
		// plus a sustained sub-peak composite.
		if composite >= energyHighThreshold {
			m.lowSince = time.Time{}
		} else if m.lowSince.IsZero() {
			m.lowSince = now
		}
		if now.Sub(m.enteredAt) >= cooldownMinDwell &&
			!m.lowSince.IsZero() && now.Sub(m.lowSince) >= cooldownLowHold {
			if composite < energyMidThreshold {
				next = EnergyCalm
			} else {
				next = EnergyActive
			}
		}
	default:
		if composite >= energyHighThreshold {
			next = EnergyPeak
		} else if composite >= energyMidThreshold {
			next = EnergyActive
		} else {
			next = EnergyCalm
		}
	}

	if next != m.state {
		logging.Debug("energy", "state %s -> %s (composite=%.2f)", m.state, next, composite)
		m.state = next
		m.enteredAt = now
		if next == EnergyCooldown {
			m.lowSince = now
		}
		m.history = append(m.history, energyTransition{state: next, at: now})
		if len(m.history) > energyHistoryCap {
			m.history = m.history[len(m.history)-energyHistoryCap:]
		}
	}
	return m.state
}

// Occupancy reports the fraction of tracked time spent in each state
func (m *energyMachine) Occupancy(now time.Time) map[EnergyState]float64 {
	out := make(map[EnergyState]float64, 4)
	if len(m.history) == 0 {
		return out
	}
	total := now.Sub(m.history[0].at)
	if total <= 0 {
		out[m.state] = 1
		return out
	}
	for i, tr := range m.history {
		end := now
		if i+1 < len(m.history) {
			end = m.history[i+1].at
		}
		out[tr.state] += float64(end.Sub(tr.at)) / float64(total)
	}
	return out
}

// stateCadence is the extra minimum interval each mood imposes
func stateCadence(s EnergyState) time.Duration {
	switch s {
	case EnergyPeak:
		return 6 * time.Second
	case EnergyActive:
		return 12 * time.Second
	case EnergyCooldown:
		return 20 * time.Second
	default:
		return 18 * time.Second
	}
}

// skipProbability is the chance an otherwise-eligible persona stays quiet
func skipProbability(s EnergyState) float64 {
	switch s {
	case EnergyPeak:
		return 0.02
	case EnergyActive:
		return 0.15
	case EnergyCooldown:
		return 0.50
	default:
		return 0.35
	}
}
