package orchestrator

import (
	"strings"
	"time"

	"github.com/mwatts/peanutgallery/internal/scene"
	"github.com/mwatts/peanutgallery/internal/types"
)

const (
	maxCueWindow     = 3
	windowMs         = 8000
	maxPerWindow     = 3
	backwardSeekMs   = 500
	maxRecentOutputs = 5
	maxMemoryTopics  = 5
	maxCommentLog    = 60
	topicOverlapSpan = 5 * time.Second
	shapeHistoryCap  = 4
	fewShotCooldown  = 90 * time.Second
)

// personaMemory is the bounded continuity state fed back into prompts
type personaMemory struct {
	topics       []string
	lastReaction string
	history      []string
}

func (m *personaMemory) rememberTopics(keywords []string) {
	for _, kw := range keywords {
		found := false
		for _, t := range m.topics {
			if t == kw {
				found = true
				break
			}
		}
		if !found {
			m.topics = append(m.topics, kw)
		}
	}
	if len(m.topics) > maxMemoryTopics {
		m.topics = m.topics[len(m.topics)-maxMemoryTopics:]
	}
}

func (m *personaMemory) rememberReaction(text string) {
	m.lastReaction = text
	m.history = append(m.history, text)
	if len(m.history) > maxRecentOutputs {
		m.history = m.history[len(m.history)-maxRecentOutputs:]
	}
}

// personaState is the engine-owned runtime state for one voice
type personaState struct {
	lastEmission    time.Time
	locked          bool
	outputs         []timedText
	lengths         []int
	tones           []scene.Tone
	memory          personaMemory
	answeredCues    map[string]bool
	shapeHistory    []string
	fewShotLastUsed map[int]time.Time
	ticUse          map[string][]time.Time
}

func newPersonaState() *personaState {
	return &personaState{
		answeredCues:    make(map[string]bool),
		fewShotLastUsed: make(map[int]time.Time),
		ticUse:          make(map[string][]time.Time),
	}
}

func (ps *personaState) recordOutput(text string, tone scene.Tone, now time.Time) {
	ps.outputs = append(ps.outputs, timedText{text: text, at: now})
	if len(ps.outputs) > maxRecentOutputs {
		ps.outputs = ps.outputs[len(ps.outputs)-maxRecentOutputs:]
	}
	ps.lengths = append(ps.lengths, len(strings.Fields(text)))
	if len(ps.lengths) > maxRecentOutputs {
		ps.lengths = ps.lengths[len(ps.lengths)-maxRecentOutputs:]
	}
	ps.tones = append(ps.tones, tone)
	if len(ps.tones) > maxRecentOutputs {
		ps.tones = ps.tones[len(ps.tones)-maxRecentOutputs:]
	}
	ps.lastEmission = now
}

func (ps *personaState) noteShape(shape string) {
	if shape == "" {
		return
	}
	ps.shapeHistory = append(ps.shapeHistory, shape)
	if len(ps.shapeHistory) > shapeHistoryCap {
		ps.shapeHistory = ps.shapeHistory[len(ps.shapeHistory)-shapeHistoryCap:]
	}
}

func (ps *personaState) shapeRecentlyUsed(shape string) bool {
	for _, s := range ps.shapeHistory {
		if s == shape {
			return true
		}
	}
	return false
}

type timedText struct {
	text string
	at   time.Time
}

// emittedComment is one committed reaction in the session log
type emittedComment struct {
	personaID string
	baseID    string
	tone      scene.Tone
	text      string
	tokens    []string
	at        time.Time
}

// session holds all per-watch state. It is reset wholesale on content
// change, backward seek, or explicit regeneration so a partially cleared
// session can never be observed.
type session struct {
	contentID     string
	cueWindow     []types.SubtitleCue
	playback      types.PlaybackStatus
	playbackKnown bool

	personas map[string]*personaState
	comments []emittedComment

	toneStreak      scene.Tone
	toneStreakCount int
}

func newSession(contentID string) *session {
	return &session{
		contentID: contentID,
		personas:  make(map[string]*personaState),
	}
}

func (s *session) personaState(id string) *personaState {
	ps, ok := s.personas[id]
	if !ok {
		ps = newPersonaState()
		s.personas[id] = ps
	}
	return ps
}

// mergeCues appends unseen cues and trims to the window cap
func (s *session) mergeCues(cues []types.SubtitleCue) {
	seen := make(map[string]bool, len(s.cueWindow))
	for _, c := range s.cueWindow {
		seen[c.CueID] = true
	}
	for _, c := range cues {
		if c.CueID == "" || seen[c.CueID] {
			continue
		}
		seen[c.CueID] = true
		s.cueWindow = append(s.cueWindow, c)
	}
	if len(s.cueWindow) > maxCueWindow {
		s.cueWindow = s.cueWindow[len(s.cueWindow)-maxCueWindow:]
	}
}

// noteTone advances the tone streak counter
func (s *session) noteTone(tone scene.Tone) {
	if tone == s.toneStreak {
		s.toneStreakCount++
	} else {
		s.toneStreak = tone
		s.toneStreakCount = 1
	}
}

// recordComment appends to the global log and trims old entries
func (s *session) recordComment(c emittedComment) {
	s.comments = append(s.comments, c)
	if len(s.comments) > maxCommentLog {
		s.comments = s.comments[len(s.comments)-maxCommentLog:]
	}
}

// windowCounts returns the number of comments in the rolling output
// window, total and per persona/base identity.
func (s *session) windowCounts(now time.Time) (total int, byPersona, byBase map[string]int) {
	byPersona = make(map[string]int)
	byBase = make(map[string]int)
	cutoff := now.Add(-time.Duration(windowMs) * time.Millisecond)
	for _, c := range s.comments {
		if c.at.After(cutoff) {
			total++
			byPersona[c.personaID]++
			byBase[c.baseID]++
		}
	}
	return total, byPersona, byBase
}

// densityNorm estimates recent comment pressure for the energy composite
func (s *session) densityNorm(now time.Time) float64 {
	cutoff := now.Add(-30 * time.Second)
	n := 0
	for _, c := range s.comments {
		if c.at.After(cutoff) {
			n++
		}
	}
	norm := float64(n) / 6
	if norm > 1 {
		norm = 1
	}
	return norm
}

// lastToneUse returns how many comments ago a tone variant last spoke;
// returns len(comments)+1 when it never did.
func (s *session) lastToneUse(tone scene.Tone) int {
	for i := len(s.comments) - 1; i >= 0; i-- {
		if s.comments[i].tone == tone {
			return len(s.comments) - i
		}
	}
	return len(s.comments) + 1
}

// topicOverlap reports whether a persona covered any current keyword
// within the recent overlap span.
func (s *session) topicOverlap(ps *personaState, keywords []string, now time.Time) bool {
	if ps.lastEmission.IsZero() || now.Sub(ps.lastEmission) > topicOverlapSpan {
		return false
	}
	for _, kw := range keywords {
		for _, t := range ps.memory.topics {
			if t == kw {
				return true
			}
		}
	}
	return false
}
