package orchestrator

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mwatts/peanutgallery/internal/cache"
	"github.com/mwatts/peanutgallery/internal/llm"
	"github.com/mwatts/peanutgallery/internal/logging"
	"github.com/mwatts/peanutgallery/internal/persona"
	"github.com/mwatts/peanutgallery/internal/scene"
	"github.com/mwatts/peanutgallery/internal/types"
)

// Classifier turns a cue window into a scene descriptor
type Classifier interface {
	Analyze(cues []types.SubtitleCue) scene.Analysis
}

// CacheStore persists generated reactions across sessions
type CacheStore interface {
	Get(ctx context.Context, contentID, cueID, personaID string) (*cache.Record, error)
	Put(ctx context.Context, rec cache.Record) error
	PurgeFuture(ctx context.Context, contentID string, fromMs int64) (int64, error)
	SizeReport(ctx context.Context) ([]cache.ContentSize, int64, error)
}

// Completer produces reaction text; it never fails, only degrades
type Completer interface {
	Complete(ctx context.Context, req llm.Request) llm.Response
}

// Registry supplies the active persona set
type Registry interface {
	ActivePersonas() []persona.Persona
	Subscribe(fn func(variantID string))
}

// ProcessStats samples host process usage for developer-mode metrics
type ProcessStats interface {
	Sample() (rssBytes uint64, cpuPercent float64, err error)
}

// Engine is the persona response orchestrator. All collaborators are
// injected; the engine owns every piece of mutable session state and
// serializes access with one mutex so host calls may interleave freely.
type Engine struct {
	classifier Classifier
	cache      CacheStore
	completer  Completer
	registry   Registry
	stats      ProcessStats
	now        func() time.Time

	mu      sync.Mutex
	sess    *session
	bans    *banState
	energy  *energyMachine
	entropy *rand.Rand
}

// Option customizes engine construction
type Option func(*Engine)

// WithClock substitutes the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithProcessStats enables developer-mode process metrics
func WithProcessStats(stats ProcessStats) Option {
	return func(e *Engine) { e.stats = stats }
}

// NewEngine builds an engine around the injected collaborators. A roster
// variant switch clears persona runtime state since the old voices no
// longer exist.
func NewEngine(classifier Classifier, store CacheStore, completer Completer, registry Registry, opts ...Option) *Engine {
	e := &Engine{
		classifier: classifier,
		cache:      store,
		completer:  completer,
		registry:   registry,
		now:        time.Now,
		entropy:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sess = newSession("")
	e.bans = newBanState()
	e.energy = newEnergyMachine(e.now())

	registry.Subscribe(func(variantID string) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.resetRuntimeLocked()
		logging.Debug("engine", "persona runtime cleared after variant switch to %s", variantID)
	})
	return e
}

// GetActiveContentID returns the content id of the current session
func (e *Engine) GetActiveContentID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.contentID
}

// UpdatePlaybackStatus records the player state and resets session state
// on content change, seek, or a backward jump. Resets are wholesale so an
// interleaved ProcessCueBatch never sees torn state.
func (e *Engine) UpdatePlaybackStatus(status types.PlaybackStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.sess.playback
	switch {
	case status.ContentID != "" && status.ContentID != e.sess.contentID:
		e.resetSessionLocked(status.ContentID)
	case status.State == types.PlaybackSeeking:
		e.resetRuntimeLocked()
	case e.sess.playbackKnown && status.ContentID == prev.ContentID &&
		status.PositionMs < prev.PositionMs-backwardSeekMs:
		e.resetRuntimeLocked()
	}

	e.sess.playback = status
	e.sess.playbackKnown = true
}

// ResetAfterRegeneration purges cached reactions from the current
// position forward and clears runtime state. Safe to call repeatedly.
func (e *Engine) ResetAfterRegeneration(ctx context.Context) error {
	e.mu.Lock()
	contentID := e.sess.contentID
	fromMs := e.sess.playback.PositionMs
	e.resetRuntimeLocked()
	e.mu.Unlock()

	if contentID == "" {
		return nil
	}
	n, err := e.cache.PurgeFuture(ctx, contentID, fromMs)
	if err != nil {
		return err
	}
	logging.Info("engine", "regeneration purged %d cached reactions for %s", n, contentID)
	return nil
}

// resetSessionLocked starts a fresh session for a new title. Bans and
// energy reset with it: they describe the old viewing context.
func (e *Engine) resetSessionLocked(contentID string) {
	e.sess = newSession(contentID)
	e.bans = newBanState()
	e.energy = newEnergyMachine(e.now())
}

// resetRuntimeLocked clears persona memory, cadence timers, the cue
// window, and the comment log, keeping the content binding.
func (e *Engine) resetRuntimeLocked() {
	e.sess.personas = make(map[string]*personaState)
	e.sess.cueWindow = nil
	e.sess.comments = nil
	e.sess.toneStreak = ""
	e.sess.toneStreakCount = 0
}

// ProcessCueBatch is the single entry point: classify the window, gate
// and schedule personas, acquire and evaluate candidates, select a
// bounded subset, and commit the winners.
func (e *Engine) ProcessCueBatch(ctx context.Context, cues []types.SubtitleCue, prefs types.UserPreferences) types.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	m := &metricsAccumulator{}

	if !prefs.GlobalEnabled || len(cues) == 0 {
		return types.Result{Metrics: m.snapshot(now, string(e.energy.state), 0, e.sess.contentID)}
	}
	if e.sess.playbackKnown && e.sess.playback.State != types.PlaybackPlaying {
		return types.Result{Metrics: m.snapshot(now, string(e.energy.state), 0, e.sess.contentID)}
	}

	if cues[0].ContentID != "" && cues[0].ContentID != e.sess.contentID {
		e.resetSessionLocked(cues[0].ContentID)
	}
	e.sess.mergeCues(cues)

	analysis := e.classifier.Analyze(e.sess.cueWindow)
	e.sess.noteTone(analysis.Tone)
	composite := energyComposite(e.sess.densityNorm(now), analysis.Energy, e.sess.toneStreakCount)
	state := e.energy.Update(now, composite)

	windowTotal, byPersona, byBase := e.sess.windowCounts(now)
	finish := func(comments []types.GeneratedComment) types.Result {
		snap := m.snapshot(now, string(state), windowTotal+len(comments), e.sess.contentID)
		if prefs.DeveloperMode {
			e.enrichDevMetrics(ctx, &snap)
		}
		return types.Result{Comments: comments, Metrics: snap}
	}

	if !analysis.ShouldRespond {
		m.skippedByHeuristics++
		return finish(nil)
	}
	slots := maxPerWindow - windowTotal
	if slots <= 0 {
		return finish(nil)
	}
	// Id-less cues never enter the window; a batch of only those leaves
	// nothing to anchor scheduling on.
	if len(e.sess.cueWindow) == 0 {
		return finish(nil)
	}

	anchor := e.sess.cueWindow[len(e.sess.cueWindow)-1]
	ordered := e.schedulePersonas(e.registry.ActivePersonas(), analysis, anchor.CueID, anchor.StartMs, now)

	var pool []*candidate
	for i := range ordered {
		p := &ordered[i]
		ps := e.sess.personaState(p.ID)

		reason, forced := e.gatePersona(p, ps, analysis, anchor, prefs, byPersona, byBase, now)
		if reason != skipNone && !forced {
			m.noteSkip(reason)
			continue
		}

		cand := e.acquireCandidate(ctx, p, ps, analysis, anchor, prefs, now, m)
		if cand == nil {
			continue
		}
		if e.sess.isDuplicate(cand.text, now) {
			m.duplicatesFiltered++
			continue
		}
		rel := relevanceScore(cand.text, analysis)
		if rel < minRelevance {
			m.lowRelevanceDrops++
			continue
		}
		sf := styleFitScore(cand.text, p, analysis.Tone)
		if sf < minStyleFit {
			m.lowStyleFitDrops++
			continue
		}
		cand.relevance = rel
		cand.styleFit = sf
		cand.score = e.scoreCandidate(cand, analysis, now)
		pool = append(pool, cand)
	}

	selected := selectCandidates(pool, slots, byPersona, byBase, m)
	slotsPlan := e.renderPlan(selected)

	comments := make([]types.GeneratedComment, 0, len(selected))
	for i, c := range selected {
		// Earlier commits in this batch may have made a lower-ranked
		// candidate a duplicate; re-check against the live log.
		if e.sess.isDuplicate(c.text, now) {
			m.duplicatesFiltered++
			continue
		}
		comments = append(comments, e.commit(ctx, c, slotsPlan[i], analysis, now, m))
	}
	return finish(comments)
}

// commit registers a selected candidate into every history and writes it
// back to the cache.
func (e *Engine) commit(ctx context.Context, c *candidate, slot renderSlot, analysis scene.Analysis, now time.Time, m *metricsAccumulator) types.GeneratedComment {
	ps := e.sess.personaState(c.persona.ID)
	ps.recordOutput(c.text, c.tone, now)
	ps.answeredCues[c.cueID] = true
	ps.memory.rememberTopics(analysis.Keywords)
	ps.memory.rememberReaction(c.text)
	for _, shape := range c.usedShapes {
		ps.noteShape(shape)
	}
	for _, idx := range c.usedShots {
		ps.fewShotLastUsed[idx] = now
	}

	e.sess.recordComment(emittedComment{
		personaID: c.persona.ID,
		baseID:    c.persona.BasePersonaID,
		tone:      c.tone,
		text:      c.text,
		tokens:    strings.Fields(normalizeText(c.text)),
		at:        now,
	})
	e.bans.NoteOutput(c.text, now)

	if err := e.cache.Put(ctx, cache.Record{
		ContentID:     e.sess.contentID,
		CueID:         c.cueID,
		PersonaID:     c.persona.ID,
		StartMs:       c.cueStartMs,
		PromptHash:    c.promptHash,
		PromptVersion: promptVersion,
		Tone:          string(c.tone),
		Energy:        string(c.energy),
		Intensity:     intensityNorm(analysis.ToneIntensity),
		Text:          c.text,
	}); err != nil {
		logging.Debug("engine", "cache write failed for %s/%s: %v", c.cueID, c.persona.ID, err)
	}

	if c.kind == commitGenerated {
		m.generated++
	}

	return types.GeneratedComment{
		ID:         ulid.MustNew(ulid.Timestamp(now), e.entropy).String(),
		PersonaID:  c.persona.ID,
		Text:       c.text,
		CreatedAt:  now,
		RenderAtMs: slot.renderAtMs,
		DurationMs: slot.durationMs,
	}
}

// enrichDevMetrics attaches cache sizes and process usage. Failures are
// logged and ignored; observability never blocks the response path.
func (e *Engine) enrichDevMetrics(ctx context.Context, snap *types.Metrics) {
	report, total, err := e.cache.SizeReport(ctx)
	if err != nil {
		logging.Debug("engine", "cache size report failed: %v", err)
	} else {
		snap.CacheSizeGlobalBytes = total
		for _, cs := range report {
			if cs.ContentID == e.sess.contentID {
				snap.CacheSizeActiveBytes = cs.Bytes
			}
		}
	}
	if e.stats != nil {
		rss, cpu, err := e.stats.Sample()
		if err != nil {
			logging.Debug("engine", "process stats failed: %v", err)
		} else {
			snap.ProcessRSSBytes = rss
			snap.ProcessCPUPercent = cpu
		}
	}
}

func intensityNorm(i scene.Intensity) float64 {
	switch i {
	case scene.IntensityHigh:
		return 1.0
	case scene.IntensityMedium:
		return 0.66
	default:
		return 0.33
	}
}
