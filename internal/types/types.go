package types

import "time"

// SubtitleCue is one subtitle line with timing and source metadata
type SubtitleCue struct {
	ContentID string `json:"content_id"`
	CueID     string `json:"cue_id"`
	Text      string `json:"text"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
	Source    string `json:"source"` // player-api, dom-fallback
}

// Density controls how often reactions are allowed to appear
type Density string

const (
	DensityLow    Density = "low"
	DensityMedium Density = "medium"
	DensityHigh   Density = "high"
)

// DensityInterval returns the minimum gap between reactions for a density
// setting. Unknown values fall back to medium.
func DensityInterval(d Density) time.Duration {
	switch d {
	case DensityLow:
		return 25 * time.Second
	case DensityHigh:
		return 8 * time.Second
	default:
		return 15 * time.Second
	}
}

// UserPreferences drives gating and per-persona toggles.
// PersonaEnabled is keyed by preference key (base persona id), so one
// toggle covers every variant of that voice.
type UserPreferences struct {
	GlobalEnabled  bool            `json:"global_enabled"`
	Density        Density         `json:"density"`
	PersonaEnabled map[string]bool `json:"persona_enabled"`
	DeveloperMode  bool            `json:"developer_mode"`
}

// PlaybackState is the player's coarse transport state
type PlaybackState string

const (
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackSeeking PlaybackState = "seeking"
)

// PlaybackStatus is the last known player state
type PlaybackStatus struct {
	State      PlaybackState `json:"state"`
	PositionMs int64         `json:"position_ms"`
	ContentID  string        `json:"content_id"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// GeneratedComment is one reaction handed to the renderer
type GeneratedComment struct {
	ID         string    `json:"id"`
	PersonaID  string    `json:"persona_id"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
	RenderAtMs int64     `json:"render_at_ms"` // position on the content timeline
	DurationMs int64     `json:"duration_ms"`
}

// Metrics is the per-call snapshot returned alongside comments.
// Accumulated write-only during a batch, reduced at the end, never persisted.
type Metrics struct {
	Timestamp           time.Time `json:"timestamp"`
	CacheHits           int       `json:"cache_hits"`
	CacheMisses         int       `json:"cache_misses"`
	LLMCalls            int       `json:"llm_calls"`
	AvgLLMLatencyMs     float64   `json:"avg_llm_latency_ms"`
	AvgGenLatencyMs     float64   `json:"avg_gen_latency_ms"`
	GeneratedCount      int       `json:"generated_count"`
	SkippedByThrottle   int       `json:"skipped_by_throttle"`
	SkippedByHeuristics int       `json:"skipped_by_heuristics"`
	SkippedByLock       int       `json:"skipped_by_lock"`
	DuplicatesFiltered  int       `json:"duplicates_filtered"`
	LowRelevanceDrops   int       `json:"low_relevance_drops"`
	LowStyleFitDrops    int       `json:"low_style_fit_drops"`
	SanitizedDrops      int       `json:"sanitized_drops"`
	PrunedByReranker    int       `json:"pruned_by_reranker"`
	FallbackResponses   int       `json:"fallback_responses"`
	EnergyState         string    `json:"energy_state"`
	WindowCommentTotal  int       `json:"window_comment_total"`
	ActiveContentID     string    `json:"active_content_id"`

	// Developer mode only
	CacheSizeGlobalBytes int64   `json:"cache_size_global_bytes,omitempty"`
	CacheSizeActiveBytes int64   `json:"cache_size_active_bytes,omitempty"`
	ProcessRSSBytes      uint64  `json:"process_rss_bytes,omitempty"`
	ProcessCPUPercent    float64 `json:"process_cpu_percent,omitempty"`
}

// Result is the engine's answer to one cue batch
type Result struct {
	Comments []GeneratedComment `json:"comments"`
	Metrics  Metrics            `json:"metrics"`
}
