package orchestrator

import (
	"time"

	"github.com/mwatts/peanutgallery/internal/types"
)

// metricsAccumulator collects per-batch counters. It is write-only during
// the call and reduced to a snapshot at the end; nothing here persists.
type metricsAccumulator struct {
	cacheHits           int
	cacheMisses         int
	llmCalls            int
	llmLatencySum       time.Duration
	genLatencySum       time.Duration
	generated           int
	skippedByThrottle   int
	skippedByHeuristics int
	skippedByLock       int
	duplicatesFiltered  int
	lowRelevanceDrops   int
	lowStyleFitDrops    int
	sanitizedDrops      int
	prunedByReranker    int
	fallbackResponses   int
}

func (m *metricsAccumulator) snapshot(now time.Time, energy string, windowTotal int, contentID string) types.Metrics {
	out := types.Metrics{
		Timestamp:           now,
		CacheHits:           m.cacheHits,
		CacheMisses:         m.cacheMisses,
		LLMCalls:            m.llmCalls,
		GeneratedCount:      m.generated,
		SkippedByThrottle:   m.skippedByThrottle,
		SkippedByHeuristics: m.skippedByHeuristics,
		SkippedByLock:       m.skippedByLock,
		DuplicatesFiltered:  m.duplicatesFiltered,
		LowRelevanceDrops:   m.lowRelevanceDrops,
		LowStyleFitDrops:    m.lowStyleFitDrops,
		SanitizedDrops:      m.sanitizedDrops,
		PrunedByReranker:    m.prunedByReranker,
		FallbackResponses:   m.fallbackResponses,
		EnergyState:         energy,
		WindowCommentTotal:  windowTotal,
		ActiveContentID:     contentID,
	}
	if m.llmCalls > 0 {
		out.AvgLLMLatencyMs = float64(m.llmLatencySum.Milliseconds()) / float64(m.llmCalls)
	}
	if m.generated > 0 {
		out.AvgGenLatencyMs = float64(m.genLatencySum.Milliseconds()) / float64(m.generated)
	}
	return out
}
