package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mwatts/peanutgallery/internal/logging"
	"github.com/mwatts/peanutgallery/internal/types"
)

// Event is one recorded line of a capture session: either a cue batch
// arriving or a playback status change.
type Event struct {
	Type     string                `json:"type"` // cue, playback
	Cue      *types.SubtitleCue    `json:"cue,omitempty"`
	Playback *types.PlaybackStatus `json:"playback,omitempty"`
}

// Processor is the engine surface a replay needs
type Processor interface {
	ProcessCueBatch(ctx context.Context, cues []types.SubtitleCue, prefs types.UserPreferences) types.Result
	UpdatePlaybackStatus(status types.PlaybackStatus)
}

// Summary aggregates one replay run
type Summary struct {
	Events     int                      `json:"events"`
	Comments   []types.GeneratedComment `json:"comments"`
	PerPersona map[string]int           `json:"per_persona"`
	LLMCalls   int                      `json:"llm_calls"`
	CacheHits  int                      `json:"cache_hits"`
	Final      types.Metrics            `json:"final_metrics"`
	Repetition Report                   `json:"repetition"`
}

// ReadSession parses a JSONL capture file. Blank lines are skipped;
// malformed lines abort with a line-numbered error.
func ReadSession(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("session line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return events, nil
}

// Run feeds a recorded session through the engine and summarizes what
// came back.
func Run(ctx context.Context, proc Processor, events []Event, prefs types.UserPreferences) Summary {
	summary := Summary{PerPersona: make(map[string]int)}
	for _, ev := range events {
		summary.Events++
		switch ev.Type {
		case "playback":
			if ev.Playback != nil {
				proc.UpdatePlaybackStatus(*ev.Playback)
			}
		case "cue":
			if ev.Cue == nil {
				continue
			}
			res := proc.ProcessCueBatch(ctx, []types.SubtitleCue{*ev.Cue}, prefs)
			summary.Comments = append(summary.Comments, res.Comments...)
			summary.LLMCalls += res.Metrics.LLMCalls
			summary.CacheHits += res.Metrics.CacheHits
			summary.Final = res.Metrics
			for _, c := range res.Comments {
				summary.PerPersona[c.PersonaID]++
			}
		default:
			logging.Debug("replay", "unknown event type %q skipped", ev.Type)
		}
	}
	summary.Repetition = Analyze(summary.Comments)
	return summary
}
