package llm

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// cannedFallback emits short generic reactions when the endpoint is
// unavailable. The line is picked deterministically from the request so a
// replayed session degrades the same way twice.
type cannedFallback struct{}

var fallbackLines = map[string][]string{
	"tense": {
		"Okay, I'm holding my breath here.",
		"This is not going to end well.",
		"Everyone stay calm. Nobody is staying calm.",
	},
	"humorous": {
		"Okay that timing was perfect.",
		"I did not expect that, well played.",
		"The comedic delivery here is elite.",
	},
	"sad": {
		"Oof, that one hurt.",
		"Not me getting emotional over this...",
		"That quiet moment says everything.",
	},
	"romantic": {
		"Oh, the slow burn is burning.",
		"They are so obviously meant for each other.",
	},
	"thrilling": {
		"Whoa, things are moving fast now.",
		"Did NOT see that coming.",
	},
	"mystery": {
		"Something is off about this whole setup.",
		"Filing that detail away for later.",
	},
	"default": {
		"Interesting turn here.",
		"Watching this closely.",
		"Okay, noted.",
	},
}

func (cannedFallback) Complete(req Request) string {
	var sb strings.Builder
	for _, m := range req.Messages {
		sb.WriteString(m.Content)
	}
	seed := xxhash.Sum64String(sb.String())

	lines := fallbackLines["default"]
	lower := strings.ToLower(sb.String())
	for _, tone := range []string{"tense", "humorous", "sad", "romantic", "thrilling", "mystery"} {
		if strings.Contains(lower, tone) {
			lines = fallbackLines[tone]
			break
		}
	}
	return lines[seed%uint64(len(lines))]
}
