package replay

import (
	"sort"
	"strings"

	"github.com/mwatts/peanutgallery/internal/types"
)

// TokenCount pairs a token or phrase with its usage count
type TokenCount struct {
	Token string `json:"token"`
	Count int    `json:"count"`
}

// Report describes how repetitive a run's output was. UniqueRatio is
// distinct texts over total; tokens and bigrams are listed when they
// recur across comments.
type Report struct {
	Total           int          `json:"total"`
	UniqueRatio     float64      `json:"unique_ratio"`
	RepeatedTokens  []TokenCount `json:"repeated_tokens,omitempty"`
	RepeatedBigrams []TokenCount `json:"repeated_bigrams,omitempty"`
}

const topRepeats = 10

// Analyze computes repetition statistics over a comment list
func Analyze(comments []types.GeneratedComment) Report {
	report := Report{Total: len(comments)}
	if len(comments) == 0 {
		report.UniqueRatio = 1
		return report
	}

	texts := make(map[string]bool)
	tokenCounts := make(map[string]int)
	bigramCounts := make(map[string]int)

	for _, c := range comments {
		norm := strings.ToLower(strings.TrimSpace(c.Text))
		texts[norm] = true

		var prev string
		for _, raw := range strings.Fields(norm) {
			token := strings.Trim(raw, ".,!?;:'\"()…")
			if len(token) < 4 {
				prev = ""
				continue
			}
			tokenCounts[token]++
			if prev != "" {
				bigramCounts[prev+" "+token]++
			}
			prev = token
		}
	}

	report.UniqueRatio = float64(len(texts)) / float64(len(comments))
	report.RepeatedTokens = topCounts(tokenCounts, 2)
	report.RepeatedBigrams = topCounts(bigramCounts, 2)
	return report
}

// topCounts extracts entries at or above min, ordered by count then token
func topCounts(counts map[string]int, min int) []TokenCount {
	var out []TokenCount
	for token, n := range counts {
		if n >= min {
			out = append(out, TokenCount{Token: token, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Token < out[j].Token
	})
	if len(out) > topRepeats {
		out = out[:topRepeats]
	}
	return out
}
