package orchestrator

import (
	"github.com/cespare/xxhash/v2"
)

// hashUnit maps a set of string parts to a stable float in [0, 1).
// Scheduling jitter, skip rolls, and template choice all draw from it so
// identical inputs always reproduce the same decisions.
func hashUnit(parts ...string) float64 {
	h := xxhash.New()
	for _, p := range parts {
		h.WriteString(p)
		h.WriteString("\x1f")
	}
	return float64(h.Sum64()%1_000_000_000) / 1_000_000_000
}

// hashPick selects an index in [0, n) from the same stable hash
func hashPick(n int, parts ...string) int {
	if n <= 0 {
		return 0
	}
	return int(hashUnit(parts...) * float64(n))
}
