package orchestrator

import (
	"sort"
	"strings"
	"time"

	"github.com/mwatts/peanutgallery/internal/logging"
)

// banSource records why a token was banned
type banSource string

const (
	banFromKeyword banSource = "keyword"
	banFromTic     banSource = "speech_tic"
	banFromGlobal  banSource = "global"
)

const (
	banTTL            = 90 * time.Second
	banUsageWindow    = 90 * time.Second
	banUsageThreshold = 3
	ticBanThreshold   = 3
	ticUsageWindow    = 2 * time.Minute
	personaBanCap     = 8
	globalBanCap      = 24
)

type banEntry struct {
	token     string
	source    banSource
	createdAt time.Time
	expiresAt time.Time
	hits      int
}

// banLedger is one capped, TTL-expiring set of banned tokens
type banLedger struct {
	entries []banEntry
	cap     int
}

func (l *banLedger) prune(now time.Time) {
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.expiresAt.After(now) {
			kept = append(kept, e)
		}
	}
	l.entries = kept
}

func (l *banLedger) has(token string, now time.Time) bool {
	for _, e := range l.entries {
		if e.token == token && e.expiresAt.After(now) {
			return true
		}
	}
	return false
}

// add creates or refreshes a ban. Repeat hits extend the expiry rather
// than duplicating the entry. Oldest entry is evicted on overflow.
func (l *banLedger) add(token string, source banSource, now time.Time) {
	l.prune(now)
	for i := range l.entries {
		if l.entries[i].token == token {
			l.entries[i].expiresAt = now.Add(banTTL)
			l.entries[i].hits++
			return
		}
	}
	if len(l.entries) >= l.cap {
		oldest := 0
		for i := range l.entries {
			if l.entries[i].createdAt.Before(l.entries[oldest].createdAt) {
				oldest = i
			}
		}
		l.entries = append(l.entries[:oldest], l.entries[oldest+1:]...)
	}
	l.entries = append(l.entries, banEntry{
		token:     token,
		source:    source,
		createdAt: now,
		expiresAt: now.Add(banTTL),
		hits:      1,
	})
}

// releaseOldest drops the oldest entry; reports whether one existed
func (l *banLedger) releaseOldest(now time.Time) (string, bool) {
	l.prune(now)
	if len(l.entries) == 0 {
		return "", false
	}
	oldest := 0
	for i := range l.entries {
		if l.entries[i].createdAt.Before(l.entries[oldest].createdAt) {
			oldest = i
		}
	}
	token := l.entries[oldest].token
	l.entries = append(l.entries[:oldest], l.entries[oldest+1:]...)
	return token, true
}

// banState holds both ledgers plus the token-usage history that feeds
// ban creation.
type banState struct {
	perPersona map[string]*banLedger
	global     *banLedger
	usage      map[string][]time.Time
}

func newBanState() *banState {
	return &banState{
		perPersona: make(map[string]*banLedger),
		global:     &banLedger{cap: globalBanCap},
		usage:      make(map[string][]time.Time),
	}
}

func (b *banState) ledgerFor(personaID string) *banLedger {
	l, ok := b.perPersona[personaID]
	if !ok {
		l = &banLedger{cap: personaBanCap}
		b.perPersona[personaID] = l
	}
	return l
}

// NoteOutput records an emitted text's tokens and creates global bans for
// any token crossing the usage threshold inside the rolling window.
func (b *banState) NoteOutput(text string, now time.Time) {
	for _, token := range contentTokens(text) {
		times := append(b.usage[token], now)
		cutoff := now.Add(-banUsageWindow)
		kept := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		b.usage[token] = kept
		if len(kept) >= banUsageThreshold {
			b.global.add(token, banFromKeyword, now)
			logging.Debug("bans", "token %q banned after %d recent uses", token, len(kept))
		}
	}
}

// NoteTic tracks speech-tic usage and escalates overused tics to a
// persona-level ban.
func (b *banState) NoteTic(personaID, tic string, now time.Time, history []time.Time) []time.Time {
	cutoff := now.Add(-ticUsageWindow)
	kept := history[:0]
	for _, t := range history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	if len(kept) >= ticBanThreshold {
		b.ledgerFor(personaID).add(strings.ToLower(tic), banFromTic, now)
	}
	return kept
}

// Banned reports whether a token is banned for this persona or globally
func (b *banState) Banned(personaID, token string, now time.Time) bool {
	token = strings.ToLower(token)
	if b.global.has(token, now) {
		return true
	}
	return b.ledgerFor(personaID).has(token, now)
}

// FilterKeywords drops banned keywords. If banning would leave nothing,
// the oldest ban is released (persona ledger preferred) and the original
// list is returned unfiltered.
func (b *banState) FilterKeywords(personaID string, keywords []string, now time.Time) []string {
	if len(keywords) == 0 {
		return nil
	}
	var usable []string
	for _, kw := range keywords {
		if !b.Banned(personaID, kw, now) {
			usable = append(usable, kw)
		}
	}
	if len(usable) > 0 {
		return usable
	}

	if token, ok := b.ledgerFor(personaID).releaseOldest(now); ok {
		logging.Debug("bans", "released persona ban %q to keep a keyword cue", token)
	} else if token, ok := b.global.releaseOldest(now); ok {
		logging.Debug("bans", "released global ban %q to keep a keyword cue", token)
	}
	out := make([]string, len(keywords))
	copy(out, keywords)
	return out
}

// ActiveTokens lists currently banned tokens for prompt reuse-guard lines
func (b *banState) ActiveTokens(personaID string, now time.Time) []string {
	seen := make(map[string]bool)
	var out []string
	collect := func(l *banLedger) {
		l.prune(now)
		for _, e := range l.entries {
			if !seen[e.token] {
				seen[e.token] = true
				out = append(out, e.token)
			}
		}
	}
	collect(b.global)
	collect(b.ledgerFor(personaID))
	sort.Strings(out)
	return out
}

// contentTokens splits a text into lowercase tokens worth tracking
func contentTokens(text string) []string {
	var out []string
	for _, raw := range strings.Fields(text) {
		word := strings.ToLower(strings.Trim(raw, ".,!?;:'\"()[]{}…"))
		if len(word) < 4 {
			continue
		}
		out = append(out, word)
	}
	return out
}
