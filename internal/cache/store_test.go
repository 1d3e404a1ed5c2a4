package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "comments.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissThenHit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.Get(ctx, "show-1", "cue-1", "alex")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatal("expected miss on empty store")
	}

	err = s.Put(ctx, Record{
		ContentID:     "show-1",
		CueID:         "cue-1",
		PersonaID:     "alex",
		StartMs:       12000,
		PromptHash:    "abc123",
		PromptVersion: 3,
		Tone:          "tense",
		Energy:        "high",
		Intensity:     0.8,
		Text:          "Okay that escalated fast.",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, err = s.Get(ctx, "show-1", "cue-1", "alex")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("expected hit")
	}
	if rec.Text != "Okay that escalated fast." || rec.Tone != "tense" || rec.PromptVersion != 3 {
		t.Errorf("record round-trip wrong: %+v", rec)
	}
	if rec.ID == "" || rec.SizeBytes == 0 {
		t.Errorf("id and size should be filled in: %+v", rec)
	}
}

func TestPutReplacesSameKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"first take", "second take"} {
		if err := s.Put(ctx, Record{
			ContentID: "show-1", CueID: "cue-1", PersonaID: "casey",
			PromptHash: "h", Text: text,
		}); err != nil {
			t.Fatal(err)
		}
	}

	rec, err := s.Get(ctx, "show-1", "cue-1", "casey")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Text != "second take" {
		t.Errorf("expected replacement, got %q", rec.Text)
	}

	report, _, err := s.SizeReport(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report) != 1 || report[0].Entries != 1 {
		t.Errorf("same key should not duplicate rows: %+v", report)
	}
}

func TestLRUEviction(t *testing.T) {
	s := openTestStore(t)
	// Each record is ~180 bytes with overhead; budget fits about 3.
	s.SetBudgets(600, 10000)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.Put(ctx, Record{
			ContentID:    "show-1",
			CueID:        fmt.Sprintf("cue-%d", i),
			PersonaID:    "alex",
			PromptHash:   "h",
			Text:         strings.Repeat("x", 100),
			LastAccessed: time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// Oldest-accessed entries go first.
	rec, err := s.Get(ctx, "show-1", "cue-0", "alex")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Error("cue-0 should have been evicted")
	}
	rec, err = s.Get(ctx, "show-1", "cue-4", "alex")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Error("cue-4 is the newest and must survive")
	}

	_, total, err := s.SizeReport(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total > 600 {
		t.Errorf("total %d exceeds per-content budget", total)
	}
}

func TestGlobalEvictionSparesOtherTitlesBudget(t *testing.T) {
	s := openTestStore(t)
	s.SetBudgets(10000, 700)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		for _, content := range []string{"show-a", "show-b"} {
			err := s.Put(ctx, Record{
				ContentID:    content,
				CueID:        fmt.Sprintf("cue-%d", i),
				PersonaID:    "sam",
				PromptHash:   "h",
				Text:         strings.Repeat("y", 100),
				LastAccessed: time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
			})
			if err != nil {
				t.Fatal(err)
			}
		}
	}

	_, total, err := s.SizeReport(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total > 700 {
		t.Errorf("global budget not enforced: total=%d", total)
	}
}

func TestPurgeFuture(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, start := range []int64{5000, 15000, 25000} {
		err := s.Put(ctx, Record{
			ContentID: "show-1", CueID: fmt.Sprintf("cue-%d", i), PersonaID: "alex",
			StartMs: start, PromptHash: "h", Text: "t",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.PurgeFuture(ctx, "show-1", 15000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 purged, got %d", n)
	}

	rec, _ := s.Get(ctx, "show-1", "cue-0", "alex")
	if rec == nil {
		t.Error("entry before the purge point must survive")
	}
	rec, _ = s.Get(ctx, "show-1", "cue-1", "alex")
	if rec != nil {
		t.Error("entry at the purge point must be gone")
	}
}

func TestClearContentAndAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"show-a", "show-b"} {
		if err := s.Put(ctx, Record{
			ContentID: content, CueID: "cue-1", PersonaID: "alex",
			PromptHash: "h", Text: "t",
		}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.ClearContent(ctx, "show-a")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 cleared, got %d", n)
	}

	if err := s.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	report, total, err := s.SizeReport(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report) != 0 || total != 0 {
		t.Errorf("store should be empty, got %+v total=%d", report, total)
	}
}
