package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func chatHandler(t *testing.T, reply string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Messages) == 0 {
			t.Error("expected messages")
		}
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message Message `json:"message"`
			}{{Message: Message{Role: "assistant", Content: reply}}},
		})
	}
}

func TestCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, "Nice scene."))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"})
	resp := c.Complete(context.Background(), Request{
		Messages:    []Message{{Role: "user", Content: "React to this."}},
		Temperature: 0.8,
	})

	if resp.UsingFallback {
		t.Error("should not use fallback when endpoint works")
	}
	if resp.Text != "Nice scene." {
		t.Errorf("got %q", resp.Text)
	}
	if c.LastStatus() != StatusOK {
		t.Errorf("status should be ok, got %s", c.LastStatus())
	}
}

func TestCompleteRetriesThenRecovers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		chatHandler(t, "Second try.")(w, r)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	resp := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "Go"}},
	})

	if resp.UsingFallback || resp.Text != "Second try." {
		t.Errorf("expected recovery on retry, got %+v", resp)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestCompleteFallsBackAfterExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	resp := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "tense scene here"}},
	})

	if !resp.UsingFallback {
		t.Error("expected fallback response")
	}
	if resp.Text == "" {
		t.Error("fallback text must not be empty")
	}
	if resp.FallbackReason == "" {
		t.Error("fallback response must carry a reason")
	}
	if calls.Load() != 3 {
		t.Errorf("expected initial call plus 2 retries, got %d", calls.Load())
	}
	if c.LastStatus() != StatusDegraded {
		t.Errorf("status should be degraded, got %s", c.LastStatus())
	}
}

func TestCompleteUnconfiguredUsesFallback(t *testing.T) {
	c := NewClient(Config{})
	resp := c.Complete(context.Background(), Request{
		PersonaID: "alex",
		Messages:  []Message{{Role: "user", Content: "anything"}},
	})
	if !resp.UsingFallback || resp.Text == "" {
		t.Errorf("unconfigured client must use fallback, got %+v", resp)
	}
	if resp.FallbackReason != "endpoint not configured" {
		t.Errorf("got reason %q", resp.FallbackReason)
	}
}

func TestFallbackDeterministic(t *testing.T) {
	req := Request{Messages: []Message{{Role: "user", Content: "a sad goodbye at the station"}}}
	f := cannedFallback{}
	if f.Complete(req) != f.Complete(req) {
		t.Error("fallback must be deterministic for the same request")
	}
}

func TestCompleteHonorsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(Config{BaseURL: srv.URL})
	resp := c.Complete(ctx, Request{Messages: []Message{{Role: "user", Content: "x"}}})
	if !resp.UsingFallback {
		t.Error("cancelled context should degrade to fallback immediately")
	}
}
