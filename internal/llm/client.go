package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/mwatts/peanutgallery/internal/logging"
)

const (
	defaultTimeout   = 8 * time.Second
	maxRetries       = 2
	retryBaseDelay   = 2 * time.Second
	defaultMaxTokens = 120
)

// Message is one chat turn sent to the completion endpoint
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call. Sampling knobs come from the
// persona so each voice keeps its own variance; PersonaID travels along
// for attribution in logs and fallback handling.
type Request struct {
	PersonaID   string
	Messages    []Message
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Response carries the completion text plus provenance. Fallback responses
// come from the built-in generator when the endpoint is unreachable;
// FallbackReason says why the endpoint was bypassed.
type Response struct {
	Text           string
	UsingFallback  bool
	FallbackReason string
}

// Status reflects the last call outcome
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

// Fallback produces a completion without the network. The zero value of
// Client uses a canned-line generator; tests substitute their own.
type Fallback interface {
	Complete(req Request) string
}

// Client talks to an OpenAI-compatible chat-completions endpoint. Complete
// never returns an error: on failure it degrades to the fallback so the
// viewing session keeps flowing.
type Client struct {
	baseURL  string
	apiKey   string
	model    string
	client   *http.Client
	fallback Fallback

	mu         sync.Mutex
	lastStatus Status
}

// Config holds endpoint settings; zero values select the fallback-only mode
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// NewClient creates a completion client. With an empty BaseURL every call
// uses the fallback generator.
func NewClient(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		client:     &http.Client{Timeout: defaultTimeout},
		fallback:   cannedFallback{},
		lastStatus: StatusOK,
	}
}

// SetFallback replaces the offline generator
func (c *Client) SetFallback(f Fallback) {
	if f != nil {
		c.fallback = f
	}
}

// LastStatus reports whether the most recent call reached the endpoint
func (c *Client) LastStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.lastStatus = s
	c.mu.Unlock()
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete runs the chat completion, retrying transient failures with
// exponential backoff. It always returns a usable response.
func (c *Client) Complete(ctx context.Context, req Request) Response {
	if c.baseURL == "" {
		c.setStatus(StatusDegraded)
		return Response{
			Text:           c.fallback.Complete(req),
			UsingFallback:  true,
			FallbackReason: "endpoint not configured",
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = maxRetries + 1
			case <-time.After(delay):
			}
			if lastErr != nil {
				break
			}
		}

		text, err := c.call(ctx, req)
		if err == nil {
			c.setStatus(StatusOK)
			return Response{Text: text}
		}
		lastErr = err
		logging.Debug("llm", "attempt %d failed: %v", attempt+1, err)
		if ctx.Err() != nil {
			break
		}
	}

	logging.Info("llm", "completion for %s degraded to fallback: %v", req.PersonaID, lastErr)
	c.setStatus(StatusDegraded)
	reason := "retries exhausted"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return Response{
		Text:           c.fallback.Complete(req),
		UsingFallback:  true,
		FallbackReason: reason,
	}
}

func (c *Client) call(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion error (status %d): %s", resp.StatusCode, string(raw))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty completion")
	}
	return result.Choices[0].Message.Content, nil
}
