// Package llm implements the single chat-completion primitive the rest of
// the engine depends on: messages in, text out, with retry/timeout/rate
// limiting and structured logging. Modeled on internal/agent/client.go
// of the orchestrator this engine grew out of, narrowed to a single
// OpenAI-chat-completions-shaped upstream.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/vampirenirmal/taletwo/internal/errs"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options controls a single Chat call. Zero value uses the gateway's
// configured default model. ReasoningEffort defaults to "low" and is
// logged with each call, but it is not included in the upstream request
// body, so it has no effect on the model call.
type Options struct {
	Model               string
	ResponseFormat      string // "json_object" or ""
	ReasoningEffort      string // not sent upstream
	MaxCompletionTokens int
	Tag                 string // logged alongside latency/prompt size
}

// Gateway is a stateless, re-entrant single chat-completion client. Many
// concurrent Chat calls may be in flight at once; nothing here is
// request-scoped state.
type Gateway struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithBaseURL overrides the default https://api.openai.com/v1.
func WithBaseURL(baseURL string) Option {
	return func(g *Gateway) { g.baseURL = baseURL }
}

// WithModel sets the default model used when Options.Model is empty.
func WithModel(model string) Option {
	return func(g *Gateway) { g.model = model }
}

// WithRetry sets the maximum number of retry attempts after the first.
func WithRetry(maxRetries int) Option {
	return func(g *Gateway) { g.maxRetries = maxRetries }
}

// WithTimeout overrides the HTTP client's per-request timeout, which
// bounds a single upstream call including its response body.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		transport := g.httpClient.Transport
		g.httpClient = &http.Client{Timeout: timeout, Transport: transport}
	}
}

// WithRateLimit bounds outbound request rate to the upstream provider.
func WithRateLimit(requestsPerMinute, burst int) Option {
	return func(g *Gateway) {
		g.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

// WithLogger overrides the default slog.Default().With("component", "llm_gateway").
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithHTTPClient overrides the underlying *http.Client entirely (tests
// inject one pointed at an httptest.Server).
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) { g.httpClient = client }
}

// New constructs a Gateway against apiKey, defaulting to the OpenAI
// chat-completions endpoint per spec.md §6's OPENAI_* env vars.
func New(apiKey string, opts ...Option) *Gateway {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	g := &Gateway{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
		model:   "gpt-4o-mini",
		httpClient: &http.Client{
			Timeout:   255 * time.Second,
			Transport: transport,
		},
		maxRetries: 3,
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		logger:     slog.Default().With("component", "llm_gateway"),
	}

	for _, opt := range opts {
		opt(g)
	}

	g.logger.Debug("llm gateway initialized",
		"base_url", g.baseURL,
		"model", g.model,
		"max_retries", g.maxRetries)

	return g
}

// Chat sends messages to the chat-completion endpoint and returns the
// first choice's content. opts.Tag identifies the calling subsystem
// (planner, writer, verifier, ...) in logs.
func (g *Gateway) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	requestID := fmt.Sprintf("llm_%d", time.Now().UnixNano())
	start := time.Now()

	if opts.ReasoningEffort == "" {
		opts.ReasoningEffort = "low"
	}
	model := opts.Model
	if model == "" {
		model = g.model
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limit wait failed: %v", errs.ErrTransport, err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			g.logger.Debug("retry backoff", "request_id", requestID, "tag", opts.Tag, "attempt", attempt, "backoff_seconds", backoff.Seconds())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		attemptStart := time.Now()
		g.logger.Debug("sending chat request",
			"request_id", requestID,
			"tag", opts.Tag,
			"attempt", attempt,
			"model", model,
			"message_count", len(messages),
			"reasoning_effort", opts.ReasoningEffort)

		text, retryable, err := g.doRequest(ctx, model, messages, opts)
		duration := time.Since(attemptStart)

		if err == nil {
			g.logger.Info("chat request completed",
				"request_id", requestID,
				"tag", opts.Tag,
				"attempt", attempt,
				"duration_ms", duration.Milliseconds(),
				"total_duration_ms", time.Since(start).Milliseconds(),
				"response_length", len(text))
			return text, nil
		}

		lastErr = err
		if !retryable {
			g.logger.Error("chat request failed (non-retryable)",
				"request_id", requestID, "tag", opts.Tag, "attempt", attempt, "error", err)
			return "", err
		}
		g.logger.Warn("chat request failed, will retry",
			"request_id", requestID, "tag", opts.Tag, "attempt", attempt, "error", err)
	}

	g.logger.Error("chat request failed after max retries",
		"request_id", requestID, "tag", opts.Tag, "max_retries", g.maxRetries, "error", lastErr)
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// doRequest performs one HTTP attempt. The bool return indicates whether
// a non-nil error is retryable.
func (g *Gateway) doRequest(ctx context.Context, model string, messages []Message, opts Options) (string, bool, error) {
	reqBody := chatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: opts.MaxCompletionTokens,
	}
	if opts.ResponseFormat != "" {
		reqBody.ResponseFormat = &responseFormat{Type: opts.ResponseFormat}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("%w: reading response: %v", errs.ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		httpErr := errs.NewHTTPError(resp.StatusCode, string(respBody))
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return "", retryable, httpErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", false, fmt.Errorf("%w: %v", errs.ErrNonJSON, err)
	}
	if len(parsed.Choices) == 0 {
		return "", true, fmt.Errorf("%w: no choices in response", errs.ErrSchema)
	}

	content := parsed.Choices[0].Message.Content
	if opts.ResponseFormat == "json_object" {
		var probe any
		if json.Unmarshal([]byte(content), &probe) != nil {
			return "", false, fmt.Errorf("%w: content is not valid json", errs.ErrNonJSON)
		}
	}

	return content, false, nil
}
