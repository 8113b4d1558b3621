// Package llm talks to the model runtime sidecar. Every completion in
// the pipeline goes through here; callers depend on the Completer
// interface so tests can script responses.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/metrics"
	"github.com/meridian-lab/fathom/internal/resilience"
	"github.com/meridian-lab/fathom/internal/tracing"
)

// Completer is the seam the pipeline depends on.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Config holds client settings. Zero values fall back to sensible
// defaults in NewClient.
type Config struct {
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	Timeout      time.Duration
}

// CompletionRequest describes one model call.
type CompletionRequest struct {
	Prompt       string
	SystemPrompt string
	// Model overrides the client default when set.
	Model       string
	MaxTokens   int
	Temperature float64
	// Purpose identifies the call site; it becomes the agent_id on the
	// wire and the purpose label on metrics.
	Purpose   string
	SessionID string
}

// CompletionResponse is the parsed sidecar reply.
type CompletionResponse struct {
	Text       string
	Citations  []Citation
	TokensUsed int
	Model      string
}

// Citation is a source reference attached by the sidecar.
type Citation struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
}

// Client is the HTTP implementation of Completer.
type Client struct {
	cfg    Config
	httpc  *http.Client
	logger *zap.Logger
}

// NewClient builds a client for the sidecar at cfg.BaseURL.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Complete sends one completion request and parses the reply.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	purpose := req.Purpose
	if purpose == "" {
		purpose = "research"
	}
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	body := map[string]interface{}{
		"query":       req.Prompt,
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
		"agent_id":    purpose,
		"model":       model,
		"context": map[string]interface{}{
			"system_prompt": req.SystemPrompt,
			"session_id":    req.SessionID,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling completion request: %w", err)
	}

	url := c.cfg.BaseURL + "/agent/query"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Agent-ID", purpose)
	if req.SessionID != "" {
		httpReq.Header.Set("X-Session-ID", req.SessionID)
	}
	tracing.InjectTraceparent(ctx, httpReq)

	start := time.Now()
	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		metrics.LLMCalls.WithLabelValues(purpose, "error").Inc()
		return nil, &resilience.TransientNetworkError{Op: "llm complete", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.LLMCalls.WithLabelValues(purpose, "error").Inc()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resilience.HTTPStatusError("llm", resp.StatusCode, string(raw))
	}

	var wire completionWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		metrics.LLMCalls.WithLabelValues(purpose, "error").Inc()
		return nil, fmt.Errorf("parsing completion response: %w", err)
	}
	if !wire.Success {
		metrics.LLMCalls.WithLabelValues(purpose, "error").Inc()
		if wire.Error != "" {
			return nil, fmt.Errorf("llm sidecar rejected request: %s", wire.Error)
		}
		return nil, fmt.Errorf("llm sidecar rejected request")
	}

	metrics.LLMCalls.WithLabelValues(purpose, "ok").Inc()
	metrics.LLMTokensUsed.Observe(float64(wire.TokensUsed))

	c.logger.Debug("Completion finished",
		zap.String("purpose", purpose),
		zap.String("model", wire.ModelUsed),
		zap.Int("tokens_used", wire.TokensUsed),
		zap.Duration("elapsed", time.Since(start)))

	out := &CompletionResponse{
		Text:       wire.Response,
		Citations:  wire.Citations,
		TokensUsed: wire.TokensUsed,
		Model:      wire.ModelUsed,
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

// Health probes the sidecar health endpoint. Any 2xx counts as healthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("llm sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("llm sidecar health returned %d", resp.StatusCode)
	}
	return nil
}

// completionWire mirrors the sidecar's reply envelope.
type completionWire struct {
	Success    bool       `json:"success"`
	Response   string     `json:"response"`
	Error      string     `json:"error"`
	Citations  []Citation `json:"citations"`
	TokensUsed int        `json:"tokens_used"`
	ModelUsed  string     `json:"model_used"`
}
