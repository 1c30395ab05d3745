package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/internal/httpclient"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

const (
	// DefaultAnthropicModel is used when no model is configured.
	DefaultAnthropicModel = "claude-sonnet-4-20250514"

	anthropicBaseURL    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"

	defaultTemperature = 0.2
	defaultMaxTokens   = 1024

	anthropicTimeout = 120 * time.Second

	// maxAttempts bounds retries on rate limits and server errors.
	maxAttempts = 3
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	baseURL     string
	httpClient  *http.Client

	// retryDelay is the base backoff between attempts. Tests shrink it.
	retryDelay time.Duration
}

// NewAnthropicProvider builds a provider from configuration, filling in
// defaults for anything unset. The HTTP client carries SSRF protection
// since the endpoint is remote and fixed.
func NewAnthropicProvider(cfg *config.AnthropicConfig) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		baseURL:     anthropicBaseURL,
		httpClient:  httpclient.NewSaferClient(anthropicTimeout).Client,
		retryDelay:  time.Second,
	}
	if p.model == "" {
		p.model = DefaultAnthropicModel
	}
	if cfg.Temperature != nil {
		p.temperature = *cfg.Temperature
	}
	if cfg.MaxTokens != nil {
		p.maxTokens = *cfg.MaxTokens
	}
	return p
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model implements Provider.
func (p *AnthropicProvider) Model() string { return p.model }

// EstimateCost implements Provider.
func (p *AnthropicProvider) EstimateCost(promptTokens, completionTokens int) float64 {
	return CalculateCost(p.model, promptTokens, completionTokens)
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

// apiError is a non-2xx response from the API.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("anthropic API returned status %d: %s", e.status, e.body)
}

// Chat implements Provider. Rate limits, server errors, and timeouts
// are retried with exponential backoff up to maxAttempts.
func (p *AnthropicProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	if p.apiKey == "" {
		return nil, errors.New("anthropic API key not configured")
	}

	body := messagesRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		System:      req.SystemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.UserPrompt},
		},
	}
	if req.Temperature != nil {
		body.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		body.MaxTokens = *req.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.retryDelay << (attempt - 2)
			logger.Debugw(sym.Prose+" Retrying Anthropic request",
				"attempt", attempt,
				"delay", delay.String(),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "anthropic request cancelled")
			}
		}

		resp, err := p.send(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, classify(lastErr)
}

func (p *AnthropicProvider) send(ctx context.Context, payload []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic request failed")
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &apiError{status: httpResp.StatusCode, body: strings.TrimSpace(string(raw))}
	}

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("anthropic response contained no text content")
	}
	return &Response{
		Content:          text.String(),
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
	}, nil
}

// retryable reports whether an error is worth another attempt: rate
// limits, server-side failures, and network timeouts.
func retryable(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.status == http.StatusTooManyRequests || apiErr.status >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classify marks exhausted errors with the matching sentinel so callers
// can gate on rate limits and outages without string matching.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.status == http.StatusTooManyRequests:
			return errors.Mark(err, errors.ErrRateLimited)
		case apiErr.status >= 500:
			return errors.Mark(err, errors.ErrServiceUnavailable)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Mark(err, errors.ErrServiceUnavailable)
	}
	return err
}
