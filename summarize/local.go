package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/errors"
)

const (
	// DefaultLocalBaseURL matches a local Ollama install.
	DefaultLocalBaseURL = "http://localhost:11434"

	// DefaultLocalModel is used when no local model is configured.
	DefaultLocalModel = "qwen2.5:7b"

	defaultLocalTimeout = 300 * time.Second
)

// LocalProvider talks to an OpenAI-compatible chat endpoint served by a
// local runtime such as Ollama.
type LocalProvider struct {
	baseURL    string
	model      string
	numCtx     *int
	httpClient *http.Client
}

// NewLocalProvider builds a provider from configuration, filling in
// defaults for anything unset.
func NewLocalProvider(cfg *config.LocalInferenceConfig) *LocalProvider {
	p := &LocalProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		numCtx:     cfg.ContextSize,
		httpClient: &http.Client{Timeout: defaultLocalTimeout},
	}
	if p.baseURL == "" {
		p.baseURL = DefaultLocalBaseURL
	}
	if p.model == "" {
		p.model = DefaultLocalModel
	}
	if cfg.TimeoutSeconds > 0 {
		p.httpClient.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return p
}

// Name implements Provider.
func (p *LocalProvider) Name() string { return "local" }

// Model implements Provider.
func (p *LocalProvider) Model() string { return p.model }

// EstimateCost implements Provider. Local inference is free.
func (p *LocalProvider) EstimateCost(promptTokens, completionTokens int) float64 {
	return 0.0
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// completionOpts carries Ollama-specific knobs through the
// OpenAI-compatible endpoint.
type completionOpts struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"num_predict,omitempty"`
	NumCtx      *int     `json:"num_ctx,omitempty"`
}

type chatCompletionRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *completionOpts `json:"options,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat implements Provider.
func (p *LocalProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserPrompt})

	body := chatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != nil || req.MaxTokens != nil || p.numCtx != nil {
		body.Options = &completionOpts{
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			NumCtx:      p.numCtx,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrServiceUnavailable,
			"local inference at %s: %v", p.baseURL, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, errors.Newf("local inference returned status %d: %s",
			httpResp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("local inference response contained no choices")
	}
	return &Response{
		Content:          parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}
