package embed

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
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// Defaults for the Ollama embedding backend. all-minilm is the
// all-MiniLM-L6-v2 family, which produces 384-dimensional vectors.
const (
	DefaultBaseURL   = "http://localhost:11434"
	DefaultModel     = "all-minilm"
	DefaultDimension = 384
	DefaultBatchSize = 32
	defaultTimeout   = 120 * time.Second
)

// OllamaService generates embeddings via an Ollama-compatible HTTP
// endpoint (POST /api/embed with batch input).
type OllamaService struct {
	baseURL    string
	model      string
	dimension  int
	batchSize  int
	httpClient *http.Client
}

// NewOllamaService builds a service from config, filling in defaults
// for any unset field.
func NewOllamaService(cfg *config.EmbeddingsConfig) *OllamaService {
	s := &OllamaService{
		baseURL:   DefaultBaseURL,
		model:     DefaultModel,
		dimension: DefaultDimension,
		batchSize: DefaultBatchSize,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	if cfg == nil {
		return s
	}
	if cfg.BaseURL != "" {
		s.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model != "" {
		s.model = cfg.Model
	}
	if cfg.Dimension > 0 {
		s.dimension = cfg.Dimension
	}
	if cfg.BatchSize > 0 {
		s.batchSize = cfg.BatchSize
	}
	if cfg.TimeoutSeconds > 0 {
		s.httpClient.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return s
}

// embedRequest matches the Ollama /api/embed request format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse matches the Ollama /api/embed response format.
type embedResponse struct {
	Model           string      `json:"model"`
	Embeddings      [][]float32 `json:"embeddings"`
	TotalDuration   int64       `json:"total_duration,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
}

// Init verifies the endpoint is reachable and that the model produces
// vectors of the configured dimension.
func (s *OllamaService) Init(ctx context.Context) error {
	vecs, err := s.request(ctx, []string{"init probe"})
	if err != nil {
		return err
	}
	if len(vecs) != 1 {
		return errors.Newf("model %s returned %d embeddings for a single probe", s.model, len(vecs))
	}
	if len(vecs[0]) != s.dimension {
		return errors.Wrapf(errors.ErrEmbeddingDim,
			"model %s produces %d dimensions, index expects %d", s.model, len(vecs[0]), s.dimension)
	}
	return nil
}

// ModelInfo returns the configured model name and vector dimension.
func (s *OllamaService) ModelInfo() (string, int) {
	return s.model, s.dimension
}

// Embed returns the embedding for a single text.
func (s *OllamaService) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text cannot be empty")
	}
	vecs, err := s.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errors.Newf("model %s returned %d embeddings for one text", s.model, len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch returns one embedding per input text, in order. Inputs are
// sent in batches of the configured size.
func (s *OllamaService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts to embed")
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, errors.Newf("text at index %d is empty", i)
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := s.request(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, errors.Newf("model %s returned %d embeddings for %d texts", s.model, len(vecs), end-start)
		}
		out = append(out, vecs...)
	}

	logger.Debugw(sym.Embed+" Generated embeddings",
		"model", s.model,
		"texts", len(texts),
	)
	return out, nil
}

// Close releases the HTTP client's idle connections.
func (s *OllamaService) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// request posts one batch to /api/embed and validates dimensions.
func (s *OllamaService) request(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: s.model, Input: input})
	if err != nil {
		return nil, errors.Wrap(err, "marshal embed request")
	}

	endpoint := s.baseURL + "/api/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create embed request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrServiceUnavailable, "embedding endpoint %s: %v", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 {
			return nil, errors.Wrapf(errors.ErrServiceUnavailable,
				"embedding endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		return nil, errors.Newf("embedding endpoint returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "decode embed response")
	}
	if len(parsed.Embeddings) == 0 {
		return nil, errors.Newf("model %s returned no embeddings", s.model)
	}
	for i, vec := range parsed.Embeddings {
		if len(vec) != s.dimension {
			return nil, errors.Wrapf(errors.ErrEmbeddingDim,
				"embedding %d has %d dimensions, index expects %d", i, len(vec), s.dimension)
		}
	}
	return parsed.Embeddings, nil
}
