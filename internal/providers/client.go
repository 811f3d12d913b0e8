package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ragcore/internal/circuitbreaker"
	"ragcore/internal/logging"
	"ragcore/internal/ports"
	"ragcore/internal/retry"
)

// Client implements ports.EmbeddingProvider and ports.LLMProvider against
// one upstream provider's Spec, with every outbound call wrapped in the
// same retry-then-circuit-breaker composition the teacher's
// embeddings package applies via retry_wrapper.go/circuit_breaker_wrapper.go.
type Client struct {
	spec       Spec
	httpClient *http.Client
	log        logging.Logger
	retrier    *retry.Retrier
	cb         *circuitbreaker.CircuitBreaker
}

// NewClient constructs a provider client. Nil retryCfg/cbCfg fall back to
// package defaults.
func NewClient(spec Spec, httpClient *http.Client, retryCfg *retry.Config, cbCfg *circuitbreaker.Config, log logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if retryCfg == nil {
		retryCfg = defaultRetryConfig()
	}
	if cbCfg == nil {
		cbCfg = circuitbreaker.DefaultConfig()
	}
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Client{
		spec:       spec,
		httpClient: httpClient,
		log:        log,
		retrier:    retry.New(retryCfg),
		cb:         circuitbreaker.New(cbCfg),
	}
}

func defaultRetryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts:     3,
		InitialDelay:    time.Second,
		MaxDelay:        10 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         isRetryableProviderError,
	}
}

func isRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection reset", "connection refused", "rate limit", "429", "503", "502"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// doJSON issues a JSON POST/GET, through retry + circuit breaker, and
// returns the raw response body.
func (c *Client) doJSON(ctx context.Context, method, path, apiKey string, body []byte) ([]byte, error) {
	var respBody []byte
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		res := c.retrier.Do(ctx, func(ctx context.Context) error {
			b, err := c.rawDo(ctx, method, path, apiKey, body)
			if err != nil {
				return err
			}
			respBody = b
			return nil
		})
		return res.Err
	})
	return respBody, err
}

func (c *Client) rawDo(ctx context.Context, method, path, apiKey string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.spec.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.spec.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.spec.AuthHeader != nil {
		name, value := c.spec.AuthHeader(apiKey)
		req.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.spec.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.spec.Name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: api error (status %d): %s", c.spec.Name, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// GenerateEmbeddings generates embeddings for up to 100 texts in one
// upstream call (§6 contract); providers that only embed one text per
// call (gemini) are invoked once per text transparently.
func (c *Client) GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error) {
	if c.spec.BuildEmbedRequest == nil {
		return nil, fmt.Errorf("%s: embeddings not supported", c.spec.Name)
	}
	if len(texts) > 100 {
		return nil, fmt.Errorf("%s: batch of %d exceeds the 100-text limit", c.spec.Name, len(texts))
	}

	if c.spec.Name == "gemini" {
		out := make([][]float32, 0, len(texts))
		for _, t := range texts {
			vecs, err := c.embedOne(ctx, model, t, apiKey)
			if err != nil {
				return nil, err
			}
			out = append(out, vecs...)
		}
		return out, nil
	}

	return c.embedOne(ctx, model, "", apiKey, texts...)
}

func (c *Client) embedOne(ctx context.Context, model, single, apiKey string, batch ...string) ([][]float32, error) {
	texts := batch
	if single != "" {
		texts = []string{single}
	}
	reqBody, err := c.spec.BuildEmbedRequest(model, texts)
	if err != nil {
		return nil, fmt.Errorf("%s: build embed request: %w", c.spec.Name, err)
	}

	path := resolveModelPath(c.spec.EmbeddingsPath, model)
	respBody, err := c.doJSON(ctx, http.MethodPost, path, apiKey, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: generate embeddings: %w", c.spec.Name, err)
	}
	return c.spec.ParseEmbedResponse(respBody)
}

func resolveModelPath(path, model string) string {
	return strings.ReplaceAll(path, "{model}", model)
}

// ValidateKey performs the lightweight "list models" validation call
// spec §4.1 prescribes. Any failure, including a provider-reported
// rejection, returns false together with the underlying error so callers
// can classify it themselves.
func (c *Client) ValidateKey(ctx context.Context, apiKey string) (bool, error) {
	_, err := c.ListModels(ctx, apiKey)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListModels lists the models available to apiKey.
func (c *Client) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	if c.spec.ParseModelsResponse == nil {
		return nil, fmt.Errorf("%s: list models not supported", c.spec.Name)
	}
	path := c.spec.ModelsPath
	if c.spec.Name == "gemini" {
		path = path + "?key=" + apiKey
	}
	body, err := c.doJSON(ctx, http.MethodGet, path, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: list models: %w", c.spec.Name, err)
	}
	return c.spec.ParseModelsResponse(body)
}

// GetDimension returns the known embedding dimension for model.
func (c *Client) GetDimension(model string) int {
	return c.spec.Dimension(model)
}

// Generate produces one LLM completion for prompt.
func (c *Client) Generate(ctx context.Context, model, prompt, apiKey string, cfg *ports.GenerationConfig) (string, error) {
	if c.spec.BuildChatRequest == nil {
		return "", fmt.Errorf("%s: generation not supported", c.spec.Name)
	}
	maxTokens, temperature := 1024, 0.7
	if cfg != nil {
		if cfg.MaxTokens > 0 {
			maxTokens = cfg.MaxTokens
		}
		temperature = cfg.Temperature
	}

	reqBody, err := c.spec.BuildChatRequest(model, prompt, maxTokens, temperature)
	if err != nil {
		return "", fmt.Errorf("%s: build chat request: %w", c.spec.Name, err)
	}

	path := resolveModelPath(c.spec.ChatPath, model)
	respBody, err := c.doJSON(ctx, http.MethodPost, path, apiKey, reqBody)
	if err != nil {
		return "", fmt.Errorf("%s: generate: %w", c.spec.Name, err)
	}
	return c.spec.ParseChatResponse(respBody)
}

var (
	_ ports.EmbeddingProvider = (*Client)(nil)
	_ ports.LLMProvider       = (*Client)(nil)
)
