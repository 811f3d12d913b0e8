// Package providers implements ports.EmbeddingProvider and ports.LLMProvider
// over a generic JSON-over-HTTP contract, parameterized per upstream
// provider (openai, gemini, anthropic, openrouter) so one client
// implementation serves all four, adapted from the teacher's
// internal/embeddings/openai_service.go single-provider HTTP client.
package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Spec is the per-provider wiring a Client needs: endpoint shape, auth
// header, and request/response (de)serialization. Each upstream
// provider gets one Spec; the HTTP call path in client.go is shared.
type Spec struct {
	Name             string
	BaseURL          string
	EmbeddingsPath   string
	ChatPath         string
	ModelsPath       string
	Dimensions       map[string]int
	DefaultDimension int

	AuthHeader         func(apiKey string) (name, value string)
	BuildEmbedRequest  func(model string, texts []string) ([]byte, error)
	ParseEmbedResponse func(body []byte) ([][]float32, error)
	BuildChatRequest   func(model, prompt string, maxTokens int, temperature float64) ([]byte, error)
	ParseChatResponse  func(body []byte) (string, error)
	ParseModelsResponse func(body []byte) ([]string, error)
}

// Dimension returns the known embedding dimension for model, falling
// back to the provider's default when the model is unrecognized.
func (s Spec) Dimension(model string) int {
	if d, ok := s.Dimensions[model]; ok {
		return d
	}
	return s.DefaultDimension
}

// bearerAuth is the Authorization: Bearer <key> scheme used by openai,
// anthropic's x-api-key cousin aside, and openrouter.
func bearerAuth(apiKey string) (string, string) {
	return "Authorization", "Bearer " + apiKey
}

// OpenAISpec wires the OpenAI /v1/embeddings and /v1/chat/completions
// contract, the shape the teacher's openai_service.go already spoke.
func OpenAISpec() Spec {
	return Spec{
		Name:             "openai",
		BaseURL:          "https://api.openai.com/v1",
		EmbeddingsPath:   "/embeddings",
		ChatPath:         "/chat/completions",
		ModelsPath:       "/models",
		Dimensions:       map[string]int{"text-embedding-ada-002": 1536, "text-embedding-3-small": 1536, "text-embedding-3-large": 3072},
		DefaultDimension: 1536,
		AuthHeader:       bearerAuth,
		BuildEmbedRequest: func(model string, texts []string) ([]byte, error) {
			return json.Marshal(map[string]interface{}{"model": model, "input": texts})
		},
		ParseEmbedResponse: parseOpenAIEmbedResponse,
		BuildChatRequest: func(model, prompt string, maxTokens int, temperature float64) ([]byte, error) {
			return json.Marshal(map[string]interface{}{
				"model":       model,
				"messages":    []map[string]string{{"role": "user", "content": prompt}},
				"max_tokens":  maxTokens,
				"temperature": temperature,
			})
		},
		ParseChatResponse:   parseOpenAIChatResponse,
		ParseModelsResponse: parseOpenAIModelsResponse,
	}
}

// OpenRouterSpec reuses the OpenAI wire format: OpenRouter is an
// OpenAI-compatible proxy over multiple upstream model providers.
func OpenRouterSpec() Spec {
	s := OpenAISpec()
	s.Name = "openrouter"
	s.BaseURL = "https://openrouter.ai/api/v1"
	s.Dimensions = nil
	s.DefaultDimension = 1536
	return s
}

// GeminiSpec wires Google's Generative Language API, which takes the API
// key in an x-goog-api-key header instead of a bearer header (ListModels
// also passes it as a query-string key) and uses a different envelope
// for both embeddings and generation.
func GeminiSpec() Spec {
	return Spec{
		Name:             "gemini",
		BaseURL:          "https://generativelanguage.googleapis.com/v1beta",
		EmbeddingsPath:   "/models/{model}:embedContent",
		ChatPath:         "/models/{model}:generateContent",
		ModelsPath:       "/models",
		Dimensions:       map[string]int{"text-embedding-004": 768},
		DefaultDimension: 768,
		AuthHeader: func(apiKey string) (string, string) {
			// Gemini accepts the key as a header too, avoiding a query-string
			// secret in logs/middleware that only inspect headers.
			return "x-goog-api-key", apiKey
		},
		BuildEmbedRequest: func(model string, texts []string) ([]byte, error) {
			if len(texts) != 1 {
				return nil, fmt.Errorf("gemini embedContent takes exactly one text per call, got %d", len(texts))
			}
			return json.Marshal(map[string]interface{}{
				"model":   "models/" + model,
				"content": map[string]interface{}{"parts": []map[string]string{{"text": texts[0]}}},
			})
		},
		ParseEmbedResponse: parseGeminiEmbedResponse,
		BuildChatRequest: func(model, prompt string, maxTokens int, temperature float64) ([]byte, error) {
			return json.Marshal(map[string]interface{}{
				"contents": []map[string]interface{}{{"parts": []map[string]string{{"text": prompt}}}},
				"generationConfig": map[string]interface{}{
					"maxOutputTokens": maxTokens,
					"temperature":     temperature,
				},
			})
		},
		ParseChatResponse:   parseGeminiChatResponse,
		ParseModelsResponse: parseGeminiModelsResponse,
	}
}

// AnthropicSpec wires the Claude Messages API.
func AnthropicSpec() Spec {
	return Spec{
		Name:             "anthropic",
		BaseURL:          "https://api.anthropic.com/v1",
		ChatPath:         "/messages",
		ModelsPath:       "/models",
		DefaultDimension: 0, // anthropic has no embeddings endpoint; see DESIGN.md
		AuthHeader: func(apiKey string) (string, string) {
			return "x-api-key", apiKey
		},
		BuildChatRequest: func(model, prompt string, maxTokens int, temperature float64) ([]byte, error) {
			if maxTokens <= 0 {
				maxTokens = 1024
			}
			return json.Marshal(map[string]interface{}{
				"model":       model,
				"max_tokens":  maxTokens,
				"temperature": temperature,
				"messages":    []map[string]string{{"role": "user", "content": prompt}},
			})
		},
		ParseChatResponse:   parseAnthropicChatResponse,
		ParseModelsResponse: parseAnthropicModelsResponse,
	}
}

func parseOpenAIEmbedResponse(body []byte) ([][]float32, error) {
	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse openai embed response: %w", err)
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func parseOpenAIChatResponse(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse openai chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat response had no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func parseOpenAIModelsResponse(body []byte) ([]string, error) {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse openai models response: %w", err)
	}
	out := make([]string, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.ID
	}
	return out, nil
}

func parseGeminiEmbedResponse(body []byte) ([][]float32, error) {
	var resp struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse gemini embed response: %w", err)
	}
	return [][]float32{resp.Embedding.Values}, nil
}

func parseGeminiChatResponse(body []byte) (string, error) {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse gemini chat response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini chat response had no candidates")
	}
	var buf bytes.Buffer
	for _, p := range resp.Candidates[0].Content.Parts {
		buf.WriteString(p.Text)
	}
	return buf.String(), nil
}

func parseGeminiModelsResponse(body []byte) ([]string, error) {
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse gemini models response: %w", err)
	}
	out := make([]string, len(resp.Models))
	for i, m := range resp.Models {
		out[i] = m.Name
	}
	return out, nil
}

func parseAnthropicChatResponse(body []byte) (string, error) {
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse anthropic chat response: %w", err)
	}
	var buf bytes.Buffer
	for _, c := range resp.Content {
		buf.WriteString(c.Text)
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("anthropic chat response had no content")
	}
	return buf.String(), nil
}

func parseAnthropicModelsResponse(body []byte) ([]string, error) {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse anthropic models response: %w", err)
	}
	out := make([]string, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.ID
	}
	return out, nil
}
