// Package embeddings batches text and calls an external embedding
// service, returning aligned vectors (spec §4.3). Its shape descends from
// the teacher's internal/embeddings/ollama.go, generalized from Ollama's
// single-prompt API to a batched, OpenAI-shaped endpoint.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kodeai/knowledge-core/internal/knowledge"
)

// Client generates vector representations for a batch of strings.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type httpClient struct {
	baseURL    string
	model      string
	apiKey     string
	dimensions int
	http       *http.Client
}

// NewClient constructs an embeddings Client backed by an HTTP endpoint
// returning {data:[{embedding:[float…]},…]}, aligned by input position
// (spec §6 "Embedding service" contract).
//
// baseURL may be empty, in which case the provider's default endpoint
// (https://api.openai.com/v1) is used. timeout bounds every request
// (spec §5: "implementations should impose a bounded timeout, e.g. 30–60s").
func NewClient(baseURL, model, apiKey string, dimensions int, timeout time.Duration) Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		dimensions: dimensions,
		http:       &http.Client{Timeout: timeout},
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingDatum struct {
	Embedding []float32 `json:"embedding"`
}

type embeddingResponse struct {
	Data []embeddingDatum `json:"data"`
}

func (c *httpClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	cleaned := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return nil, nil
	}

	if c.apiKey == "" {
		return nil, knowledge.NewEmbeddingConfigError("embedding API key not configured")
	}

	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: cleaned})
	if err != nil {
		return nil, knowledge.NewEmbeddingServiceError("marshal embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, knowledge.NewEmbeddingServiceError("create embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, knowledge.NewEmbeddingServiceError("call embedding service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, knowledge.NewEmbeddingServiceError(
			fmt.Sprintf("embedding service returned status %s", resp.Status), nil)
	}

	var payload embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, knowledge.NewEmbeddingServiceError("decode embedding response", err)
	}

	if len(payload.Data) != len(cleaned) {
		log.Printf("embeddings: service returned %d vectors for %d inputs", len(payload.Data), len(cleaned))
	}

	// Skip entries with an empty/null embedding rather than keeping a
	// zero-length placeholder: callers (the ingestion pipeline's
	// count-mismatch check) rely on every returned vector being a real,
	// usable embedding, so a partial-failure response should shrink the
	// result rather than desynchronize it from its source texts.
	vectors := make([][]float32, 0, len(payload.Data))
	for _, d := range payload.Data {
		if len(d.Embedding) == 0 {
			continue
		}
		vectors = append(vectors, d.Embedding)
	}

	return vectors, nil
}
