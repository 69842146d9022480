package llm

import (
	"context"
	"fmt"
	"net/http"
)

// EmbeddingsClient is a client for an OpenAI-compatible embeddings API.
type EmbeddingsClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	ExpectedSize int // Expected vector size; 0 accepts whatever the provider returns
	http         *transport
}

// NewEmbeddingsClient creates a new embeddings client.
// When expectedSize is positive, every returned embedding is validated against it.
func NewEmbeddingsClient(baseURL, apiKey, model string, expectedSize int, opts ...Option) *EmbeddingsClient {
	return &EmbeddingsClient{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Model:        model,
		ExpectedSize: expectedSize,
		http:         newTransport(opts),
	}
}

// EmbeddingsRequest represents the request payload for embeddings API.
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingData represents a single embedding in the response.
type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// EmbeddingsResponse represents the response from the embeddings API.
type EmbeddingsResponse struct {
	Data []EmbeddingData `json:"data"`
}

// Embed generates the embedding of a single text.
func (c *EmbeddingsClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts generates embeddings for the given texts, one per input in input order.
// All vectors in one response must share a dimension.
func (c *EmbeddingsClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty input array")
	}

	url := fmt.Sprintf("%s/v1/embeddings", c.BaseURL)

	payload := EmbeddingsRequest{
		Model: c.Model,
		Input: texts,
	}

	var embeddingsResp EmbeddingsResponse
	if err := c.http.do(ctx, http.MethodPost, url, c.APIKey, payload, &embeddingsResp); err != nil {
		return nil, err
	}

	if len(embeddingsResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embeddingsResp.Data))
	}

	// Providers may return data out of order; place each entry by its index when all indexes are valid.
	ordered := make([]*EmbeddingData, len(texts))
	for i := range embeddingsResp.Data {
		data := &embeddingsResp.Data[i]
		if data.Index < 0 || data.Index >= len(texts) || ordered[data.Index] != nil {
			ordered = nil
			break
		}
		ordered[data.Index] = data
	}
	if ordered == nil {
		ordered = make([]*EmbeddingData, len(texts))
		for i := range embeddingsResp.Data {
			ordered[i] = &embeddingsResp.Data[i]
		}
	}

	want := c.ExpectedSize
	result := make([][]float32, len(ordered))
	for i, data := range ordered {
		if len(data.Embedding) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", i)
		}
		if want == 0 {
			want = len(data.Embedding)
		}
		if len(data.Embedding) != want {
			return nil, fmt.Errorf("embedding %d has size %d, expected %d", i, len(data.Embedding), want)
		}

		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		result[i] = vec
	}

	return result, nil
}
