package llm

import (
	"context"
	"fmt"
	"net/http"
)

// ModelInfo is one entry of the /v1/models listing.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelsResponse represents the response from the /v1/models endpoint.
type ModelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// ListModels returns the models served by the completion endpoint.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	url := fmt.Sprintf("%s/v1/models", c.BaseURL)

	var modelsResp ModelsResponse
	if err := c.http.do(ctx, http.MethodGet, url, c.APIKey, nil, &modelsResp); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return modelsResp.Data, nil
}

// Ping checks that the completion endpoint answers and serves the configured model.
// Servers that host a single model often report it under a different ID, so an
// unknown model only fails when the listing is non-empty and the model is absent.
func (c *Client) Ping(ctx context.Context) error {
	models, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return nil
	}
	for _, m := range models {
		if m.ID == c.Model {
			return nil
		}
	}
	return fmt.Errorf("model %q not served by %s", c.Model, c.BaseURL)
}
