package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPEmbedder calls a generic embeddings endpoint:
// POST {"input": "..."} -> {"embedding": [...]}. The model behind the
// endpoint is the caller's business.
type HTTPEmbedder struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPEmbedder(endpoint string, timeout time.Duration) *HTTPEmbedder {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEmbedder{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	payload, err := json.Marshal(embedRequest{Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embeddings endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings endpoint: status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embeddings endpoint returned empty vector")
	}
	return out.Embedding, nil
}
