package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kbchat-ai/kbchat/engine/domain"
)

// Ollama embeds text via a local Ollama server's HTTP API. The default model
// is a document-retrieval-oriented model producing 768-dim vectors.
type Ollama struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

const (
	DefaultOllamaModel = "nomic-embed-text"
	DefaultOllamaDims  = 768
)

// NewOllama creates an Ollama embedding provider. Zero-value model and dims
// fall back to the defaults above.
func NewOllama(baseURL, model string, dims int) *Ollama {
	if model == "" {
		model = DefaultOllamaModel
	}
	if dims == 0 {
		dims = DefaultOllamaDims
	}
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{},
	}
}

// Name implements Provider.
func (o *Ollama) Name() string { return "ollama:" + o.model }

// Dimensions implements Provider.
func (o *Ollama) Dimensions() int { return o.dims }

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements Provider.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(ollamaEmbedReq{Model: o.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: ollama request: %w: %w", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("embed: ollama status %d: %w", resp.StatusCode, domain.ErrProviderUnavailable)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embed: ollama decode: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	if err := checkDims(o.Name(), o.dims, out); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedBatch implements Provider. Ollama has no batch endpoint; texts are
// embedded sequentially and the batch fails on the first error.
func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := o.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
