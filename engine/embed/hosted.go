package embed

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"golang.org/x/time/rate"

	"github.com/kbchat-ai/kbchat/engine/domain"
)

// HostedConfig configures the hosted inference provider.
type HostedConfig struct {
	APIKey     string
	BaseURL    string // OpenAI-compatible endpoint (hosted inference gateways included)
	Model      string
	Dimensions int
	// RatePerSec caps embedding calls against the hosted API. Zero disables.
	RatePerSec float64
}

// Hosted embeds text via an OpenAI-compatible embeddings API. The default
// model is a general sentence-embedding model producing 384-dim vectors.
type Hosted struct {
	client  openai.Client
	model   string
	dims    int
	limiter *rate.Limiter
}

const (
	DefaultHostedModel = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultHostedDims  = 384
)

// NewHosted creates a hosted embedding provider.
func NewHosted(cfg HostedConfig) (*Hosted, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embed: hosted provider requires an API key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultHostedModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultHostedDims
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}

	return &Hosted{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		limiter: limiter,
	}, nil
}

// Name implements Provider.
func (h *Hosted) Name() string { return "hosted:" + h.model }

// Dimensions implements Provider.
func (h *Hosted) Dimensions() int { return h.dims }

// Embed implements Provider.
func (h *Hosted) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := h.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Provider.
func (h *Hosted) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := h.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(h.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("embed: hosted request: %w: %w", domain.ErrProviderUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed: hosted returned %d vectors for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		if err := checkDims(h.Name(), h.dims, vec); err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
