// Package embed provides text embedding providers. Two interchangeable
// implementations exist: a hosted OpenAI-compatible inference API and a local
// Ollama server. Each provider has a fixed dimensionality and is paired with
// exactly one vector collection; documents are only ever matched against
// queries embedded by the same provider.
package embed

import (
	"context"
	"fmt"

	"github.com/kbchat-ai/kbchat/engine/domain"
)

// Provider converts text to fixed-dimensionality vectors.
type Provider interface {
	// Name identifies the provider in logs and the probe endpoint.
	Name() string
	// Dimensions is the vector length this provider produces.
	Dimensions() int
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts in order. Fails as a whole on the first error.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// checkDims enforces the provider's declared dimensionality. A mismatch means
// the provider configuration points at the wrong model and must fail loudly
// rather than silently degrade retrieval.
func checkDims(name string, want int, vec []float32) error {
	if len(vec) != want {
		return fmt.Errorf("embed: %s returned %d dims, want %d: %w",
			name, len(vec), want, domain.ErrDimensionMismatch)
	}
	return nil
}
