// Package retrieval turns a query into grounding context: it embeds the
// query, runs similarity search, and concatenates the matched documents. One
// call yields both the context blob for the prompt and the raw documents for
// citations, so the chain never retrieves twice per question.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kbchat-ai/kbchat/engine/domain"
	"github.com/kbchat-ai/kbchat/engine/embed"
)

// DefaultTopK is the number of nearest neighbours fetched per query.
const DefaultTopK = 4

// Searcher abstracts vector similarity search.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]domain.ScoredDocument, error)
}

// Result is the outcome of one retrieval: the combined context for the
// answer prompt and the matched documents for citation.
type Result struct {
	Context   string
	Documents []domain.Document
}

// Retriever fetches top-k documents for a query.
type Retriever struct {
	provider embed.Provider
	search   Searcher
	topK     int
	logger   *slog.Logger
}

// New creates a Retriever. topK <= 0 falls back to DefaultTopK.
func New(provider embed.Provider, search Searcher, topK int, logger *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{provider: provider, search: search, topK: topK, logger: logger}
}

// Retrieve embeds the query and returns combined context plus the matched
// documents from a single search.
func (r *Retriever) Retrieve(ctx context.Context, query string) (Result, error) {
	vec, err := r.provider.Embed(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("retrieval: embed query: %w", err)
	}

	hits, err := r.search.Search(ctx, vec, r.topK)
	if err != nil {
		return Result{}, fmt.Errorf("retrieval: search: %w", err)
	}
	r.logger.Info("retrieval done", "hits", len(hits), "top_k", r.topK)

	docs := make([]domain.Document, len(hits))
	parts := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Document
		parts[i] = h.PageContent
	}

	return Result{
		Context:   strings.Join(parts, "\n\n"),
		Documents: docs,
	}, nil
}
