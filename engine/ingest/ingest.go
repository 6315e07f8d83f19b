// Package ingest provides the ingestion pipeline that turns uploaded tabular
// data or manual entries into stored, embedded documents: parse, normalize,
// deduplicate, embed, persist.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kbchat-ai/kbchat/engine/domain"
	"github.com/kbchat-ai/kbchat/engine/embed"
	"github.com/kbchat-ai/kbchat/pkg/fn"
)

// EmbedBatchSize is the max documents per embedding request.
const EmbedBatchSize = 100

// Store is the vector store surface ingestion needs.
type Store interface {
	ExistsByMetadata(ctx context.Context, e domain.Entry) (bool, error)
	Upsert(ctx context.Context, docs []domain.Document, embeddings [][]float32) error
}

// Service runs ingestion batches.
type Service struct {
	embedder embed.Provider
	store    Store
	logger   *slog.Logger

	embedAndStore fn.Stage[partitioned, Report]
}

// New creates the ingestion service.
func New(embedder embed.Provider, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{embedder: embedder, store: store, logger: logger}

	// Embed → Store, with the model-layer retry policy around embedding.
	embedStage := fn.RetryStage(fn.ModelRetry, newEmbedStage(embedder))
	s.embedAndStore = fn.Then(
		fn.Then(loggedTap[partitioned]("embed", logger), embedStage),
		fn.Then(loggedTap[embedded]("store", logger), newStoreStage(store)),
	)
	return s
}

// Run ingests a batch of entries. Every entry is normalized into the document
// shape, checked against the store for an exact metadata duplicate, and only
// fresh documents are embedded and persisted, as one atomic upsert. A batch
// of nothing but duplicates is a soft success reporting zero additions.
func (s *Service) Run(ctx context.Context, entries []domain.Entry) (Report, error) {
	if len(entries) == 0 {
		return Report{}, fmt.Errorf("ingest: %w", domain.ErrNoDocuments)
	}

	docs := make([]domain.Document, len(entries))
	for i, e := range entries {
		docs[i] = domain.NewDocument(e)
	}

	part, err := s.dedup(ctx, docs)
	if err != nil {
		return Report{}, err
	}
	if len(part.fresh) == 0 {
		s.logger.Info("ingest: all duplicates", "submitted", len(docs))
		return Report{AddedCount: 0, DuplicateCount: part.dupes}, nil
	}

	report, err := s.embedAndStore(ctx, part).Unwrap()
	if err != nil {
		return Report{}, err
	}

	s.logger.Info("ingest: batch done", "added", report.AddedCount, "duplicates", report.DuplicateCount)
	return report, nil
}

// dedup classifies each candidate as fresh or duplicate with one store query
// per document, sequentially. Sequential checks keep duplicate detection free
// of read-after-write races within a batch.
func (s *Service) dedup(ctx context.Context, docs []domain.Document) (partitioned, error) {
	var part partitioned
	seen := make(map[string]bool, len(docs))
	for _, doc := range docs {
		// Within-batch duplicates count as duplicates too.
		key := doc.PageContent
		if seen[key] {
			part.dupes++
			continue
		}
		seen[key] = true

		exists, err := s.store.ExistsByMetadata(ctx, doc.Entry())
		if err != nil {
			return partitioned{}, fmt.Errorf("ingest: dedup check: %w", err)
		}
		if exists {
			part.dupes++
		} else {
			part.fresh = append(part.fresh, doc)
		}
	}
	return part, nil
}

// newEmbedStage embeds fresh documents in batches of EmbedBatchSize.
func newEmbedStage(embedder embed.Provider) fn.Stage[partitioned, embedded] {
	return func(ctx context.Context, part partitioned) fn.Result[embedded] {
		vectors := make([][]float32, 0, len(part.fresh))
		for i := 0; i < len(part.fresh); i += EmbedBatchSize {
			end := min(i+EmbedBatchSize, len(part.fresh))
			texts := make([]string, end-i)
			for j, d := range part.fresh[i:end] {
				texts[j] = d.PageContent
			}
			vecs, err := embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return fn.Err[embedded](fmt.Errorf("embed batch: %w", err))
			}
			vectors = append(vectors, vecs...)
		}
		return fn.Ok(embedded{partitioned: part, vectors: vectors})
	}
}

// newStoreStage persists the embedded documents as one batch.
func newStoreStage(store Store) fn.Stage[embedded, Report] {
	return func(ctx context.Context, e embedded) fn.Result[Report] {
		if err := store.Upsert(ctx, e.fresh, e.vectors); err != nil {
			return fn.Err[Report](fmt.Errorf("vector upsert: %w", err))
		}
		return fn.Ok(Report{AddedCount: len(e.fresh), DuplicateCount: e.dupes})
	}
}

// loggedTap logs entry/exit of a stage with duration.
func loggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Info("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Info("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}
