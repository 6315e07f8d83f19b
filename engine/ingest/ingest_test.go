package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kbchat-ai/kbchat/engine/domain"
)

// stubEmbedder produces deterministic vectors so the pipeline can be checked
// end to end without a model server.
type stubEmbedder struct {
	dims    int
	err     error
	batches [][]string
}

func (s *stubEmbedder) Name() string    { return "stub" }
func (s *stubEmbedder) Dimensions() int { return s.dims }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.batches = append(s.batches, texts)
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = make([]float32, s.dims)
		vecs[i][0] = float32(len(texts[i]))
	}
	return vecs, nil
}

// memStore is an in-memory Store keyed on the exact metadata triple.
type memStore struct {
	existing  map[domain.Entry]bool
	upserts   int
	stored    []domain.Document
	vectors   [][]float32
	upsertErr error
	existsErr error
}

func newMemStore() *memStore {
	return &memStore{existing: make(map[domain.Entry]bool)}
}

func (m *memStore) ExistsByMetadata(_ context.Context, e domain.Entry) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	return m.existing[e], nil
}

func (m *memStore) Upsert(_ context.Context, docs []domain.Document, embeddings [][]float32) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	m.stored = append(m.stored, docs...)
	m.vectors = append(m.vectors, embeddings...)
	for _, d := range docs {
		m.existing[d.Entry()] = true
	}
	return nil
}

func entry(i int) domain.Entry {
	return domain.Entry{
		Category: "General",
		Question: fmt.Sprintf("question %d", i),
		Answer:   fmt.Sprintf("answer %d", i),
	}
}

func TestRun_FreshBatch(t *testing.T) {
	embedder := &stubEmbedder{dims: 4}
	store := newMemStore()
	svc := New(embedder, store, nil)

	entries := []domain.Entry{entry(1), entry(2), entry(3)}
	report, err := svc.Run(context.Background(), entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.AddedCount != 3 || report.DuplicateCount != 0 {
		t.Errorf("report = %+v, want 3 added, 0 duplicates", report)
	}
	if len(store.stored) != 3 || len(store.vectors) != 3 {
		t.Errorf("store holds %d docs / %d vectors, want 3 / 3", len(store.stored), len(store.vectors))
	}
	if store.upserts != 1 {
		t.Errorf("expected a single atomic upsert, got %d", store.upserts)
	}
	// Documents carry the normalized page content and full metadata.
	if store.stored[0].PageContent != "General: question 1 - answer 1" {
		t.Errorf("unexpected page content %q", store.stored[0].PageContent)
	}
	if store.stored[0].Metadata[domain.MetaQuestion] != "question 1" {
		t.Errorf("unexpected metadata %v", store.stored[0].Metadata)
	}
}

func TestRun_CountsAlwaysAddUp(t *testing.T) {
	embedder := &stubEmbedder{dims: 4}
	store := newMemStore()
	store.existing[entry(2)] = true
	svc := New(embedder, store, nil)

	entries := []domain.Entry{entry(1), entry(2), entry(3), entry(1)} // entry(1) repeated in-batch
	report, err := svc.Run(context.Background(), entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := report.AddedCount + report.DuplicateCount; got != len(entries) {
		t.Errorf("added+duplicates = %d, want %d", got, len(entries))
	}
	if report.AddedCount != 2 || report.DuplicateCount != 2 {
		t.Errorf("report = %+v, want 2 added, 2 duplicates", report)
	}
}

func TestRun_AllDuplicatesSoftSuccess(t *testing.T) {
	embedder := &stubEmbedder{dims: 4}
	store := newMemStore()
	svc := New(embedder, store, nil)

	entries := []domain.Entry{entry(1), entry(2)}
	if _, err := svc.Run(context.Background(), entries); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Resubmitting the identical batch succeeds with nothing added.
	report, err := svc.Run(context.Background(), entries)
	if err != nil {
		t.Fatalf("resubmit must be a soft success: %v", err)
	}
	if report.AddedCount != 0 || report.DuplicateCount != 2 {
		t.Errorf("report = %+v, want 0 added, 2 duplicates", report)
	}
	if len(embedder.batches) != 1 {
		t.Errorf("all-duplicate batch must not reach the embedder, got %d batches", len(embedder.batches))
	}
	if store.upserts != 1 {
		t.Errorf("all-duplicate batch must not hit the store, got %d upserts", store.upserts)
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	svc := New(&stubEmbedder{dims: 4}, newMemStore(), nil)
	_, err := svc.Run(context.Background(), nil)
	if !errors.Is(err, domain.ErrNoDocuments) {
		t.Errorf("got %v, want ErrNoDocuments", err)
	}
}

func TestRun_StoreFailureNothingReported(t *testing.T) {
	embedder := &stubEmbedder{dims: 4}
	store := newMemStore()
	store.upsertErr = errors.New("qdrant down")
	svc := New(embedder, store, nil)

	_, err := svc.Run(context.Background(), []domain.Entry{entry(1)})
	if err == nil {
		t.Fatal("expected error from failed upsert")
	}
	if len(store.stored) != 0 {
		t.Errorf("failed batch must store nothing, got %d docs", len(store.stored))
	}
}

func TestRun_DedupCheckFailure(t *testing.T) {
	store := newMemStore()
	store.existsErr = errors.New("count timed out")
	svc := New(&stubEmbedder{dims: 4}, store, nil)

	if _, err := svc.Run(context.Background(), []domain.Entry{entry(1)}); err == nil {
		t.Fatal("expected error from failed duplicate check")
	}
}

func TestRun_BatchesLargeInput(t *testing.T) {
	embedder := &stubEmbedder{dims: 4}
	store := newMemStore()
	svc := New(embedder, store, nil)

	entries := make([]domain.Entry, EmbedBatchSize+5)
	for i := range entries {
		entries[i] = entry(i)
	}
	report, err := svc.Run(context.Background(), entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.AddedCount != len(entries) {
		t.Errorf("added %d, want %d", report.AddedCount, len(entries))
	}
	if len(embedder.batches) != 2 {
		t.Fatalf("got %d embed batches, want 2", len(embedder.batches))
	}
	if len(embedder.batches[0]) != EmbedBatchSize || len(embedder.batches[1]) != 5 {
		t.Errorf("batch sizes %d/%d, want %d/5", len(embedder.batches[0]), len(embedder.batches[1]), EmbedBatchSize)
	}
	// Still one upsert for the whole batch.
	if store.upserts != 1 {
		t.Errorf("expected a single upsert, got %d", store.upserts)
	}
}
