package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/kbchat-ai/kbchat/engine/domain"
)

// fakePoints stubs the Qdrant points API. Unstubbed methods panic via the
// embedded nil interface, which is fine: a test reaching them is a bug.
type fakePoints struct {
	pb.PointsClient

	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error

	countReq  *pb.CountPoints
	countN    uint64
	countErr  error

	upsertReq *pb.UpsertPoints
	upsertErr error
}

func (f *fakePoints) Search(_ context.Context, req *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.searchReq = req
	return f.searchResp, f.searchErr
}

func (f *fakePoints) Count(_ context.Context, req *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	f.countReq = req
	if f.countErr != nil {
		return nil, f.countErr
	}
	return &pb.CountResponse{Result: &pb.CountResult{Count: f.countN}}, nil
}

func (f *fakePoints) Upsert(_ context.Context, req *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.upsertReq = req
	return &pb.PointsOperationResponse{}, f.upsertErr
}

func testStore(points pb.PointsClient, dims int) *VectorStore {
	return &VectorStore{points: points, collection: "documents", dims: dims}
}

func TestUpsert_BuildsPoints(t *testing.T) {
	fake := &fakePoints{}
	store := testStore(fake, 3)

	doc := domain.NewDocument(domain.Entry{Category: "Visa", Question: "q", Answer: "a"})
	err := store.Upsert(context.Background(), []domain.Document{doc}, [][]float32{{1, 2, 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := fake.upsertReq
	if req.GetCollectionName() != "documents" {
		t.Errorf("collection = %q", req.GetCollectionName())
	}
	if req.Wait == nil || !*req.Wait {
		t.Error("upsert must wait for completion")
	}
	if len(req.GetPoints()) != 1 {
		t.Fatalf("got %d points", len(req.GetPoints()))
	}
	p := req.GetPoints()[0]
	if p.GetPayload()[payloadContent].GetStringValue() != doc.PageContent {
		t.Errorf("payload content = %v", p.GetPayload()[payloadContent])
	}
	if p.GetPayload()[payloadCategory].GetStringValue() != "Visa" {
		t.Errorf("payload category = %v", p.GetPayload()[payloadCategory])
	}
	if p.GetId().GetUuid() == "" {
		t.Error("expected a UUID point id")
	}
}

func TestUpsert_DeterministicIDs(t *testing.T) {
	fake := &fakePoints{}
	store := testStore(fake, 2)
	doc := domain.NewDocument(domain.Entry{Category: "c", Question: "q", Answer: "a"})

	if err := store.Upsert(context.Background(), []domain.Document{doc}, [][]float32{{1, 2}}); err != nil {
		t.Fatal(err)
	}
	first := fake.upsertReq.GetPoints()[0].GetId().GetUuid()

	if err := store.Upsert(context.Background(), []domain.Document{doc}, [][]float32{{3, 4}}); err != nil {
		t.Fatal(err)
	}
	second := fake.upsertReq.GetPoints()[0].GetId().GetUuid()

	if first != second {
		t.Errorf("same content produced different point ids: %s vs %s", first, second)
	}
}

func TestUpsert_RejectsWrongDims(t *testing.T) {
	fake := &fakePoints{}
	store := testStore(fake, 384)

	err := store.Upsert(context.Background(),
		[]domain.Document{{PageContent: "x"}}, [][]float32{{1, 2, 3}})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("got %v, want ErrDimensionMismatch", err)
	}
	if fake.upsertReq != nil {
		t.Error("bad vectors must be rejected before the store call")
	}
}

func TestUpsert_LengthMismatch(t *testing.T) {
	store := testStore(&fakePoints{}, 2)
	err := store.Upsert(context.Background(),
		[]domain.Document{{PageContent: "a"}, {PageContent: "b"}}, [][]float32{{1, 2}})
	if err == nil {
		t.Error("expected error for docs/embeddings length mismatch")
	}
}

func TestUpsert_EmptyIsNoop(t *testing.T) {
	fake := &fakePoints{}
	store := testStore(fake, 2)
	if err := store.Upsert(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}
	if fake.upsertReq != nil {
		t.Error("empty upsert must not hit the store")
	}
}

func TestSearch_MapsPayload(t *testing.T) {
	fake := &fakePoints{searchResp: &pb.SearchResponse{
		Result: []*pb.ScoredPoint{
			{
				Score: 0.92,
				Payload: map[string]*pb.Value{
					payloadContent:  {Kind: &pb.Value_StringValue{StringValue: "Visa: q - a"}},
					payloadCategory: {Kind: &pb.Value_StringValue{StringValue: "Visa"}},
					payloadQuestion: {Kind: &pb.Value_StringValue{StringValue: "q"}},
					payloadAnswer:   {Kind: &pb.Value_StringValue{StringValue: "a"}},
				},
			},
		},
	}}
	store := testStore(fake, 2)

	hits, err := store.Search(context.Background(), []float32{1, 2}, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits", len(hits))
	}
	if hits[0].PageContent != "Visa: q - a" {
		t.Errorf("page content = %q", hits[0].PageContent)
	}
	if hits[0].Metadata[payloadCategory] != "Visa" {
		t.Errorf("metadata = %v", hits[0].Metadata)
	}
	if _, leaked := hits[0].Metadata[payloadContent]; leaked {
		t.Error("content must not leak into metadata")
	}
	if hits[0].Score != 0.92 {
		t.Errorf("score = %v", hits[0].Score)
	}
	if fake.searchReq.GetLimit() != 4 {
		t.Errorf("limit = %d", fake.searchReq.GetLimit())
	}
}

func TestSearch_RejectsWrongDims(t *testing.T) {
	fake := &fakePoints{}
	store := testStore(fake, 384)

	_, err := store.Search(context.Background(), []float32{1, 2, 3}, 4)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("got %v, want ErrDimensionMismatch", err)
	}
	if fake.searchReq != nil {
		t.Error("bad query vector must be rejected before the store call")
	}
}

func TestExistsByMetadata(t *testing.T) {
	fake := &fakePoints{countN: 1}
	store := testStore(fake, 2)

	exists, err := store.ExistsByMetadata(context.Background(),
		domain.Entry{Category: "c", Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("expected exists = true for count > 0")
	}
	req := fake.countReq
	if req.Exact == nil || !*req.Exact {
		t.Error("duplicate check must use an exact count")
	}
	if len(req.GetFilter().GetMust()) != 3 {
		t.Errorf("got %d filter conditions, want 3", len(req.GetFilter().GetMust()))
	}

	fake.countN = 0
	exists, err = store.ExistsByMetadata(context.Background(), domain.Entry{})
	if err != nil || exists {
		t.Errorf("got exists=%v err=%v, want false, nil", exists, err)
	}
}

func TestPing(t *testing.T) {
	fake := &fakePoints{}
	store := testStore(fake, 2)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fake.countErr = errors.New("unreachable")
	if err := store.Ping(context.Background()); err == nil {
		t.Error("expected error when the store is unreachable")
	}
}
