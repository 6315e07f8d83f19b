// Package semantic owns all Qdrant operations: similarity search, batch
// upsert, metadata existence checks, and collection management. One
// VectorStore is bound to one collection whose dimensionality must match the
// embedding provider paired with it.
package semantic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kbchat-ai/kbchat/engine/domain"
)

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
// dims is the dimensionality of the paired embedding provider; vectors of any
// other length are rejected before they reach the store.
func New(addr, collection string, dims int) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

// Collection returns the bound collection name.
func (v *VectorStore) Collection() string { return v.collection }

// Dimensions returns the vector length this store accepts.
func (v *VectorStore) Dimensions() int { return v.dims }

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(v.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// DeleteCollection drops the bound collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

func (v *VectorStore) checkDims(vec []float32) error {
	if len(vec) != v.dims {
		return fmt.Errorf("semantic: vector has %d dims, collection %s expects %d: %w",
			len(vec), v.collection, v.dims, domain.ErrDimensionMismatch)
	}
	return nil
}

// Upsert persists documents with their embeddings as one batch. The write
// waits for completion so a reported success means every point landed; a
// failed call writes nothing the caller should treat as stored.
func (v *VectorStore) Upsert(ctx context.Context, docs []domain.Document, embeddings [][]float32) error {
	if len(docs) == 0 {
		return nil
	}
	if len(docs) != len(embeddings) {
		return fmt.Errorf("semantic: %d documents but %d embeddings", len(docs), len(embeddings))
	}

	points := make([]*pb.PointStruct, len(docs))
	for i, doc := range docs {
		if err := v.checkDims(embeddings[i]); err != nil {
			return err
		}

		payload := map[string]*pb.Value{
			payloadContent: {Kind: &pb.Value_StringValue{StringValue: doc.PageContent}},
		}
		for k, val := range doc.Metadata {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
		}

		// Deterministic ID from content so re-inserting the exact same
		// document overwrites rather than multiplies.
		pointID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(v.collection+":"+doc.PageContent)).String()

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: embeddings[i]},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(docs), err)
	}
	return nil
}

// Search performs k-NN similarity search and returns matched documents with
// scores, highest similarity first.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]domain.ScoredDocument, error) {
	if err := v.checkDims(embedding); err != nil {
		return nil, err
	}

	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]domain.ScoredDocument, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		doc := domain.Document{Metadata: make(map[string]string)}
		for k, val := range r.GetPayload() {
			s := val.GetStringValue()
			if k == payloadContent {
				doc.PageContent = s
			} else {
				doc.Metadata[k] = s
			}
		}
		results[i] = domain.ScoredDocument{Document: doc, Score: r.GetScore()}
	}
	return results, nil
}

// ExistsByMetadata reports whether a document with exactly the given
// category, question, and answer is already stored. Used by ingestion for
// duplicate detection.
func (v *VectorStore) ExistsByMetadata(ctx context.Context, e domain.Entry) (bool, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Exact:          &exact,
		Filter: &pb.Filter{
			Must: []*pb.Condition{
				fieldMatch(payloadCategory, e.Category),
				fieldMatch(payloadQuestion, e.Question),
				fieldMatch(payloadAnswer, e.Answer),
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("semantic: count by metadata: %w", err)
	}
	return resp.GetResult().GetCount() > 0, nil
}

// Ping performs a trivial count against the collection. Used by the
// keep-alive endpoint to prevent idle suspension of managed deployments.
func (v *VectorStore) Ping(ctx context.Context) error {
	exact := false
	_, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Exact:          &exact,
	})
	if err != nil {
		return fmt.Errorf("semantic: ping: %w", err)
	}
	return nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
