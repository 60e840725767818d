package memory

import (
	"context"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/mnemora/mnemora-core/pkg/clients/qdrant"
	merr "github.com/mnemora/mnemora-core/pkg/errors"
	"github.com/mnemora/mnemora-core/pkg/models"
)

// DefaultCollection is the Qdrant collection memory vectors live in.
const DefaultCollection = "mnemora_memories"

// payload field names stored alongside each vector. user_id carries the
// ownership filter; kind and session_id support future filtered recall.
const (
	payloadUserID    = "user_id"
	payloadKind      = "kind"
	payloadSessionID = "session_id"
)

// QdrantIndex implements [VectorIndex] on the platform Qdrant client.
// Every point carries the owning user ID in its payload, and every search
// and bulk delete filters on it, so one user's vectors are invisible to
// another's queries.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantIndex wraps an existing Qdrant client. An empty collection
// selects DefaultCollection.
func NewQdrantIndex(client *qdrant.Client, collection string) *QdrantIndex {
	if collection == "" {
		collection = DefaultCollection
	}
	return &QdrantIndex{client: client, collection: collection}
}

// EnsureCollection creates the backing collection if it does not already
// exist. vectorSize must match the embedder's output dimension.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == q.collection {
			return nil
		}
	}
	return q.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     vectorSize,
			Distance: pb.Distance_Cosine,
		}),
	})
}

// Index stores or replaces the vector for a record. The point ID is the
// memory ID, so re-indexing the same record overwrites in place.
func (q *QdrantIndex) Index(ctx context.Context, rec *models.MemoryRecord, vector []float32) error {
	if len(vector) == 0 {
		return merr.Newf(merr.CodeValidation, "memory: empty vector for %s", rec.ID)
	}
	payload := map[string]any{
		payloadUserID: rec.UserID,
		payloadKind:   string(rec.Kind),
	}
	if rec.SessionID != "" {
		payload[payloadSessionID] = rec.SessionID
	}
	_, err := q.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Points: []*pb.PointStruct{
			{
				Id:      pb.NewID(rec.ID),
				Vectors: pb.NewVectors(vector...),
				Payload: pb.NewValueMap(payload),
			},
		},
	})
	return err
}

// Search returns up to limit matches owned by the user, best first.
func (q *QdrantIndex) Search(ctx context.Context, userID string, vector []float32, limit int) ([]Match, error) {
	max := uint64(limit)
	points, err := q.client.Search(ctx, &pb.QueryPoints{
		CollectionName: q.collection,
		Query:          pb.NewQuery(vector...),
		Limit:          &max,
		Filter:         userFilter(userID),
	})
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(points))
	for _, p := range points {
		matches = append(matches, Match{
			MemoryID: p.GetId().GetUuid(),
			Score:    p.GetScore(),
		})
	}
	return matches, nil
}

// Remove drops the vectors for the given memory IDs.
func (q *QdrantIndex) Remove(ctx context.Context, memoryIDs ...string) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	ids := make([]*pb.PointId, 0, len(memoryIDs))
	for _, id := range memoryIDs {
		ids = append(ids, pb.NewID(id))
	}
	_, err := q.client.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		},
	})
	return err
}

// RemoveUser drops every vector belonging to the user via a payload
// filter delete.
func (q *QdrantIndex) RemoveUser(ctx context.Context, userID string) error {
	_, err := q.client.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: userFilter(userID),
			},
		},
	})
	return err
}

// userFilter restricts an operation to points owned by userID.
func userFilter(userID string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: payloadUserID,
						Match: &pb.Match{
							MatchValue: &pb.Match_Keyword{Keyword: userID},
						},
					},
				},
			},
		},
	}
}
