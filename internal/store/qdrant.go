package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	cerr "github.com/coderag/coderag/internal/errors"
)

// payloadIDKey holds the caller's record ID inside the qdrant payload,
// since points themselves are keyed by a derived UUID.
const payloadIDKey = "_id"

// QdrantIndex is a narrow facade over a qdrant server. The client is
// shared and thread-safe; the facade adds filter translation, ID
// mapping, and the over-fetch search policy.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

var _ VectorIndex = (*QdrantIndex)(nil)

// NewQdrantIndex connects to the qdrant gRPC endpoint.
func NewQdrantIndex(host string, port int, collection string) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, cerr.DependencyError(cerr.ErrCodeVectorUnavailable,
			fmt.Sprintf("failed to connect to vector store at %s:%d", host, port), err)
	}
	return &QdrantIndex{client: client, collection: collection}, nil
}

// pointID derives a stable UUID point ID from a record ID.
func pointID(id string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String())
}

// EnsureCollection creates the collection with cosine distance if it
// does not exist. Existing collections are left untouched.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, name string, dim int) error {
	if name != "" {
		q.collection = name
	}
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return cerr.DependencyError(cerr.ErrCodeVectorUnavailable, "failed to check collection", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return cerr.DependencyError(cerr.ErrCodeVectorUnavailable, "failed to create collection", err)
	}
	return nil
}

// Upsert inserts or replaces records by derived point ID.
func (q *QdrantIndex) Upsert(ctx context.Context, records []*VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		payload := make(map[string]any, len(rec.Payload)+1)
		for k, v := range rec.Payload {
			payload[k] = v
		}
		payload[payloadIDKey] = rec.ID

		points = append(points, &qdrant.PointStruct{
			Id:      pointID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return cerr.DependencyError(cerr.ErrCodeVectorUnavailable, "upsert failed", err)
	}
	return nil
}

// Search over-fetches k*3 (minimum 50) candidates, post-filters, and
// truncates to k. The backend applies the filter too; the local pass
// guards against backends that filter after top-k selection.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]*RetrievalResult, error) {
	if k <= 0 {
		return nil, cerr.ValidationError(fmt.Sprintf("k must be positive, got %d", k), nil)
	}

	fetch := uint64(k * 3)
	if fetch < 50 {
		fetch = 50
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(fetch),
		Filter:         translateFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, cerr.DependencyError(cerr.ErrCodeVectorUnavailable, "vector search failed", err)
	}

	results := make([]*RetrievalResult, 0, k)
	for _, point := range points {
		payload := payloadToMap(point.Payload)
		if !filter.Empty() && !filter.Matches(payload) {
			continue
		}

		id := payloadString(payload, payloadIDKey)
		if id == "" {
			continue
		}
		delete(payload, payloadIDKey)

		score := float64(point.Score)
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		results = append(results, &RetrievalResult{
			ID:       id,
			Content:  payloadString(payload, "content"),
			Score:    score,
			Source:   SourceVector,
			Metadata: payload,
			FilePath: payloadString(payload, "file_path"),
		})
		if len(results) >= k {
			break
		}
	}
	return results, nil
}

// DeleteByFilter removes matching points and returns how many were
// removed (counted before the delete).
func (q *QdrantIndex) DeleteByFilter(ctx context.Context, filter Filter) (int, error) {
	n, err := q.Count(ctx, filter)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	_, err = q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelectorFilter(translateFilter(filter)),
	})
	if err != nil {
		return 0, cerr.DependencyError(cerr.ErrCodeVectorUnavailable, "delete by filter failed", err)
	}
	return n, nil
}

// Count returns the exact number of matching points.
func (q *QdrantIndex) Count(ctx context.Context, filter Filter) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Filter:         translateFilter(filter),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, cerr.DependencyError(cerr.ErrCodeVectorUnavailable, "count failed", err)
	}
	return int(n), nil
}

// Scroll pages through matching points. Qdrant's native cursor is a
// point ID, so numeric offsets are emulated by fetching offset+limit
// and slicing.
func (q *QdrantIndex) Scroll(ctx context.Context, filter Filter, offset, limit int) ([]*RetrievalResult, error) {
	if limit <= 0 {
		limit = 100
	}

	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Filter:         translateFilter(filter),
		Limit:          qdrant.PtrOf(uint32(offset + limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, cerr.DependencyError(cerr.ErrCodeVectorUnavailable, "scroll failed", err)
	}
	if offset >= len(points) {
		return nil, nil
	}

	results := make([]*RetrievalResult, 0, limit)
	for _, point := range points[offset:] {
		payload := payloadToMap(point.Payload)
		id := payloadString(payload, payloadIDKey)
		delete(payload, payloadIDKey)
		results = append(results, &RetrievalResult{
			ID:       id,
			Content:  payloadString(payload, "content"),
			Source:   SourceVector,
			Metadata: payload,
			FilePath: payloadString(payload, "file_path"),
		})
	}
	return results, nil
}

// Close tears down the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// translateFilter converts the internal filter DSL to the qdrant wire
// form. Nil is returned for an empty filter.
func translateFilter(f Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}

	conds := make([]*qdrant.Condition, 0, len(f.Must))
	for _, c := range f.Must {
		if c.AnyOf != nil {
			if keywords, ok := toStrings(c.AnyOf); ok {
				conds = append(conds, qdrant.NewMatchKeywords(c.Field, keywords...))
				continue
			}
			if ints, ok := toInts(c.AnyOf); ok {
				conds = append(conds, qdrant.NewMatchInts(c.Field, ints...))
				continue
			}
			// Untranslatable membership values cannot match anything;
			// an impossible keyword set keeps the semantics.
			conds = append(conds, qdrant.NewMatchKeywords(c.Field))
			continue
		}

		switch v := c.Value.(type) {
		case string:
			conds = append(conds, qdrant.NewMatch(c.Field, v))
		case bool:
			conds = append(conds, qdrant.NewMatchBool(c.Field, v))
		case int:
			conds = append(conds, qdrant.NewMatchInt(c.Field, int64(v)))
		case int64:
			conds = append(conds, qdrant.NewMatchInt(c.Field, v))
		case float64:
			conds = append(conds, qdrant.NewMatchInt(c.Field, int64(v)))
		default:
			conds = append(conds, qdrant.NewMatch(c.Field, fmt.Sprintf("%v", v)))
		}
	}
	return &qdrant.Filter{Must: conds}
}

func toStrings(values []any) ([]string, bool) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func toInts(values []any) ([]int64, bool) {
	out := make([]int64, 0, len(values))
	for _, v := range values {
		f, ok := toFloat(v)
		if !ok {
			return nil, false
		}
		out = append(out, int64(f))
	}
	return out, true
}

// payloadToMap converts qdrant payload values to plain Go values.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]any, 0, len(items))
		for _, item := range items {
			list = append(list, valueToAny(item))
		}
		return list
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}
