package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

type vectorRepository struct {
	mu      sync.RWMutex
	indexes map[string]map[string]*model.VectorEntry
}

func newVectorRepository() *vectorRepository {
	return &vectorRepository{
		indexes: make(map[string]map[string]*model.VectorEntry),
	}
}

func (r *vectorRepository) Upsert(ctx context.Context, index string, entries []*model.VectorEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.indexes[index]; !exists {
		r.indexes[index] = make(map[string]*model.VectorEntry)
	}
	for _, e := range entries {
		if e.ID == "" {
			return goerr.New("vector ID is empty", goerr.T(model.TagValidation), goerr.V(model.IndexNameKey, index))
		}
		r.indexes[index][e.ID] = e.Copy()
	}
	return nil
}

func (r *vectorRepository) Delete(ctx context.Context, index string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.indexes[index]
	for _, id := range ids {
		delete(bucket, id)
	}
	return nil
}

func (r *vectorRepository) Query(ctx context.Context, index string, query model.VectorQuery) ([]*model.VectorMatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.indexes[index]
	matches := make([]*model.VectorMatch, 0, len(bucket))
	for _, e := range bucket {
		if len(e.Vector) != len(query.Vector) {
			continue
		}
		if query.Filter != nil && !query.Filter.Match(e.Metadata) {
			continue
		}

		copied := e.Copy()
		m := &model.VectorMatch{
			ID:    e.ID,
			Score: cosineSimilarity(query.Vector, e.Vector),
		}
		if query.IncludeMetadata {
			m.Metadata = copied.Metadata
		}
		if query.IncludeVector {
			m.Vector = copied.Vector
		}
		matches = append(matches, m)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if query.TopK > 0 && len(matches) > query.TopK {
		matches = matches[:query.TopK]
	}
	return matches, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}

	return dot / denom
}
