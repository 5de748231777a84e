package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"google.golang.org/api/iterator"
)

const (
	vectorField   = "Embedding"
	distanceField = "Distance"
)

// vectorDoc is the Firestore document representation of model.VectorEntry.
// Embedding is stored as firestore.Vector32 for FindNearest vector search.
type vectorDoc struct {
	ID        string             `firestore:"ID"`
	Embedding firestore.Vector32 `firestore:"Embedding"`
	Metadata  map[string]any     `firestore:"Metadata"`
}

func toVectorDoc(e *model.VectorEntry) *vectorDoc {
	d := &vectorDoc{
		ID:        e.ID,
		Embedding: firestore.Vector32(e.Vector),
		Metadata:  e.Metadata,
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	return d
}

type vectorRepository struct {
	client *firestore.Client
	cols   *collections
}

func newVectorRepository(client *firestore.Client, cols *collections) *vectorRepository {
	return &vectorRepository{client: client, cols: cols}
}

func (r *vectorRepository) Upsert(ctx context.Context, index string, entries []*model.VectorEntry) error {
	coll := r.cols.vectors(index)
	bw := r.client.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(entries))
	for _, e := range entries {
		job, err := bw.Set(coll.Doc(e.ID), toVectorDoc(e))
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue vector upsert", goerr.V(model.IndexNameKey, index), goerr.V("id", e.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to upsert vector", goerr.V(model.IndexNameKey, index), goerr.V("id", entries[i].ID))
		}
	}
	return nil
}

func (r *vectorRepository) Delete(ctx context.Context, index string, ids []string) error {
	coll := r.cols.vectors(index)
	bw := r.client.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(ids))
	for _, id := range ids {
		job, err := bw.Delete(coll.Doc(id))
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue vector delete", goerr.V(model.IndexNameKey, index), goerr.V("id", id))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to delete vector", goerr.V(model.IndexNameKey, index), goerr.V("id", ids[i]))
		}
	}
	return nil
}

func (r *vectorRepository) Query(ctx context.Context, index string, query model.VectorQuery) ([]*model.VectorMatch, error) {
	q := r.cols.vectors(index).Query
	for _, c := range query.Filter.Conditions() {
		q = q.Where("Metadata."+c.Field, string(c.Op), c.Value)
	}

	vq := q.FindNearest(vectorField, firestore.Vector32(query.Vector), query.TopK, firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: distanceField})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	matches := make([]*model.VectorMatch, 0, query.TopK)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate vector search results", goerr.V(model.IndexNameKey, index))
		}

		m, err := docToVectorMatch(doc.Data(), query)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to decode vector search result", goerr.V(model.IndexNameKey, index), goerr.V("id", doc.Ref.ID))
		}
		matches = append(matches, m)
	}

	return matches, nil
}

// docToVectorMatch converts raw search result data. Firestore reports cosine
// distance, which is turned back into a similarity score.
func docToVectorMatch(data map[string]any, query model.VectorQuery) (*model.VectorMatch, error) {
	id, _ := data["ID"].(string)
	if id == "" {
		return nil, goerr.New("vector document has no ID", goerr.T(model.TagCorrupted))
	}

	distance, ok := data[distanceField].(float64)
	if !ok {
		return nil, goerr.New("vector document has no distance", goerr.T(model.TagCorrupted), goerr.V("id", id))
	}

	m := &model.VectorMatch{
		ID:    id,
		Score: 1 - distance,
	}
	if query.IncludeMetadata {
		if md, ok := data["Metadata"].(map[string]any); ok {
			m.Metadata = md
		} else {
			m.Metadata = map[string]any{}
		}
	}
	if query.IncludeVector {
		switch v := data[vectorField].(type) {
		case firestore.Vector32:
			m.Vector = []float32(v)
		case firestore.Vector64:
			m.Vector = make([]float32, len(v))
			for i := range v {
				m.Vector[i] = float32(v[i])
			}
		}
	}
	return m, nil
}
