package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

func runVectorRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	const index = "test_index"

	seed := func(t *testing.T, repo interfaces.Repository) {
		t.Helper()
		gt.NoError(t, repo.Vector().Upsert(context.Background(), index, []*model.VectorEntry{
			{ID: "a", Vector: []float32{1, 0, 0}, Metadata: map[string]any{model.MetaContent: "alpha", model.MetaUserID: "u1"}},
			{ID: "b", Vector: []float32{0.9, 0.1, 0}, Metadata: map[string]any{model.MetaContent: "beta", model.MetaUserID: "u2"}},
			{ID: "c", Vector: []float32{0, 1, 0}, Metadata: map[string]any{model.MetaContent: "gamma", model.MetaUserID: "u1"}},
		})).Required()
	}

	t.Run("Query orders by similarity", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		matches, err := repo.Vector().Query(context.Background(), index, model.VectorQuery{
			Vector:          []float32{1, 0, 0},
			TopK:            2,
			IncludeMetadata: true,
		})
		gt.NoError(t, err).Required()
		gt.Array(t, matches).Length(2).Required()
		gt.Value(t, matches[0].ID).Equal("a")
		gt.Value(t, matches[1].ID).Equal("b")
		gt.Bool(t, matches[0].Score >= matches[1].Score).True()
		gt.Value(t, matches[0].Content()).Equal("alpha")
		gt.Value(t, matches[0].Vector).Nil()
	})

	t.Run("Query applies filter", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		matches, err := repo.Vector().Query(context.Background(), index, model.VectorQuery{
			Vector:          []float32{1, 0, 0},
			TopK:            5,
			IncludeMetadata: true,
			Filter:          &model.VectorFilter{UserID: "u1"},
		})
		gt.NoError(t, err).Required()
		gt.Array(t, matches).Length(2).Required()
		for _, m := range matches {
			gt.Value(t, model.MetadataString(m.Metadata, model.MetaUserID)).Equal("u1")
		}
	})

	t.Run("Upsert replaces and Delete removes", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		seed(t, repo)

		gt.NoError(t, repo.Vector().Upsert(ctx, index, []*model.VectorEntry{
			{ID: "c", Vector: []float32{1, 0, 0}, Metadata: map[string]any{model.MetaContent: "gamma v2"}},
		})).Required()
		gt.NoError(t, repo.Vector().Delete(ctx, index, []string{"a", "missing"})).Required()

		matches, err := repo.Vector().Query(ctx, index, model.VectorQuery{
			Vector:          []float32{1, 0, 0},
			TopK:            1,
			IncludeMetadata: true,
			IncludeVector:   true,
		})
		gt.NoError(t, err).Required()
		gt.Array(t, matches).Length(1).Required()
		gt.Value(t, matches[0].ID).Equal("c")
		gt.Value(t, matches[0].Content()).Equal("gamma v2")
		gt.Array(t, matches[0].Vector).Length(3)
	})

	t.Run("time range filter", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := model.NormalizeTime(time.Now())

		gt.NoError(t, repo.Vector().Upsert(ctx, index, []*model.VectorEntry{
			{ID: "old", Vector: []float32{1, 0}, Metadata: map[string]any{model.MetaTimestamp: now.Add(-2 * time.Hour)}},
			{ID: "new", Vector: []float32{1, 0}, Metadata: map[string]any{model.MetaTimestamp: now}},
		})).Required()

		matches, err := repo.Vector().Query(ctx, index, model.VectorQuery{
			Vector: []float32{1, 0},
			TopK:   5,
			Filter: &model.VectorFilter{From: now.Add(-time.Hour)},
		})
		gt.NoError(t, err).Required()
		gt.Array(t, matches).Length(1).Required()
		gt.Value(t, matches[0].ID).Equal("new")
	})
}

func TestMemoryVectorRepository(t *testing.T) {
	runVectorRepositoryTest(t, newMemoryRepository)
}

func TestFirestoreVectorRepository(t *testing.T) {
	runVectorRepositoryTest(t, newFirestoreRepository)
}
